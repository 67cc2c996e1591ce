package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
bridge:
  url: wss://bridge.example.com/ws
  token: abc123
  auto_connect: true
  backoff_base: 1s
  backoff_max: 10s
terminal:
  max_lines: 2000
  max_bytes: 1048576
logging:
  level: debug
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.URL != "wss://bridge.example.com/ws" {
		t.Errorf("url = %q", cfg.Bridge.URL)
	}
	if !cfg.Bridge.AutoConnect {
		t.Error("auto_connect not parsed")
	}
	if time.Duration(cfg.Bridge.BackoffBase) != time.Second || time.Duration(cfg.Bridge.BackoffMax) != 10*time.Second {
		t.Errorf("backoff = %v/%v", cfg.Bridge.BackoffBase, cfg.Bridge.BackoffMax)
	}
	if cfg.Terminal.MaxLines != 2000 {
		t.Errorf("max_lines = %d", cfg.Terminal.MaxLines)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validYAML)
	t.Setenv("GANGWAY_BRIDGE_URL", "wss://other.example.com/ws")
	t.Setenv("GANGWAY_BRIDGE_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.URL != "wss://other.example.com/ws" {
		t.Errorf("url = %q, env override ignored", cfg.Bridge.URL)
	}
	if cfg.Bridge.Token != "env-token" {
		t.Errorf("token = %q, env override ignored", cfg.Bridge.Token)
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "terminal:\n  max_lines: 10\n")
	if _, err := Load(path); err == nil {
		t.Error("config without bridge.url validated")
	}

	path = writeConfig(t, t.TempDir(), "bridge:\n  url: ws://x\n  backoff_base: 30s\n  backoff_max: 1s\n")
	if _, err := Load(path); err == nil {
		t.Error("backoff_base above backoff_max validated")
	}
}

func TestWatchDeliversValidReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(cfg *Config) { got <- cfg })

	// Let the watcher install before mutating the file.
	time.Sleep(100 * time.Millisecond)

	// Invalid intermediate state: must be skipped, not delivered.
	os.WriteFile(path, []byte("bridge:\n  url: ''\n"), 0644)
	time.Sleep(300 * time.Millisecond)

	next := "bridge:\n  url: wss://rotated.example.com/ws\n  token: rotated\n"
	os.WriteFile(path, []byte(next), 0644)

	select {
	case cfg := <-got:
		if cfg.Bridge.URL != "wss://rotated.example.com/ws" {
			t.Errorf("reloaded url = %q", cfg.Bridge.URL)
		}
		if cfg.Bridge.Token != "rotated" {
			t.Errorf("reloaded token = %q", cfg.Bridge.Token)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reload")
	}
}
