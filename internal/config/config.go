package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with yaml support for "1s"-style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config represents the application configuration
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Terminal TerminalConfig `yaml:"terminal"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type BridgeConfig struct {
	URL         string   `yaml:"url"`
	Token       string   `yaml:"token"`
	ClientID    string   `yaml:"client_id"`
	AutoConnect bool     `yaml:"auto_connect"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
	MaxAttempts int      `yaml:"max_attempts"`
	SendRate    float64  `yaml:"send_rate"` // outbound frames/sec, 0 = unlimited
}

type TerminalConfig struct {
	MaxLines int `yaml:"max_lines"`
	MaxBytes int `yaml:"max_bytes"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"` // sqlite file; empty disables the archive
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	if url := os.Getenv("GANGWAY_BRIDGE_URL"); url != "" {
		cfg.Bridge.URL = url
	}
	if token := os.Getenv("GANGWAY_BRIDGE_TOKEN"); token != "" {
		cfg.Bridge.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required")
	}
	if c.Bridge.BackoffBase < 0 || c.Bridge.BackoffMax < 0 {
		return fmt.Errorf("bridge backoff durations must be non-negative")
	}
	if c.Bridge.BackoffMax > 0 && c.Bridge.BackoffBase > c.Bridge.BackoffMax {
		return fmt.Errorf("bridge.backoff_base must not exceed bridge.backoff_max")
	}
	if c.Terminal.MaxLines < 0 || c.Terminal.MaxBytes < 0 {
		return fmt.Errorf("terminal caps must be non-negative")
	}
	return nil
}
