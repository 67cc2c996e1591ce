package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file changes on disk and delivers
// each valid result to onChange. A reload that fails to parse or validate
// is logged and skipped, so a half-written file never replaces a good
// config. Blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and config tools replace
	// the file by rename, which drops a direct file watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors fire several events per save.
			pending = time.After(100 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "err", err)
		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("config reload skipped", "err", err)
				continue
			}
			onChange(cfg)
		}
	}
}
