package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Load reads .chainreview.json5 from path, overlaying it onto Default(). A
// missing file is not an error: it means all-defaults, per §6.1.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Watch installs an fsnotify watcher on path's containing directory and
// hot-reloads cfg in place whenever the file changes, mirroring the
// teacher's fsnotify-driven config watch. Returns the watcher so the caller
// can Close it at shutdown; reload errors are logged and otherwise ignored
// so a transient malformed write never brings down a running review.
func Watch(path string, cfg *Config) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config watch: %w", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					slog.Warn("config.reload_failed", "error", err)
					continue
				}
				cfg.replaceFrom(reloaded)
				slog.Info("config.reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.watch_error", "error", err)
			}
		}
	}()

	return watcher, nil
}
