package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle absorbs the burst of events editors emit for a single save.
const reloadSettle = 250 * time.Millisecond

// Watcher reloads the config file when it changes and hands the freshly
// parsed config to onChange. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	onChange func(*Config)
	fw       *fsnotify.Watcher
}

// NewWatcher watches the directory holding path (so atomic renames are seen).
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	return &Watcher{path: path, onChange: onChange, fw: fw}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()

	target := filepath.Clean(w.path)
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				settle = time.After(reloadSettle)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		case <-settle:
			settle = nil
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload rejected", "path", w.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", w.path)
			w.onChange(cfg)
		}
	}
}
