package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce collapses editor write storms into one reload.
const defaultDebounce = 250 * time.Millisecond

// Watcher reloads the configuration file on change, debounced, and
// hands each successfully loaded config to the reload callback. A
// config that fails to load or validate is logged and skipped; the
// running config stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Watch starts watching path. The callback runs on the watcher's
// goroutine.
func Watch(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors and config rollouts typically
	// replace the file rather than writing it in place.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		debounce: defaultDebounce,
		watcher:  fsw,
		onReload: onReload,
		logger:   slog.Default().With("component", "config_watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config",
			"path", w.path,
			"error", err,
		)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
	w.onReload(cfg)
}
