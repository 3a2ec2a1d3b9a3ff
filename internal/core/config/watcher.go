package config

import (
	"codegraph/internal/shared/util"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a configuration file when its content changes and hands
// each valid result to the callback. An invalid edit is logged and the last
// good configuration stays in effect. Saves that leave the bytes unchanged
// are ignored.
type Watcher struct {
	path     string
	callback func(*Config)

	mu       sync.Mutex
	lastHash string
	current  *Config

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(path string, callback func(*Config)) *Watcher {
	w := &Watcher{path: path, callback: callback}
	if data, err := os.ReadFile(path); err == nil {
		w.lastHash = util.ContentHash(data)
	}
	return w
}

// Start watches the file's directory so editors that save by rename are
// seen. It returns once the watch is established.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, fw)
	slog.Debug("watching config file", "path", w.path)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer fw.Close()

	target := filepath.Clean(w.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "path", w.path, "error", err)
		case <-timer.C:
			w.reload()
		case <-ctx.Done():
			return
		}
	}
}

// Current returns the last configuration the watcher accepted, or nil
// before the first reload.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the watch and waits for the loop to exit. It is safe to call
// more than once, and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel == nil {
			return
		}
		w.cancel()
		<-w.done
	})
}

// reload reports whether a new configuration was handed to the callback.
func (w *Watcher) reload() bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config reload skipped", "path", w.path, "error", err)
		return false
	}
	hash := util.ContentHash(data)

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("ignoring invalid config change", "path", w.path, "error", err)
		return false
	}
	ApplyEnvOverrides(cfg)

	w.mu.Lock()
	w.lastHash = hash
	w.current = cfg
	w.mu.Unlock()

	if w.callback != nil {
		w.callback(cfg)
	}
	return true
}
