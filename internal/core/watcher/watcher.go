// Package watcher turns file system notifications into change events on
// the index queue.
package watcher

import (
	"codegraph/internal/core/ports"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Options struct {
	// Root is the project directory; events carry paths relative to it.
	Root     string
	Debounce time.Duration
	Filter   ports.PathFilter
	// Supported reports whether a relative path is a parseable source file.
	Supported func(rel string) bool
	Queue     ports.ChangeQueue
}

// Watcher debounces notifications, hashes the changed files and enqueues
// one event per file whose content differs from what was last sent.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	filter    ports.PathFilter
	supported func(string) bool
	queue     ports.ChangeQueue
	flushMu   sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]struct{}
	rescans   map[string]struct{}
	timer     *time.Timer
	sent      map[string]string

	done chan struct{}
	wg   sync.WaitGroup
}

func New(opts Options) (*Watcher, error) {
	if opts.Queue == nil || opts.Supported == nil {
		return nil, os.ErrInvalid
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsw,
		root:      root,
		debounce:  opts.Debounce,
		filter:    opts.Filter,
		supported: opts.Supported,
		queue:     opts.Queue,
		pending:   make(map[string]struct{}),
		rescans:   make(map[string]struct{}),
		sent:      make(map[string]string),
		done:      make(chan struct{}),
	}, nil
}

func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.debounce = debounce
}

// Start registers every non-excluded directory under the root and begins
// forwarding events until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchRecursive(w.root); err != nil {
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	slog.Info("watching project", "root", w.root)
	return nil
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = util.NormalizePatternPath(filepath.ToSlash(rel))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (w *Watcher) skipDir(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return true
	}
	return rel != "" && w.filter != nil && w.filter.SkipDir(rel)
}

func (w *Watcher) wants(rel string) bool {
	if !w.supported(rel) {
		return false
	}
	return w.filter == nil || w.filter.IncludeFile(rel)
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			// Kernel queue overflow loses events; rescan everything.
			slog.Error("watcher error", "error", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.scheduleRescan("")
			}

		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, ok := w.rel(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.skipDir(event.Name) {
				return
			}
			if err := w.watchRecursive(event.Name); err != nil {
				slog.Warn("failed to watch new directory", "path", rel, "error", err)
			}
			// Files may have landed before the directory was registered.
			w.scheduleRescan(rel)
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if w.wants(rel) {
		w.scheduleChange(rel)
		return
	}
	// A removed path we cannot classify may have been a directory.
	if (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && !w.supported(rel) {
		w.scheduleRescan(rel)
	}
}

func (w *Watcher) scheduleChange(rel string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.pending[rel] = struct{}{}
	w.resetTimerLocked()
}

func (w *Watcher) scheduleRescan(rel string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.rescans[rel] = struct{}{}
	w.resetTimerLocked()
}

func (w *Watcher) resetTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Flush)
}

// Flush sends pending changes now instead of waiting for the debounce.
func (w *Watcher) Flush() {
	w.pendingMu.Lock()
	paths := util.SortedStringKeys(w.pending)
	rescans := util.SortedStringKeys(w.rescans)
	w.pending = make(map[string]struct{})
	w.rescans = make(map[string]struct{})
	w.pendingMu.Unlock()

	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	for _, dir := range rescans {
		w.queue.RequestRescan(dir)
	}
	for _, rel := range paths {
		w.send(rel)
	}
}

// send enqueues rel unless its content matches the last event sent.
func (w *Watcher) send(rel string) {
	content, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read changed file", "path", rel, "error", err)
			return
		}
		delete(w.sent, rel)
		w.enqueue(ports.ChangeEvent{Path: rel, Deleted: true})
		return
	}
	hash := util.ContentHash(content)
	if w.sent[rel] == hash {
		slog.Log(context.Background(), observability.LevelTrace, "skipping unchanged file", "path", rel)
		return
	}
	if w.enqueue(ports.ChangeEvent{Path: rel, Content: content, Hash: hash}) {
		w.sent[rel] = hash
	} else {
		delete(w.sent, rel)
	}
}

func (w *Watcher) enqueue(ev ports.ChangeEvent) bool {
	if w.queue.Enqueue(ev) == ports.EnqueueDropped {
		slog.Warn("change queue full, directory will be rescanned", "path", ev.Path)
		return false
	}
	return true
}

// Pending lists the paths waiting for the debounce timer, sorted.
func (w *Watcher) Pending() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return util.SortedStringKeys(w.pending)
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()

	select {
	case <-w.done:
	default:
		close(w.done)
	}
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
