// Package app wires the fact store, updater, query engine and result cache
// into one running index, and owns its background workers.
package app

import (
	"codegraph/internal/core/config"
	"codegraph/internal/core/watcher"
	"codegraph/internal/data/facts"
	"codegraph/internal/data/queue"
	"codegraph/internal/engine/cache"
	"codegraph/internal/engine/parser"
	"codegraph/internal/engine/query"
	"codegraph/internal/engine/updater"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type App struct {
	Config  *config.Config
	Paths   config.ResolvedPaths
	Store   *facts.Store
	Parser  *parser.Parser
	Updater *updater.Updater
	Queue   *queue.MemoryQueue

	filter  *config.PathFilter
	cache   *cache.Cache
	service *Service

	mu           sync.Mutex
	workerCancel context.CancelFunc
	workerDone   chan struct{}
	gcCancel     context.CancelFunc
	gcDone       chan struct{}
	watcher      *watcher.Watcher
	cfgWatcher   *config.Watcher
}

// New builds an index for cfg. base anchors relative paths when cfg was not
// loaded from a file. A configured storage path restores the previous index
// from SQLite; "-" keeps it in memory.
func New(ctx context.Context, cfg *config.Config, base string) (*App, error) {
	paths, err := config.ResolvePaths(cfg, base)
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	filter, err := cfg.Filter()
	if err != nil {
		return nil, err
	}
	p, err := parser.New(cfg.Languages.Enabled)
	if err != nil {
		return nil, err
	}

	store := facts.NewStore()
	if paths.StoragePath != "" {
		persister, err := facts.OpenSQLitePersister(paths.StoragePath)
		if err != nil {
			return nil, err
		}
		store, err = facts.OpenStore(ctx, persister)
		if err != nil {
			_ = persister.Close()
			return nil, err
		}
		slog.Info("restored index", "path", paths.StoragePath, "revision", store.CurrentRevision())
	}

	up := updater.New(store, p, updater.Options{
		Root:    paths.ProjectRoot,
		Filter:  filter,
		Threads: cfg.Performance.Threads,
	})
	results := cache.New(store, cfg.Query.CacheSize)
	up.AddListener(results)

	engine := query.NewEngine(store, query.Limits{
		Timeout:  cfg.Query.Timeout,
		MaxDepth: cfg.Query.MaxDepth,
		MaxNodes: cfg.Query.MaxNodes,
	})

	a := &App{
		Config:  cfg,
		Paths:   paths,
		Store:   store,
		Parser:  p,
		Updater: up,
		Queue:   queue.NewMemoryQueue(cfg.Indexing.QueueCapacity),
		filter:  filter,
		cache:   results,
	}
	a.service = NewService(store, engine, results, ServiceOptions{
		Limiter: util.NewQueryLimiter(cfg.Query.MaxQPS),
		Profile: cfg.Performance.ProfileQueries,
	})
	return a, nil
}

func (a *App) Service() *Service {
	return a.service
}

// Index brings the whole project up to date with the disk.
func (a *App) Index(ctx context.Context) (updater.Report, error) {
	report, err := a.Updater.IndexTree(ctx)
	if err != nil {
		return report, err
	}
	slog.Info("index complete",
		"files", report.Files,
		"committed", report.Committed,
		"unchanged", report.Unchanged,
		"parse_errors", report.ParseErrors,
		"revision", report.Revision,
		"duration", report.Duration,
	)
	return report, nil
}

// Start launches the index writer and the garbage collector.
func (a *App) Start() {
	a.startWriteWorker()
	a.startGC()
}

func (a *App) startGC() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gcCancel != nil || a.Config.Storage.GCInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.gcCancel, a.gcDone = cancel, done
	interval := a.Config.Storage.GCInterval
	go func() {
		defer close(done)
		a.Store.RunGC(ctx, interval)
	}()
}

// Watch starts forwarding file system changes into the queue. Start must
// have been called for them to reach the index.
func (a *App) Watch(ctx context.Context) error {
	w, err := watcher.New(watcher.Options{
		Root:      a.Paths.ProjectRoot,
		Debounce:  a.Config.Indexing.Debounce,
		Filter:    a.filter,
		Supported: a.Parser.IsSupportedPath,
		Queue:     a.Queue,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return err
	}
	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()

	if a.Config.Source != "" {
		cw := config.NewWatcher(a.Config.Source, a.applyReload)
		if err := cw.Start(ctx); err != nil {
			slog.Warn("config hot reload disabled", "path", a.Config.Source, "error", err)
		} else {
			a.mu.Lock()
			a.cfgWatcher = cw
			a.mu.Unlock()
		}
	}
	return nil
}

// applyReload takes the settings that can change without a restart.
func (a *App) applyReload(cfg *config.Config) {
	if err := observability.SetLevel(cfg.Logging.Level); err != nil {
		slog.Warn("ignoring reloaded log level", "level", cfg.Logging.Level, "error", err)
	}
	a.mu.Lock()
	if a.watcher != nil {
		a.watcher.SetDebounce(cfg.Indexing.Debounce)
	}
	a.mu.Unlock()
	a.service.SetLimiter(util.NewQueryLimiter(cfg.Query.MaxQPS))
	slog.Info("configuration reloaded", "path", cfg.Source)
}

// Close stops the watchers, drains the queue into the index and closes the
// store. Without a deadline on ctx the drain is bounded by drainTimeout.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, drainTimeout)
		defer cancel()
	}

	a.mu.Lock()
	w, cw := a.watcher, a.cfgWatcher
	a.watcher, a.cfgWatcher = nil, nil
	gcCancel, gcDone := a.gcCancel, a.gcDone
	a.gcCancel, a.gcDone = nil, nil
	a.mu.Unlock()

	var errs []error
	if cw != nil {
		cw.Stop()
	}
	if w != nil {
		w.Flush()
		errs = append(errs, w.Close())
	}
	if gcCancel != nil {
		gcCancel()
		<-gcDone
	}
	errs = append(errs, a.stopWriteWorker(ctx))
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}

const drainTimeout = 10 * time.Second
