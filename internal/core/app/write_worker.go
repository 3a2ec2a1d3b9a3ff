package app

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/core/ports"
	"codegraph/internal/engine/updater"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"time"
)

// workerPollInterval bounds how long the writer waits for an event before
// it checks for overflowed directories and pending rebuilds.
const workerPollInterval = 250 * time.Millisecond

func (a *App) startWriteWorker() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.workerCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.workerCancel, a.workerDone = cancel, done
	go func() {
		defer close(done)
		a.runWriteWorker(ctx)
	}()
}

// runWriteWorker is the single consumer of the change queue and therefore
// the only caller of the updater outside bulk indexing.
func (a *App) runWriteWorker(ctx context.Context) {
	batchSize := a.batchSize()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := a.Queue.DequeueBatch(ctx, batchSize, workerPollInterval)
		if err != nil && !stderrors.Is(err, io.EOF) {
			if stderrors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("change queue dequeue failed", "error", err)
			continue
		}
		a.applyBatch(ctx, batch)
		a.catchUp(ctx)
		if stderrors.Is(err, io.EOF) {
			return
		}
	}
}

func (a *App) batchSize() int {
	if n := a.Config.Indexing.BatchSize; n > 0 {
		return n
	}
	return 1
}

// applyBatch applies events strictly in queue order, one commit per file.
func (a *App) applyBatch(ctx context.Context, batch []ports.ChangeEvent) {
	for _, ev := range batch {
		res, err := a.Updater.Apply(ctx, ev)
		switch {
		case err == nil:
			slog.Debug("change applied", "path", res.Path, "outcome", res.Outcome, "revision", res.Revision)
		case errors.IsCode(err, errors.CodeNotSupported):
			slog.Debug("skipping unsupported file", "path", ev.Path)
		case res.Outcome == updater.OutcomeParseError:
			slog.Debug("file marked stale", "path", res.Path)
		default:
			slog.Error("failed to apply change", "path", ev.Path, "outcome", res.Outcome, "error", err)
		}
	}
}

// catchUp rescans directories whose events were dropped and re-indexes
// files whose last commit was rejected.
func (a *App) catchUp(ctx context.Context) {
	if dirs := a.Queue.DrainOverflow(); len(dirs) > 0 {
		slog.Info("rescanning after dropped events", "dirs", dirs)
		if _, err := a.Updater.RescanDirs(ctx, dirs); err != nil {
			slog.Error("rescan failed", "dirs", dirs, "error", err)
			for _, dir := range dirs {
				a.Queue.RequestRescan(dir)
			}
		}
	}
	if len(a.Updater.PendingRebuilds()) > 0 {
		a.Updater.RebuildPending(ctx)
	}
}

func (a *App) stopWriteWorker(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.workerCancel, a.workerDone
	a.workerCancel, a.workerDone = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := a.drainQueue(ctx); err != nil {
		return err
	}
	return a.Queue.Close()
}

// drainQueue applies whatever is still queued without waiting for more.
func (a *App) drainQueue(ctx context.Context) error {
	for {
		batch, err := a.Queue.DequeueBatch(ctx, a.batchSize(), 0)
		if err != nil && !stderrors.Is(err, io.EOF) {
			return err
		}
		if len(batch) == 0 {
			a.catchUp(ctx)
			return nil
		}
		a.applyBatch(ctx, batch)
	}
}
