package app

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Revision   uint64            `json:"revision"`
	Components map[string]string `json:"components"`
}

// Health reports "up" while the writer is running and nothing is waiting
// for a forced rebuild, "degraded" otherwise.
func (a *App) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Revision:   uint64(a.Store.CurrentRevision()),
		Components: make(map[string]string),
	}

	a.mu.Lock()
	running := a.workerCancel != nil
	watching := a.watcher != nil
	a.mu.Unlock()

	if running {
		status.Components["writer"] = fmt.Sprintf("ok (%d queued)", a.Queue.Len())
	} else {
		status.Status = "degraded"
		status.Components["writer"] = "stopped"
	}
	if watching {
		status.Components["watcher"] = "ok"
	} else {
		status.Components["watcher"] = "off"
	}

	st := a.Store.Stats(nil)
	status.Components["store"] = fmt.Sprintf("ok (%d files, %d symbols, %d stale)", st.Files, st.Symbols, len(st.StaleFiles))
	if pending := a.Updater.PendingRebuilds(); len(pending) > 0 {
		status.Status = "degraded"
		status.Components["rebuilds"] = fmt.Sprintf("%d files awaiting forced rebuild", len(pending))
	}
	if err := ctx.Err(); err != nil {
		status.Status = "degraded"
	}
	return status
}
