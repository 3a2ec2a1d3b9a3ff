package queue

import (
	"codegraph/internal/core/ports"
	"codegraph/internal/shared/observability"
	"context"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var _ ports.ChangeQueue = (*MemoryQueue)(nil)

// MemoryQueue is a bounded FIFO of change events. A full queue drops the
// event and remembers its directory so the consumer can rescan it.
type MemoryQueue struct {
	ch       chan ports.ChangeEvent
	mu       sync.RWMutex
	closed   bool
	overMu   sync.Mutex
	overflow map[string]struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryQueue{
		ch:       make(chan ports.ChangeEvent, capacity),
		overflow: make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ev ports.ChangeEvent) ports.EnqueueResult {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ports.EnqueueDropped
	}
	select {
	case q.ch <- ev:
		observability.EventQueueDepth.Set(float64(len(q.ch)))
		return ports.EnqueueAccepted
	default:
		q.markOverflow(ev.Path)
		observability.EventQueueDroppedTotal.Inc()
		return ports.EnqueueDropped
	}
}

func (q *MemoryQueue) markOverflow(path string) {
	q.RequestRescan(filepath.Dir(filepath.Clean(path)))
}

// RequestRescan adds dir to the overflow set without an event, for changes
// no single event can describe, such as a removed directory.
func (q *MemoryQueue) RequestRescan(dir string) {
	q.overMu.Lock()
	q.overflow[filepath.ToSlash(filepath.Clean(dir))] = struct{}{}
	q.overMu.Unlock()
}

func (q *MemoryQueue) DrainOverflow() []string {
	q.overMu.Lock()
	defer q.overMu.Unlock()
	if len(q.overflow) == 0 {
		return nil
	}
	dirs := make([]string, 0, len(q.overflow))
	for dir := range q.overflow {
		dirs = append(dirs, dir)
	}
	q.overflow = make(map[string]struct{})
	sort.Strings(dirs)
	return dirs
}

// DequeueBatch waits up to wait for the first event, then takes whatever
// else is immediately available up to maxItems. A closed, drained queue
// returns io.EOF.
func (q *MemoryQueue) DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]ports.ChangeEvent, error) {
	if maxItems <= 0 {
		maxItems = 1
	}
	batch := make([]ports.ChangeEvent, 0, maxItems)
	defer func() { observability.EventQueueDepth.Set(float64(len(q.ch))) }()

	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}

	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		batch = append(batch, ev)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		if wait <= 0 {
			return nil, nil
		}
		select {
		case ev, ok := <-q.ch:
			if !ok {
				return nil, io.EOF
			}
			batch = append(batch, ev)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer:
			return nil, nil
		}
	}

	for len(batch) < maxItems {
		select {
		case ev, ok := <-q.ch:
			if !ok {
				return batch, io.EOF
			}
			batch = append(batch, ev)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}

func (q *MemoryQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}
