package facts

import (
	"codegraph/internal/shared/observability"
	"sync/atomic"
)

// Snapshot pins a revision for consistent reads. Records retired after the
// pinned revision stay in memory until every snapshot at or below it has
// been released.
type Snapshot struct {
	store    *Store
	rev      Revision
	released atomic.Bool
}

// Snapshot captures the current revision. Callers must Release it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.retainMu.Lock()
	rev := s.current
	s.retained[rev]++
	held := s.retainedCountLocked()
	s.retainMu.Unlock()

	observability.RetainedSnapshots.Set(float64(held))
	return &Snapshot{store: s, rev: rev}
}

func (sn *Snapshot) Revision() Revision {
	return sn.rev
}

// Release drops the snapshot's hold on its revision. Extra calls are no-ops.
func (sn *Snapshot) Release() {
	if sn == nil || !sn.released.CompareAndSwap(false, true) {
		return
	}
	s := sn.store
	s.retainMu.Lock()
	s.retained[sn.rev]--
	if s.retained[sn.rev] <= 0 {
		delete(s.retained, sn.rev)
	}
	held := s.retainedCountLocked()
	s.retainMu.Unlock()
	observability.RetainedSnapshots.Set(float64(held))
}

// RetainedRevisions returns how many distinct revisions are pinned.
func (s *Store) RetainedRevisions() int {
	s.retainMu.Lock()
	defer s.retainMu.Unlock()
	return len(s.retained)
}

func (s *Store) retainedCountLocked() int {
	n := 0
	for _, c := range s.retained {
		n += c
	}
	return n
}

// horizonLocked is the oldest revision any reader can still observe.
// Caller holds s.mu.
func (s *Store) horizonLocked() Revision {
	s.retainMu.Lock()
	defer s.retainMu.Unlock()
	horizon := s.current
	for rev := range s.retained {
		if rev < horizon {
			horizon = rev
		}
	}
	return horizon
}

func (s *Store) at(sn *Snapshot) Revision {
	if sn == nil {
		return s.current
	}
	return sn.rev
}
