package facts

import (
	"codegraph/internal/shared/observability"
	"context"
	"log/slog"
	"time"
)

// CollectGarbage drops record versions that no live or future snapshot can
// observe and returns how many were removed.
func (s *Store) CollectGarbage() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := s.horizonLocked()
	collectable := func(retired Revision) bool {
		return retired != 0 && retired <= horizon
	}
	collected := 0

	for id, versions := range s.symbols {
		kept := versions[:0]
		for _, v := range versions {
			if collectable(v.Retired) {
				collected++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == len(versions) {
			continue
		}
		if len(kept) == 0 {
			name, qualified := versions[0].Name, versions[0].QualifiedName
			delete(s.symbols, id)
			removeFromSet(s.byName, name, id)
			removeFromSet(s.byName, qualified, id)
			continue
		}
		s.symbols[id] = kept
	}

	for id, versions := range s.rels {
		kept := versions[:0]
		var dropped []*Relationship
		for _, v := range versions {
			if collectable(v.Retired) {
				dropped = append(dropped, v)
				continue
			}
			kept = append(kept, v)
		}
		if len(dropped) == 0 {
			continue
		}
		collected += len(dropped)
		for _, d := range dropped {
			s.unindexRelLocked(id, d, kept)
		}
		if len(kept) == 0 {
			delete(s.rels, id)
			continue
		}
		s.rels[id] = kept
	}

	for path, versions := range s.files {
		kept := versions[:0]
		for _, v := range versions {
			if collectable(v.Retired) {
				collected++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 1 && kept[0].Deleted && kept[0].Revision <= horizon {
			collected++
			kept = kept[:0]
		}
		if len(kept) == 0 {
			delete(s.files, path)
			continue
		}
		s.files[path] = kept
	}

	if collected > 0 {
		observability.GCCollectedTotal.Add(float64(collected))
	}
	return collected
}

// unindexRelLocked removes index entries that only the dropped version
// contributed.
func (s *Store) unindexRelLocked(id RelationshipID, dropped *Relationship, kept []*Relationship) {
	hasSource, hasTarget, hasPlaceholder, hasFile := false, false, false, false
	for _, k := range kept {
		hasSource = hasSource || k.Source == dropped.Source
		hasFile = hasFile || k.File == dropped.File
		if dropped.Target != "" {
			hasTarget = hasTarget || k.Target == dropped.Target
		} else {
			hasPlaceholder = hasPlaceholder || (k.Target == "" && k.TargetName == dropped.TargetName)
		}
	}
	if !hasSource {
		removeFromSet(s.relsFrom, dropped.Source, id)
	}
	if !hasFile {
		removeFromSet(s.relsByFile, dropped.File, id)
	}
	if dropped.Target != "" && !hasTarget {
		removeFromSet(s.relsTo, dropped.Target, id)
	}
	if dropped.Target == "" && !hasPlaceholder {
		removeFromSet(s.placeholders, dropped.TargetName, id)
	}
}

func removeFromSet[K comparable, V comparable](m map[K]map[V]struct{}, key K, value V) {
	set := m[key]
	if set == nil {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(m, key)
	}
}

// RunGC collects garbage every interval until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.CollectGarbage(); n > 0 {
				slog.Debug("fact store garbage collected", "records", n, "revision", s.CurrentRevision())
			}
		}
	}
}
