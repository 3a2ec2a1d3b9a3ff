package facts

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/shared/observability"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Persister mirrors the live state of the store into durable storage.
// Persist runs before a delta becomes visible; an error aborts the commit.
type Persister interface {
	Persist(ctx context.Context, delta Delta, records []FileRecord) error
	Load(ctx context.Context) (*State, error)
	Close() error
}

// State is the live content of a store, as restored from a Persister.
type State struct {
	Revision      Revision
	Files         []FileRecord
	Symbols       []Symbol
	Relationships []Relationship
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// Store is the append-only, revision-stamped fact store. All mutation goes
// through CommitFileDelta; reads go through a Snapshot.
type Store struct {
	mu        sync.RWMutex
	commitMu  sync.Mutex
	retainMu  sync.Mutex
	persister Persister

	current  Revision
	retained map[Revision]int

	symbols map[SymbolID][]*Symbol
	rels    map[RelationshipID][]*Relationship
	files   map[string][]*FileRecord

	byName       map[string]map[SymbolID]struct{}
	relsFrom     map[SymbolID]map[RelationshipID]struct{}
	relsTo       map[SymbolID]map[RelationshipID]struct{}
	placeholders map[string]map[RelationshipID]struct{}
	relsByFile   map[string]map[RelationshipID]struct{}

	fileRev map[string]Revision
	nameRev map[string]Revision

	liveSymbolsByKind map[SymbolKind]int
	liveRelsByKind    map[RelationKind]int
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		retained:          make(map[Revision]int),
		symbols:           make(map[SymbolID][]*Symbol),
		rels:              make(map[RelationshipID][]*Relationship),
		files:             make(map[string][]*FileRecord),
		byName:            make(map[string]map[SymbolID]struct{}),
		relsFrom:          make(map[SymbolID]map[RelationshipID]struct{}),
		relsTo:            make(map[SymbolID]map[RelationshipID]struct{}),
		placeholders:      make(map[string]map[RelationshipID]struct{}),
		relsByFile:        make(map[string]map[RelationshipID]struct{}),
		fileRev:           make(map[string]Revision),
		nameRev:           make(map[string]Revision),
		liveSymbolsByKind: make(map[SymbolKind]int),
		liveRelsByKind:    make(map[RelationKind]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenStore creates a store backed by p and restores its live state.
func OpenStore(ctx context.Context, p Persister) (*Store, error) {
	s := NewStore(WithPersister(p))
	state, err := p.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIndexCorruption, "restore fact store")
	}
	if state != nil {
		s.restore(state)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

func (s *Store) CurrentRevision() Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// DependencyRevision returns the revision at which the dependency named by
// key (see FileKey, NameKey) last changed, or 0 if it never has.
func (s *Store) DependencyRevision(key string) Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case len(key) > len(fileKeyPrefix) && key[:len(fileKeyPrefix)] == fileKeyPrefix:
		return s.fileRev[key[len(fileKeyPrefix):]]
	case len(key) > len(nameKeyPrefix) && key[:len(nameKeyPrefix)] == nameKeyPrefix:
		return s.nameRev[key[len(nameKeyPrefix):]]
	}
	return 0
}

// CommitFileDelta makes delta visible at delta.Revision, which must be the
// next revision. Either the whole delta becomes visible or none of it does.
func (s *Store) CommitFileDelta(ctx context.Context, delta Delta) (CommitResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "facts.CommitFileDelta", trace.WithAttributes(
		attribute.String("file", delta.File),
		attribute.Int64("revision", int64(delta.Revision)),
	))
	defer span.End()

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	start := time.Now()

	s.mu.RLock()
	records, err := s.prepareLocked(delta)
	s.mu.RUnlock()
	if err != nil {
		span.RecordError(err)
		return CommitResult{}, err
	}

	if s.persister != nil {
		if err := s.persister.Persist(ctx, delta, records); err != nil {
			span.RecordError(err)
			wrapped := errors.Wrap(err, errors.CodeIndexCorruption, "persist file delta")
			return CommitResult{}, errors.AddContext(wrapped, errors.CtxPath, delta.File)
		}
	}

	s.mu.Lock()
	result := s.applyLocked(delta, records)
	symbols, rels := s.liveCountsLocked()
	s.mu.Unlock()

	observability.CommitDuration.Observe(time.Since(start).Seconds())
	observability.IndexRevision.Set(float64(result.Revision))
	observability.IndexSymbols.Set(float64(symbols))
	observability.IndexRelationships.Set(float64(rels))
	return result, nil
}

func conflict(format string, args ...any) error {
	return errors.New(errors.CodeConflict, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return errors.New(errors.CodeValidationError, fmt.Sprintf(format, args...))
}

// prepareLocked validates delta against the current state and builds the
// file records it produces. Caller holds at least a read lock.
func (s *Store) prepareLocked(delta Delta) ([]FileRecord, error) {
	if delta.File == "" {
		return nil, invalid("delta has no file")
	}
	if delta.Revision != s.current+1 {
		return nil, conflict("delta revision %d does not follow current revision %d", delta.Revision, s.current)
	}
	at := s.current

	removedSyms := make(map[SymbolID]struct{}, len(delta.RemovedSymbols))
	for _, id := range delta.RemovedSymbols {
		if s.liveSymbolLocked(id, at) == nil {
			return nil, conflict("remove of non-live symbol %s", id)
		}
		removedSyms[id] = struct{}{}
	}
	addedSyms := make(map[SymbolID]struct{}, len(delta.AddedSymbols))
	for _, sym := range delta.AddedSymbols {
		if sym.ID == "" {
			return nil, invalid("added symbol %q has no id", sym.QualifiedName)
		}
		if sym.File != delta.File {
			return nil, invalid("symbol %s belongs to %s, not %s", sym.ID, sym.File, delta.File)
		}
		if _, dup := addedSyms[sym.ID]; dup {
			return nil, conflict("symbol %s added twice", sym.ID)
		}
		if _, removed := removedSyms[sym.ID]; !removed && s.liveSymbolLocked(sym.ID, at) != nil {
			return nil, conflict("symbol %s is already live", sym.ID)
		}
		addedSyms[sym.ID] = struct{}{}
	}
	liveAfter := func(id SymbolID) bool {
		if _, ok := addedSyms[id]; ok {
			return true
		}
		if _, ok := removedSyms[id]; ok {
			return false
		}
		return s.liveSymbolLocked(id, at) != nil
	}

	removedRels := make(map[RelationshipID]struct{}, len(delta.RemovedRelationships))
	touched := map[string]struct{}{}
	for _, id := range delta.RemovedRelationships {
		rel := s.liveRelLocked(id, at)
		if rel == nil {
			return nil, conflict("remove of non-live relationship %s", id)
		}
		removedRels[id] = struct{}{}
		touched[rel.File] = struct{}{}
	}
	addedRels := make(map[RelationshipID]struct{}, len(delta.AddedRelationships))
	for _, rel := range delta.AddedRelationships {
		if rel.ID == "" {
			return nil, invalid("relationship from %s has no id", rel.Source)
		}
		if _, dup := addedRels[rel.ID]; dup {
			return nil, conflict("relationship %s added twice", rel.ID)
		}
		if _, removed := removedRels[rel.ID]; !removed && s.liveRelLocked(rel.ID, at) != nil {
			return nil, conflict("relationship %s is already live", rel.ID)
		}
		if !liveAfter(rel.Source) {
			return nil, invalid("relationship %s has no live source %s", rel.ID, rel.Source)
		}
		if rel.Target != "" && !liveAfter(rel.Target) {
			return nil, invalid("relationship %s points at non-live target %s", rel.ID, rel.Target)
		}
		if rel.TargetName == "" {
			return nil, invalid("relationship %s has no target name", rel.ID)
		}
		addedRels[rel.ID] = struct{}{}
		touched[rel.File] = struct{}{}
	}
	relLiveAfter := func(id RelationshipID) bool {
		if _, ok := addedRels[id]; ok {
			return true
		}
		_, removed := removedRels[id]
		return !removed
	}
	for id := range removedSyms {
		if _, readded := addedSyms[id]; readded {
			continue
		}
		for relID := range s.relsFrom[id] {
			if rel := s.liveRelLocked(relID, at); rel != nil && rel.Source == id {
				if _, replaced := addedRels[relID]; !replaced && relLiveAfter(relID) {
					return nil, invalid("removing %s would orphan relationship %s", id, relID)
				}
			}
		}
		for relID := range s.relsTo[id] {
			if rel := s.liveRelLocked(relID, at); rel != nil && rel.Target == id {
				if _, replaced := addedRels[relID]; !replaced && relLiveAfter(relID) {
					return nil, invalid("removing %s would leave relationship %s dangling", id, relID)
				}
			}
		}
	}

	prev := s.fileAtLocked(delta.File, at)
	rec := delta.Record
	rec.Path = delta.File
	rec.Revision = delta.Revision
	rec.Retired = 0
	ids := map[SymbolID]struct{}{}
	if prev != nil {
		for _, id := range prev.SymbolIDs {
			if _, removed := removedSyms[id]; !removed {
				ids[id] = struct{}{}
			}
		}
		if rec.Spans == nil {
			rec.Spans = prev.Spans
		}
		if rec.Locations == nil {
			rec.Locations = prev.Locations
		}
	}
	for id := range addedSyms {
		ids[id] = struct{}{}
	}
	rec.SymbolIDs = make([]SymbolID, 0, len(ids))
	for id := range ids {
		rec.SymbolIDs = append(rec.SymbolIDs, id)
	}
	sort.Slice(rec.SymbolIDs, func(i, j int) bool { return rec.SymbolIDs[i] < rec.SymbolIDs[j] })
	if rec.Deleted && len(rec.SymbolIDs) > 0 {
		return nil, invalid("deleted file %s still owns %d symbols", delta.File, len(rec.SymbolIDs))
	}

	records := []FileRecord{rec}
	delete(touched, delta.File)
	others := make([]string, 0, len(touched))
	for path := range touched {
		others = append(others, path)
	}
	sort.Strings(others)
	for _, path := range others {
		other := s.fileAtLocked(path, at)
		if other == nil {
			return nil, invalid("relationship originates in unknown file %s", path)
		}
		next := *other
		next.Revision = delta.Revision
		next.Retired = 0
		records = append(records, next)
	}
	return records, nil
}

func (s *Store) applyLocked(delta Delta, records []FileRecord) CommitResult {
	rev := delta.Revision
	names := map[string]struct{}{}

	for _, id := range delta.RemovedSymbols {
		if v := s.liveSymbolLocked(id, s.current); v != nil {
			v.Retired = rev
			s.liveSymbolsByKind[v.Kind]--
			names[v.Name] = struct{}{}
			names[v.QualifiedName] = struct{}{}
		}
	}
	// Edge changes bump the target name, so lookups of incoming edges
	// by name see them.
	for _, id := range delta.RemovedRelationships {
		if v := s.liveRelLocked(id, s.current); v != nil {
			v.Retired = rev
			s.liveRelsByKind[v.Kind]--
			names[v.TargetName] = struct{}{}
		}
	}
	for i := range delta.AddedSymbols {
		sym := delta.AddedSymbols[i]
		sym.Created = rev
		sym.Retired = 0
		sym.Span = Span{}
		s.addSymbolLocked(&sym)
		names[sym.Name] = struct{}{}
		names[sym.QualifiedName] = struct{}{}
	}
	for i := range delta.AddedRelationships {
		rel := delta.AddedRelationships[i]
		rel.Created = rev
		rel.Retired = 0
		rel.Location = Location{}
		s.addRelLocked(&rel)
		names[rel.TargetName] = struct{}{}
	}

	result := CommitResult{Revision: rev}
	for i := range records {
		rec := records[i]
		versions := s.files[rec.Path]
		if n := len(versions); n > 0 && versions[n-1].Retired == 0 {
			versions[n-1].Retired = rev
		}
		s.files[rec.Path] = append(versions, &rec)
		s.fileRev[rec.Path] = rev
		result.Files = append(result.Files, FileRevision{Path: rec.Path, Revision: rev})
	}
	for name := range names {
		s.nameRev[name] = rev
		result.Names = append(result.Names, name)
	}
	sort.Strings(result.Names)
	s.current = rev
	return result
}

func (s *Store) addSymbolLocked(sym *Symbol) {
	s.symbols[sym.ID] = append(s.symbols[sym.ID], sym)
	addToSet(s.byName, sym.Name, sym.ID)
	addToSet(s.byName, sym.QualifiedName, sym.ID)
	if sym.Retired == 0 {
		s.liveSymbolsByKind[sym.Kind]++
	}
}

func (s *Store) addRelLocked(rel *Relationship) {
	s.rels[rel.ID] = append(s.rels[rel.ID], rel)
	addToSet(s.relsFrom, rel.Source, rel.ID)
	if rel.Target != "" {
		addToSet(s.relsTo, rel.Target, rel.ID)
	} else {
		addToSet(s.placeholders, rel.TargetName, rel.ID)
	}
	addToSet(s.relsByFile, rel.File, rel.ID)
	if rel.Retired == 0 {
		s.liveRelsByKind[rel.Kind]++
	}
}

func addToSet[K comparable, V comparable](m map[K]map[V]struct{}, key K, value V) {
	set := m[key]
	if set == nil {
		set = make(map[V]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}

func (s *Store) restore(state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range state.Symbols {
		sym := state.Symbols[i]
		sym.Retired = 0
		if sym.Created == 0 {
			sym.Created = state.Revision
		}
		s.addSymbolLocked(&sym)
	}
	for i := range state.Relationships {
		rel := state.Relationships[i]
		rel.Retired = 0
		if rel.Created == 0 {
			rel.Created = state.Revision
		}
		s.addRelLocked(&rel)
	}
	for i := range state.Files {
		rec := state.Files[i]
		rec.Retired = 0
		if rec.Revision == 0 || rec.Revision > state.Revision {
			rec.Revision = state.Revision
		}
		s.files[rec.Path] = []*FileRecord{&rec}
		s.fileRev[rec.Path] = rec.Revision
	}
	s.current = state.Revision
}

func latestVisible[T any](versions []*T, at Revision, span func(*T) (Revision, Revision)) *T {
	for i := len(versions) - 1; i >= 0; i-- {
		created, retired := span(versions[i])
		if visibleAt(created, retired, at) {
			return versions[i]
		}
	}
	return nil
}

func symbolSpan(v *Symbol) (Revision, Revision) { return v.Created, v.Retired }
func relSpan(v *Relationship) (Revision, Revision) { return v.Created, v.Retired }
func fileSpan(v *FileRecord) (Revision, Revision) { return v.Revision, v.Retired }

func (s *Store) liveSymbolLocked(id SymbolID, at Revision) *Symbol {
	return latestVisible(s.symbols[id], at, symbolSpan)
}

func (s *Store) liveRelLocked(id RelationshipID, at Revision) *Relationship {
	return latestVisible(s.rels[id], at, relSpan)
}

func (s *Store) fileAtLocked(path string, at Revision) *FileRecord {
	return latestVisible(s.files[path], at, fileSpan)
}

func (s *Store) liveCountsLocked() (symbols, rels int) {
	for _, n := range s.liveSymbolsByKind {
		symbols += n
	}
	for _, n := range s.liveRelsByKind {
		rels += n
	}
	return symbols, rels
}
