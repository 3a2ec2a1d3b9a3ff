package updater

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/core/ports"
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/parser"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FileState is the position of one file in the update cycle.
type FileState string

const (
	StateWatched   FileState = "watched"
	StateChanged   FileState = "changed"
	StateReparsing FileState = "reparsing"
	StateResolving FileState = "resolving"
	StateCommitted FileState = "committed"
)

type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeParseError Outcome = "parse_error"
	OutcomeCorruption Outcome = "corruption"
	OutcomeDeleted    Outcome = "deleted"
	OutcomeSkipped    Outcome = "skipped"
)

// Result reports what one change event did to the index.
type Result struct {
	Path     string
	Outcome  Outcome
	Revision facts.Revision
	Files    []facts.FileRevision
}

type Options struct {
	// Root is the project directory; store paths are relative to it.
	Root    string
	Filter  ports.PathFilter
	Threads int
}

// Updater is the only writer of the fact store. It turns change events into
// file deltas and commits them one at a time.
type Updater struct {
	store   *facts.Store
	parser  ports.FactParser
	root    string
	filter  ports.PathFilter
	threads int

	// mu serializes commits.
	mu sync.Mutex

	stateMu   sync.Mutex
	states    map[string]FileState
	failed    map[string]string // path -> content hash that failed to parse
	rebuilds  map[string]struct{}
	listeners []ports.RevisionListener
}

func New(store *facts.Store, p ports.FactParser, opts Options) *Updater {
	root := opts.Root
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}
	return &Updater{
		store:    store,
		parser:   p,
		root:     root,
		filter:   opts.Filter,
		threads:  threads,
		states:   make(map[string]FileState),
		failed:   make(map[string]string),
		rebuilds: make(map[string]struct{}),
	}
}

// AddListener registers l to hear about every advanced file revision.
func (u *Updater) AddListener(l ports.RevisionListener) {
	u.stateMu.Lock()
	defer u.stateMu.Unlock()
	u.listeners = append(u.listeners, l)
}

func (u *Updater) Root() string {
	return u.root
}

// State returns the current update state of path. Files never seen are
// Watched.
func (u *Updater) State(path string) FileState {
	u.stateMu.Lock()
	defer u.stateMu.Unlock()
	if s, ok := u.states[path]; ok {
		return s
	}
	return StateWatched
}

func (u *Updater) setState(path string, s FileState) {
	u.stateMu.Lock()
	defer u.stateMu.Unlock()
	if s == StateWatched {
		delete(u.states, path)
		return
	}
	u.states[path] = s
}

// RelPath maps an event path to the store's slash-separated, root-relative
// form.
func (u *Updater) RelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(u.root, p)
		if err != nil {
			return "", errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "path outside project root"), errors.CtxPath, p)
		}
		p = rel
	}
	rel := util.NormalizePatternPath(filepath.ToSlash(p))
	if rel == "" || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.AddContext(errors.New(errors.CodeValidationError, "path outside project root"), errors.CtxPath, p)
	}
	return rel, nil
}

func (u *Updater) absPath(rel string) string {
	return filepath.Join(u.root, filepath.FromSlash(rel))
}

// Apply processes one change event through the full update cycle.
func (u *Updater) Apply(ctx context.Context, ev ports.ChangeEvent) (Result, error) {
	path, err := u.RelPath(ev.Path)
	if err != nil {
		return Result{Path: ev.Path, Outcome: OutcomeSkipped}, err
	}
	if ev.Deleted {
		return u.Delete(ctx, path)
	}
	if !u.parser.IsSupportedPath(path) {
		err := errors.AddContext(errors.New(errors.CodeNotSupported, "unsupported file"), errors.CtxPath, path)
		return Result{Path: path, Outcome: OutcomeSkipped}, err
	}

	ctx, span := observability.Tracer.Start(ctx, "updater.Apply", trace.WithAttributes(
		attribute.String("file", path),
		attribute.Bool("force", ev.Force),
	))
	defer span.End()

	hash := ev.Hash
	if hash == "" {
		hash = util.ContentHash(ev.Content)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.setState(path, StateChanged)
	if !ev.Force && u.unchanged(path, hash) {
		u.setState(path, StateWatched)
		observability.CommitsTotal.WithLabelValues(string(OutcomeUnchanged)).Inc()
		return Result{Path: path, Outcome: OutcomeUnchanged, Revision: u.store.CurrentRevision()}, nil
	}

	u.setState(path, StateReparsing)
	parsed, perr := u.parser.ParseFile(path, ev.Content)
	res, err := u.commitParsedLocked(ctx, path, hash, parsed, perr)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// unchanged reports whether hash matches the last good content of path, or
// the content that last failed to parse.
func (u *Updater) unchanged(path, hash string) bool {
	u.stateMu.Lock()
	failedHash, failed := u.failed[path]
	u.stateMu.Unlock()
	if failed {
		return failedHash == hash
	}
	rec, ok := u.store.File(path, nil)
	return ok && !rec.Deleted && !rec.Stale && rec.ContentHash == hash
}

func (u *Updater) commitParsedLocked(ctx context.Context, path, hash string, parsed *parser.File, perr error) (Result, error) {
	if perr != nil {
		if errors.IsCode(perr, errors.CodeParseError) {
			return u.markStaleLocked(ctx, path, hash, perr)
		}
		u.setState(path, StateWatched)
		observability.CommitsTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return Result{Path: path, Outcome: OutcomeSkipped}, perr
	}

	u.setState(path, StateResolving)
	ff := lower(path, parsed)
	delta := u.buildDelta(path, ff)
	delta.Record = facts.FileRecord{
		ContentHash: hash,
		Language:    parsed.Language,
		Spans:       ff.spans,
		Locations:   ff.locations,
	}

	res, err := u.commit(ctx, path, delta)
	if err != nil {
		return Result{Path: path, Outcome: OutcomeCorruption}, err
	}
	u.stateMu.Lock()
	delete(u.failed, path)
	u.stateMu.Unlock()
	observability.CommitsTotal.WithLabelValues(string(OutcomeCommitted)).Inc()
	return Result{Path: path, Outcome: OutcomeCommitted, Revision: res.Revision, Files: res.Files}, nil
}

// commit hands delta to the store and notifies listeners. An
// INDEX_CORRUPTION failure queues a forced rebuild of the file.
func (u *Updater) commit(ctx context.Context, path string, delta facts.Delta) (facts.CommitResult, error) {
	res, err := u.store.CommitFileDelta(ctx, delta)
	if err != nil {
		u.setState(path, StateWatched)
		if errors.IsCode(err, errors.CodeIndexCorruption) {
			u.stateMu.Lock()
			u.rebuilds[path] = struct{}{}
			u.stateMu.Unlock()
			observability.CommitsTotal.WithLabelValues(string(OutcomeCorruption)).Inc()
			slog.Error("index write failed; file scheduled for rebuild", "path", path, "error", err)
		}
		return facts.CommitResult{}, err
	}

	u.setState(path, StateCommitted)
	u.stateMu.Lock()
	listeners := append([]ports.RevisionListener(nil), u.listeners...)
	u.stateMu.Unlock()
	for _, l := range listeners {
		l.FilesAdvanced(res.Files)
	}
	u.setState(path, StateWatched)
	return res, nil
}

// markStaleLocked keeps the last good facts of path and flags the file
// stale. The record update is the only change in the commit.
func (u *Updater) markStaleLocked(ctx context.Context, path, hash string, perr error) (Result, error) {
	slog.Warn("parse failed; keeping last good revision", "path", path, "error", perr)
	observability.CommitsTotal.WithLabelValues(string(OutcomeParseError)).Inc()

	rec, ok := u.store.File(path, nil)
	if !ok {
		rec = facts.FileRecord{Language: u.parser.GetLanguage(path)}
	}
	rec.Stale = true
	rec.StaleReason = perr.Error()
	rec.Deleted = false
	rec.Spans = nil
	rec.Locations = nil

	delta := facts.Delta{
		File:     path,
		Revision: u.store.CurrentRevision() + 1,
		Record:   rec,
	}
	res, err := u.commit(ctx, path, delta)
	if err != nil {
		return Result{Path: path, Outcome: OutcomeCorruption}, err
	}
	u.stateMu.Lock()
	u.failed[path] = hash
	u.stateMu.Unlock()
	return Result{Path: path, Outcome: OutcomeParseError, Revision: res.Revision, Files: res.Files}, perr
}

// Delete retires every symbol and relationship originating in path and
// tombstones its record in one commit.
func (u *Updater) Delete(ctx context.Context, path string) (Result, error) {
	rel, err := u.RelPath(path)
	if err != nil {
		return Result{Path: path, Outcome: OutcomeSkipped}, err
	}
	path = rel
	ctx, span := observability.Tracer.Start(ctx, "updater.Delete", trace.WithAttributes(attribute.String("file", path)))
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	rec, ok := u.store.File(path, nil)
	if !ok || rec.Deleted {
		return Result{Path: path, Outcome: OutcomeUnchanged, Revision: u.store.CurrentRevision()}, nil
	}
	u.setState(path, StateChanged)

	delta := facts.Delta{File: path, Revision: u.store.CurrentRevision() + 1}
	retired := u.store.SymbolsInFile(path, nil)
	for _, sym := range retired {
		delta.RemovedSymbols = append(delta.RemovedSymbols, sym.ID)
	}
	for _, rel := range u.store.RelationshipsInFile(path, nil) {
		delta.RemovedRelationships = append(delta.RemovedRelationships, rel.ID)
	}
	u.setState(path, StateResolving)
	u.demote(&delta, retired, newResolver(u.store, path, nil), map[facts.RelationshipID]struct{}{})
	delta.Record = facts.FileRecord{
		Language:  rec.Language,
		Deleted:   true,
		Spans:     map[facts.SymbolID]facts.Span{},
		Locations: map[facts.RelationshipID]facts.Location{},
	}

	res, err := u.commit(ctx, path, delta)
	if err != nil {
		span.RecordError(err)
		return Result{Path: path, Outcome: OutcomeCorruption}, err
	}
	u.stateMu.Lock()
	delete(u.failed, path)
	u.stateMu.Unlock()
	observability.CommitsTotal.WithLabelValues(string(OutcomeDeleted)).Inc()
	return Result{Path: path, Outcome: OutcomeDeleted, Revision: res.Revision, Files: res.Files}, nil
}

// buildDelta diffs the lowered facts of path against the live store and
// adds the cross-file edge updates the change implies.
func (u *Updater) buildDelta(path string, ff fileFacts) facts.Delta {
	delta := facts.Delta{File: path, Revision: u.store.CurrentRevision() + 1}

	prevSyms := make(map[facts.SymbolID]facts.Symbol)
	for _, sym := range u.store.SymbolsInFile(path, nil) {
		prevSyms[sym.ID] = sym
	}
	prevRels := make(map[facts.RelationshipID]facts.Relationship)
	for _, rel := range u.store.RelationshipsInFile(path, nil) {
		prevRels[rel.ID] = rel
	}

	current := make(map[facts.SymbolID]struct{}, len(ff.symbols))
	var added []facts.Symbol
	for _, sym := range ff.symbols {
		current[sym.ID] = struct{}{}
		prev, existed := prevSyms[sym.ID]
		if existed {
			if prev.SignatureHash == sym.SignatureHash && prev.Name == sym.Name && prev.Language == sym.Language {
				continue
			}
			delta.RemovedSymbols = append(delta.RemovedSymbols, sym.ID)
		} else {
			added = append(added, sym)
		}
		delta.AddedSymbols = append(delta.AddedSymbols, sym)
	}
	var retired []facts.Symbol
	for _, id := range sortedSymbolIDs(prevSyms) {
		if _, ok := current[id]; !ok {
			delta.RemovedSymbols = append(delta.RemovedSymbols, id)
			retired = append(retired, prevSyms[id])
		}
	}

	res := newResolver(u.store, path, ff.symbols)
	currentRels := make(map[facts.RelationshipID]struct{}, len(ff.rels))
	for _, rel := range ff.rels {
		rel.Target = res.resolve(rel.TargetName, path)
		currentRels[rel.ID] = struct{}{}
		if prev, ok := prevRels[rel.ID]; ok {
			if prev.Target == rel.Target {
				continue
			}
			delta.RemovedRelationships = append(delta.RemovedRelationships, rel.ID)
		}
		delta.AddedRelationships = append(delta.AddedRelationships, rel)
	}
	for _, id := range sortedRelIDs(prevRels) {
		if _, ok := currentRels[id]; !ok {
			delta.RemovedRelationships = append(delta.RemovedRelationships, id)
		}
	}

	touched := make(map[facts.RelationshipID]struct{})
	u.demote(&delta, retired, res, touched)
	u.rebind(&delta, added, res, touched)
	return delta
}

// demote re-points edges of other files whose target retires: to a
// remaining candidate if one exists, otherwise back to a placeholder.
func (u *Updater) demote(delta *facts.Delta, retired []facts.Symbol, res *resolver, touched map[facts.RelationshipID]struct{}) {
	for _, sym := range retired {
		for _, rel := range u.store.RelationshipsTo(sym.ID, nil, nil) {
			if rel.File == delta.File {
				continue
			}
			if _, done := touched[rel.ID]; done {
				continue
			}
			touched[rel.ID] = struct{}{}
			rel.Target = res.resolve(rel.TargetName, rel.File)
			delta.RemovedRelationships = append(delta.RemovedRelationships, rel.ID)
			delta.AddedRelationships = append(delta.AddedRelationships, rel)
		}
	}
}

// rebind resolves placeholders of other files that a newly added symbol
// answers, and re-points bound edges for which it is now the preferred
// candidate. The graph then depends only on the files, not on the order
// they were committed in.
func (u *Updater) rebind(delta *facts.Delta, added []facts.Symbol, res *resolver, touched map[facts.RelationshipID]struct{}) {
	names := make(map[string]struct{})
	for _, sym := range added {
		names[sym.Name] = struct{}{}
		names[sym.QualifiedName] = struct{}{}
	}
	for _, name := range util.SortedStringKeys(names) {
		for _, rel := range u.store.Placeholders(name, nil) {
			if rel.File == delta.File {
				continue
			}
			if _, done := touched[rel.ID]; done {
				continue
			}
			target := res.resolve(rel.TargetName, rel.File)
			if target == "" {
				continue
			}
			touched[rel.ID] = struct{}{}
			rel.Target = target
			delta.RemovedRelationships = append(delta.RemovedRelationships, rel.ID)
			delta.AddedRelationships = append(delta.AddedRelationships, rel)
		}
		for _, sym := range u.store.SymbolsByName(name, nil) {
			for _, rel := range u.store.RelationshipsTo(sym.ID, nil, nil) {
				if rel.TargetName != name || rel.File == delta.File {
					continue
				}
				if _, done := touched[rel.ID]; done {
					continue
				}
				target := res.resolve(rel.TargetName, rel.File)
				if target == "" || target == rel.Target {
					continue
				}
				touched[rel.ID] = struct{}{}
				rel.Target = target
				delta.RemovedRelationships = append(delta.RemovedRelationships, rel.ID)
				delta.AddedRelationships = append(delta.AddedRelationships, rel)
			}
		}
	}
}

// RebuildPending re-reads every file whose commit failed with
// INDEX_CORRUPTION and re-applies it with the hash short-circuit disabled.
func (u *Updater) RebuildPending(ctx context.Context) []Result {
	u.stateMu.Lock()
	paths := util.SortedStringKeys(u.rebuilds)
	u.rebuilds = make(map[string]struct{})
	u.stateMu.Unlock()

	var results []Result
	for _, path := range paths {
		content, err := os.ReadFile(u.absPath(path))
		var res Result
		switch {
		case os.IsNotExist(err):
			res, err = u.Delete(ctx, path)
		case err != nil:
			err = fmt.Errorf("read %s for rebuild: %w", path, err)
		default:
			res, err = u.Apply(ctx, ports.ChangeEvent{Path: path, Content: content, Force: true})
		}
		if err != nil {
			slog.Warn("forced rebuild failed", "path", path, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// PendingRebuilds lists files waiting for a forced rebuild.
func (u *Updater) PendingRebuilds() []string {
	u.stateMu.Lock()
	defer u.stateMu.Unlock()
	return util.SortedStringKeys(u.rebuilds)
}

func sortedSymbolIDs(m map[facts.SymbolID]facts.Symbol) []facts.SymbolID {
	ids := make([]facts.SymbolID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedRelIDs(m map[facts.RelationshipID]facts.Relationship) []facts.RelationshipID {
	ids := make([]facts.RelationshipID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
