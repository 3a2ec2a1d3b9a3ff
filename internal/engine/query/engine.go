package query

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/data/facts"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"context"
	"sort"
	"time"
)

// Limits bound every traversal. Zero values disable the bound.
type Limits struct {
	Timeout  time.Duration
	MaxDepth int
	MaxNodes int
}

// Engine answers structural queries against store snapshots. It holds no
// mutable state and may be shared by any number of goroutines.
type Engine struct {
	store  *facts.Store
	limits Limits
}

func NewEngine(store *facts.Store, limits Limits) *Engine {
	return &Engine{store: store, limits: limits}
}

func (e *Engine) Limits() Limits {
	return e.limits
}

// reader is the per-query view of the store. It records every dependency
// key the answer was derived from.
type reader struct {
	store *facts.Store
	sn    *facts.Snapshot
	deps  map[string]facts.Revision
	stale map[string]struct{}
	syms  map[facts.SymbolID]*SymbolRef
}

type run struct {
	*reader
	ctx   context.Context
	kind  string
	start time.Time
	done  func()
}

// begin pins a snapshot (unless the caller supplied one) and applies the
// wall-time budget.
func (e *Engine) begin(ctx context.Context, sn *facts.Snapshot, kind string) *run {
	release := func() {}
	if sn == nil {
		sn = e.store.Snapshot()
		release = sn.Release
	}
	cancel := func() {}
	if e.limits.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.limits.Timeout)
	}
	return &run{
		reader: &reader{
			store: e.store,
			sn:    sn,
			deps:  make(map[string]facts.Revision),
			stale: make(map[string]struct{}),
			syms:  make(map[facts.SymbolID]*SymbolRef),
		},
		ctx:   ctx,
		kind:  kind,
		start: time.Now(),
		done: func() {
			cancel()
			release()
		},
	}
}

func (q *run) expired() bool {
	return q.ctx.Err() != nil
}

// finish fills m and records metrics. Partial answers caused by the
// deadline are flagged rather than returned as errors.
func (q *run) finish(m *Meta) {
	defer q.done()
	if q.expired() {
		m.TimedOut = true
		m.Truncated = true
	}
	m.Revision = q.sn.Revision()
	m.Dependencies = q.deps
	m.Stale = util.SortedStringKeys(q.stale)
	observability.QueryDuration.WithLabelValues(q.kind).Observe(time.Since(q.start).Seconds())
	if m.Truncated {
		observability.QueryTruncatedTotal.WithLabelValues(q.kind).Inc()
	}
}

// dependOn records key at the revision the snapshot saw. A key that moved
// past the snapshot is recorded at the snapshot revision, which can never
// match again.
func (r *reader) dependOn(key string) {
	if _, ok := r.deps[key]; ok {
		return
	}
	rev := r.store.DependencyRevision(key)
	if at := r.sn.Revision(); rev > at {
		rev = at
	}
	r.deps[key] = rev
}

func (r *reader) touchFile(path string) {
	if _, ok := r.deps[facts.FileKey(path)]; ok {
		return
	}
	r.dependOn(facts.FileKey(path))
	if rec, ok := r.store.File(path, r.sn); ok && rec.Stale {
		r.stale[path] = struct{}{}
	}
}

// watchIncoming makes the answer depend on edges that name sym.
func (r *reader) watchIncoming(sym SymbolRef) {
	r.dependOn(facts.NameKey(sym.Name))
	r.dependOn(facts.NameKey(sym.QualifiedName))
}

func (r *reader) symbol(id facts.SymbolID) (SymbolRef, bool) {
	if ref, ok := r.syms[id]; ok {
		if ref == nil {
			return SymbolRef{}, false
		}
		return *ref, true
	}
	sym, ok := r.store.Symbol(id, r.sn)
	if !ok {
		r.syms[id] = nil
		return SymbolRef{}, false
	}
	ref := toRef(sym)
	r.syms[id] = &ref
	r.touchFile(ref.File)
	return ref, true
}

func (r *reader) edge(rel facts.Relationship) (Edge, bool) {
	from, ok := r.symbol(rel.Source)
	if !ok {
		return Edge{}, false
	}
	e := Edge{
		ID:         rel.ID,
		Kind:       rel.Kind,
		From:       from,
		TargetName: rel.TargetName,
		File:       rel.File,
		Line:       rel.Location.Line,
		Column:     rel.Location.Column,
	}
	if rel.Resolved() {
		if to, ok := r.symbol(rel.Target); ok {
			e.To = &to
		}
	}
	return e, true
}

// candidates lists the live symbols matching t, sorted.
func (r *reader) candidates(t Target) []SymbolRef {
	r.dependOn(facts.NameKey(t.Name))
	var out []SymbolRef
	for _, sym := range r.store.SymbolsByName(t.Name, r.sn) {
		if t.Kind != "" && sym.Kind != t.Kind {
			continue
		}
		if t.File != "" && sym.File != t.File {
			continue
		}
		r.touchFile(sym.File)
		out = append(out, toRef(sym))
	}
	sortRefs(out)
	return out
}

// resolve binds t. A single match is selected; several matches are
// reported as ambiguous and the caller does not traverse.
func (r *reader) resolve(t Target) Resolution {
	cands := r.candidates(t)
	switch len(cands) {
	case 0:
		return Resolution{}
	case 1:
		return Resolution{Target: &cands[0]}
	default:
		return Resolution{Ambiguous: true, Candidates: cands}
	}
}

func toRef(sym facts.Symbol) SymbolRef {
	return SymbolRef{
		ID:            sym.ID,
		Name:          sym.Name,
		QualifiedName: sym.QualifiedName,
		Kind:          sym.Kind,
		File:          sym.File,
		Line:          sym.Span.StartLine,
		Column:        sym.Span.StartColumn,
		Language:      sym.Language,
		Signature:     sym.Signature,
	}
}

func validationError(msg string) error {
	return errors.New(errors.CodeValidationError, msg)
}

// normalizeTarget validates t and cleans its file path.
func NormalizeTarget(t Target) (Target, error) {
	if t.Name == "" {
		return t, validationError("target name is required")
	}
	if t.Kind != "" {
		kind, ok := facts.ParseSymbolKind(string(t.Kind))
		if !ok {
			return t, errors.AddContext(validationError("unknown symbol kind"), "kind", string(t.Kind))
		}
		t.Kind = kind
	}
	t.File = util.NormalizePatternPath(t.File)
	return t, nil
}

func (e *Engine) depth(d int) (int, error) {
	if d < 0 {
		return 0, errors.AddContext(validationError("depth must not be negative"), "depth", d)
	}
	if e.limits.MaxDepth > 0 && d > e.limits.MaxDepth {
		d = e.limits.MaxDepth
	}
	return d, nil
}

func refLess(a, b SymbolRef) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func sortRefs(refs []SymbolRef) {
	sort.Slice(refs, func(i, j int) bool { return refLess(refs[i], refs[j]) })
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.From.Name != b.From.Name {
			return a.From.Name < b.From.Name
		}
		return a.ID < b.ID
	})
}
