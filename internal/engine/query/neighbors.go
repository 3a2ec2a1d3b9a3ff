package query

import (
	"codegraph/internal/data/facts"
	"codegraph/internal/shared/util"
	"context"
	"sort"
)

var (
	callKinds       = []facts.RelationKind{facts.RelCalls}
	referenceKinds  = []facts.RelationKind{facts.RelReferences, facts.RelCalls, facts.RelImports}
	dependencyKinds = []facts.RelationKind{facts.RelImports, facts.RelCalls}
)

// Lookup lists every live symbol answering to t: an exact simple or
// qualified name match, narrowed by kind and file.
func (e *Engine) Lookup(ctx context.Context, sn *facts.Snapshot, t Target) (*LookupResult, error) {
	t, err := NormalizeTarget(t)
	if err != nil {
		return nil, err
	}
	q := e.begin(ctx, sn, "lookup")
	res := &LookupResult{Candidates: q.candidates(t)}
	if res.Candidates == nil {
		res.Candidates = []SymbolRef{}
	}
	q.finish(&res.Meta)
	return res, nil
}

// Callers returns the symbols that call t.
func (e *Engine) Callers(ctx context.Context, sn *facts.Snapshot, t Target) (*NeighborResult, error) {
	return e.neighbors(ctx, sn, "callers", t, true, callKinds)
}

// Callees returns the symbols t calls. Unresolved calls appear among the
// edges with no To.
func (e *Engine) Callees(ctx context.Context, sn *facts.Snapshot, t Target) (*NeighborResult, error) {
	return e.neighbors(ctx, sn, "callees", t, false, callKinds)
}

// References returns every reference, call and import naming t.
func (e *Engine) References(ctx context.Context, sn *facts.Snapshot, t Target) (*NeighborResult, error) {
	return e.neighbors(ctx, sn, "references", t, true, referenceKinds)
}

func (e *Engine) neighbors(ctx context.Context, sn *facts.Snapshot, kind string, t Target, incoming bool, kinds []facts.RelationKind) (*NeighborResult, error) {
	t, err := NormalizeTarget(t)
	if err != nil {
		return nil, err
	}
	q := e.begin(ctx, sn, kind)
	res := &NeighborResult{Resolution: q.resolve(t), Symbols: []SymbolRef{}, Edges: []Edge{}}
	if res.Target == nil {
		q.finish(&res.Meta)
		return res, nil
	}

	target := *res.Target
	var rels []facts.Relationship
	if incoming {
		q.watchIncoming(target)
		rels = q.store.RelationshipsTo(target.ID, kinds, q.sn)
	} else {
		rels = q.store.RelationshipsFrom(target.ID, kinds, q.sn)
	}

	seenRel := make(map[facts.RelationshipID]struct{}, len(rels))
	seenSym := make(map[facts.SymbolID]struct{})
	for _, rel := range rels {
		if _, dup := seenRel[rel.ID]; dup {
			continue
		}
		seenRel[rel.ID] = struct{}{}
		edge, ok := q.edge(rel)
		if !ok {
			continue
		}
		res.Edges = append(res.Edges, edge)

		other := edge.From
		if !incoming {
			if edge.To == nil {
				continue
			}
			other = *edge.To
		}
		if _, dup := seenSym[other.ID]; dup {
			continue
		}
		seenSym[other.ID] = struct{}{}
		res.Symbols = append(res.Symbols, other)
	}
	sortRefs(res.Symbols)
	sortEdges(res.Edges)
	q.finish(&res.Meta)
	return res, nil
}

// DependencyRequest names either a symbol or, with an empty Target name,
// a whole file.
type DependencyRequest struct {
	Target Target
	File   string
}

// Dependencies rolls the outgoing imports and calls of a symbol or file up
// to the files they land in. Unresolved targets are external.
func (e *Engine) Dependencies(ctx context.Context, sn *facts.Snapshot, req DependencyRequest) (*DependencyResult, error) {
	fileMode := req.Target.Name == ""
	var t Target
	if fileMode {
		req.File = util.NormalizePatternPath(req.File)
		if req.File == "" {
			return nil, validationError("a target name or file is required")
		}
	} else {
		var err error
		if t, err = NormalizeTarget(req.Target); err != nil {
			return nil, err
		}
	}

	q := e.begin(ctx, sn, "dependencies")
	res := &DependencyResult{Files: []FileDependency{}, External: []string{}}

	var subject string
	var rels []facts.Relationship
	if fileMode {
		subject = req.File
		res.File = subject
		q.touchFile(subject)
		for _, rel := range q.store.RelationshipsInFile(subject, q.sn) {
			if rel.Kind == facts.RelImports || rel.Kind == facts.RelCalls {
				rels = append(rels, rel)
			}
		}
	} else {
		res.Resolution = q.resolve(t)
		if res.Target == nil {
			q.finish(&res.Meta)
			return res, nil
		}
		subject = res.Target.File
		rels = q.store.RelationshipsFrom(res.Target.ID, dependencyKinds, q.sn)
	}

	type rollup struct {
		edges int
		kinds map[facts.RelationKind]struct{}
	}
	files := make(map[string]*rollup)
	external := make(map[string]struct{})
	for _, rel := range rels {
		if !rel.Resolved() {
			external[rel.TargetName] = struct{}{}
			continue
		}
		to, ok := q.symbol(rel.Target)
		if !ok {
			external[rel.TargetName] = struct{}{}
			continue
		}
		if to.File == subject {
			continue
		}
		r := files[to.File]
		if r == nil {
			r = &rollup{kinds: make(map[facts.RelationKind]struct{})}
			files[to.File] = r
		}
		r.edges++
		r.kinds[rel.Kind] = struct{}{}
	}

	for _, file := range util.SortedStringKeys(files) {
		r := files[file]
		dep := FileDependency{File: file, Edges: r.edges}
		for kind := range r.kinds {
			dep.Kinds = append(dep.Kinds, kind)
		}
		sort.Slice(dep.Kinds, func(i, j int) bool { return dep.Kinds[i] < dep.Kinds[j] })
		res.Files = append(res.Files, dep)
	}
	res.External = append(res.External, util.SortedStringKeys(external)...)
	q.finish(&res.Meta)
	return res, nil
}
