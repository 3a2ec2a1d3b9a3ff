package query

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/data/facts"
	"context"
	"sort"
)

// PathRequest asks for the shortest outgoing path between two symbols.
// An empty Kinds allows every relationship kind.
type PathRequest struct {
	From     Target
	To       Target
	Kinds    []facts.RelationKind
	MaxDepth int
}

type step struct {
	ref  SymbolRef
	edge Edge
}

type hop struct {
	parent facts.SymbolID
	edge   Edge
}

// Path runs a breadth-first search over outgoing edges. Neighbors are
// expanded in (name, ID) order, so among shortest paths the one with the
// lexicographically smallest symbol names wins.
func (e *Engine) Path(ctx context.Context, sn *facts.Snapshot, req PathRequest) (*PathResult, error) {
	from, err := NormalizeTarget(req.From)
	if err != nil {
		return nil, err
	}
	to, err := NormalizeTarget(req.To)
	if err != nil {
		return nil, err
	}
	maxDepth, err := e.depth(req.MaxDepth)
	if err != nil {
		return nil, err
	}
	kinds := make([]facts.RelationKind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kind, ok := facts.ParseRelationKind(string(k))
		if !ok {
			return nil, errors.AddContext(validationError("unknown relationship kind"), "kind", string(k))
		}
		kinds = append(kinds, kind)
	}

	q := e.begin(ctx, sn, "path")
	res := &PathResult{From: q.resolve(from), To: q.resolve(to), Path: []SymbolRef{}, Edges: []Edge{}}
	if res.From.Target == nil || res.To.Target == nil {
		q.finish(&res.Meta)
		return res, nil
	}
	start, goal := *res.From.Target, *res.To.Target
	if start.ID == goal.ID {
		res.Found = true
		res.Path = []SymbolRef{start}
		q.finish(&res.Meta)
		return res, nil
	}

	prev := map[facts.SymbolID]hop{}
	visited := map[facts.SymbolID]struct{}{start.ID: {}}
	frontier := []facts.SymbolID{start.ID}

search:
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []facts.SymbolID
		for _, id := range frontier {
			if q.expired() {
				break search
			}
			for _, n := range q.outgoing(id, kinds) {
				if _, seen := visited[n.ref.ID]; seen {
					continue
				}
				visited[n.ref.ID] = struct{}{}
				prev[n.ref.ID] = hop{parent: id, edge: n.edge}
				if n.ref.ID == goal.ID {
					res.Found = true
					break search
				}
				if e.limits.MaxNodes > 0 && len(visited) >= e.limits.MaxNodes {
					res.Truncated = true
					break search
				}
				next = append(next, n.ref.ID)
			}
		}
		frontier = next
	}

	if res.Found {
		var path []SymbolRef
		var edges []Edge
		for cur := goal.ID; cur != start.ID; cur = prev[cur].parent {
			h := prev[cur]
			path = append(path, *h.edge.To)
			edges = append(edges, h.edge)
		}
		path = append(path, start)
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
		for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
			edges[i], edges[j] = edges[j], edges[i]
		}
		res.Path, res.Edges = path, edges
	}
	q.finish(&res.Meta)
	return res, nil
}

// outgoing returns the distinct resolved neighbors of id in (name, ID)
// order, each with the first edge reaching it.
func (r *reader) outgoing(id facts.SymbolID, kinds []facts.RelationKind) []step {
	var steps []step
	for _, rel := range r.store.RelationshipsFrom(id, kinds, r.sn) {
		if !rel.Resolved() {
			continue
		}
		edge, ok := r.edge(rel)
		if !ok || edge.To == nil {
			continue
		}
		steps = append(steps, step{ref: *edge.To, edge: edge})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i].ref, steps[j].ref
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	out := steps[:0]
	var last facts.SymbolID
	for i, s := range steps {
		if i > 0 && s.ref.ID == last {
			continue
		}
		last = s.ref.ID
		out = append(out, s)
	}
	return out
}

// Impact computes the transitive set of symbols affected by a change to
// the target, following incoming edges up to MaxDepth hops.
func (e *Engine) Impact(ctx context.Context, sn *facts.Snapshot, req ImpactRequest) (*ImpactResult, error) {
	t, err := NormalizeTarget(req.Target)
	if err != nil {
		return nil, err
	}
	change, ok := ParseChangeKind(string(req.Change))
	if !ok {
		return nil, errors.AddContext(validationError("invalid change kind"), "change", string(req.Change))
	}
	if change != ChangeDelete && req.To == "" {
		return nil, errors.AddContext(validationError("change requires a 'to' value"), "change", string(change))
	}
	maxDepth, err := e.depth(req.MaxDepth)
	if err != nil {
		return nil, err
	}

	q := e.begin(ctx, sn, "impact")
	res := &ImpactResult{
		Resolution: q.resolve(t),
		Change:     change,
		To:         req.To,
		Impacted:   []Impacted{},
		Files:      []string{},
	}
	if res.Target == nil {
		q.finish(&res.Meta)
		return res, nil
	}
	target := *res.Target

	if change == ChangeRename {
		for _, c := range q.candidates(Target{Name: req.To, Kind: target.Kind}) {
			if c.ID != target.ID {
				res.Conflicts = append(res.Conflicts, c)
			}
		}
	}

	kinds := change.edgeKinds()
	visited := map[facts.SymbolID]struct{}{target.ID: {}}
	frontier := []SymbolRef{target}
	files := make(map[string]struct{})
	selfImpacted := false

walk:
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []SymbolRef
		for _, cur := range frontier {
			if q.expired() {
				break walk
			}
			q.watchIncoming(cur)
			for _, rel := range q.store.RelationshipsTo(cur.ID, kinds, q.sn) {
				// A cycle back into the target reports it once and stops there.
				self := rel.Source == target.ID
				if self && selfImpacted {
					continue
				}
				if _, seen := visited[rel.Source]; seen && !self {
					continue
				}
				src, ok := q.symbol(rel.Source)
				if !ok {
					continue
				}
				if e.limits.MaxNodes > 0 && len(res.Impacted) >= e.limits.MaxNodes {
					res.Truncated = true
					break walk
				}
				res.Impacted = append(res.Impacted, Impacted{SymbolRef: src, Depth: depth, Via: rel.Kind})
				files[src.File] = struct{}{}
				if self {
					selfImpacted = true
					continue
				}
				visited[src.ID] = struct{}{}
				next = append(next, src)
			}
		}
		frontier = next
	}

	sort.Slice(res.Impacted, func(i, j int) bool { return refLess(res.Impacted[i].SymbolRef, res.Impacted[j].SymbolRef) })
	for f := range files {
		res.Files = append(res.Files, f)
	}
	sort.Strings(res.Files)
	q.finish(&res.Meta)
	return res, nil
}
