package query

import (
	"codegraph/internal/data/facts"
)

// Target names the symbol a query starts from. Name may be simple or
// qualified; File and Kind narrow the candidates.
type Target struct {
	Name string           `json:"name"`
	File string           `json:"file,omitempty"`
	Kind facts.SymbolKind `json:"kind,omitempty"`
}

// SymbolRef is a symbol as reported to callers.
type SymbolRef struct {
	ID            facts.SymbolID   `json:"id"`
	Name          string           `json:"name"`
	QualifiedName string           `json:"qualified_name"`
	Kind          facts.SymbolKind `json:"kind"`
	File          string           `json:"file"`
	Line          int              `json:"line"`
	Column        int              `json:"column"`
	Language      string           `json:"language"`
	Signature     string           `json:"signature,omitempty"`
}

// Edge is one relationship with both ends expanded. To is nil for an
// unresolved placeholder; TargetName is always set.
type Edge struct {
	ID         facts.RelationshipID `json:"id"`
	Kind       facts.RelationKind   `json:"kind"`
	From       SymbolRef            `json:"from"`
	To         *SymbolRef           `json:"to,omitempty"`
	TargetName string               `json:"target_name"`
	File       string               `json:"file"`
	Line       int                  `json:"line"`
	Column     int                  `json:"column"`
}

// Meta is attached to every result: the snapshot revision the answer was
// computed at, the dependency keys it read, and the stale files it touched.
type Meta struct {
	Revision     facts.Revision            `json:"revision"`
	Dependencies map[string]facts.Revision `json:"-"`
	Stale        []string                  `json:"stale,omitempty"`
	Truncated    bool                      `json:"truncated,omitempty"`
	TimedOut     bool                      `json:"timed_out,omitempty"`
}

// Resolution records how the query target was bound.
type Resolution struct {
	Target     *SymbolRef  `json:"target,omitempty"`
	Ambiguous  bool        `json:"ambiguous,omitempty"`
	Candidates []SymbolRef `json:"candidates,omitempty"`
}

// Result is implemented by every query result.
type Result interface {
	Metadata() *Meta
}

type LookupResult struct {
	Candidates []SymbolRef `json:"candidates"`
	Meta
}

// NeighborResult answers one-hop queries: callers, callees, references.
type NeighborResult struct {
	Resolution
	Symbols []SymbolRef `json:"symbols"`
	Edges   []Edge      `json:"edges"`
	Meta
}

// FileDependency is one file the subject depends on.
type FileDependency struct {
	File  string               `json:"file"`
	Edges int                  `json:"edges"`
	Kinds []facts.RelationKind `json:"kinds"`
}

type DependencyResult struct {
	Resolution
	File     string           `json:"file,omitempty"`
	Files    []FileDependency `json:"files"`
	External []string         `json:"external"`
	Meta
}

type PathResult struct {
	From  Resolution  `json:"from"`
	To    Resolution  `json:"to"`
	Found bool        `json:"found"`
	Path  []SymbolRef `json:"path"`
	Edges []Edge      `json:"edges"`
	Meta
}

// ChangeKind is the hypothetical change an impact query evaluates.
type ChangeKind string

const (
	ChangeDelete     ChangeKind = "delete"
	ChangeRename     ChangeKind = "rename"
	ChangeChangeType ChangeKind = "change_type"
)

func ParseChangeKind(s string) (ChangeKind, bool) {
	switch ChangeKind(s) {
	case ChangeDelete, ChangeRename, ChangeChangeType:
		return ChangeKind(s), true
	}
	return "", false
}

// edgeKinds lists the incoming edges a change propagates along.
func (c ChangeKind) edgeKinds() []facts.RelationKind {
	if c == ChangeChangeType {
		return []facts.RelationKind{facts.RelCalls, facts.RelReferences, facts.RelInherits, facts.RelImplements}
	}
	return []facts.RelationKind{facts.RelCalls, facts.RelReferences, facts.RelImports, facts.RelInherits, facts.RelImplements}
}

// ImpactRequest describes a hypothetical change to Target.
type ImpactRequest struct {
	Target   Target
	Change   ChangeKind
	To       string
	MaxDepth int
}

// Impacted is a symbol reached by an impact traversal. Via is the edge kind
// it was first reached through.
type Impacted struct {
	SymbolRef
	Depth int                `json:"depth"`
	Via   facts.RelationKind `json:"via"`
}

type ImpactResult struct {
	Resolution
	Change   ChangeKind `json:"change"`
	To       string     `json:"to,omitempty"`
	Impacted []Impacted `json:"impacted"`
	Files    []string   `json:"files"`
	// Conflicts lists live symbols already named To on a rename.
	Conflicts []SymbolRef `json:"conflicts,omitempty"`
	Meta
}

func (r *LookupResult) Metadata() *Meta     { return &r.Meta }
func (r *NeighborResult) Metadata() *Meta   { return &r.Meta }
func (r *DependencyResult) Metadata() *Meta { return &r.Meta }
func (r *PathResult) Metadata() *Meta       { return &r.Meta }
func (r *ImpactResult) Metadata() *Meta     { return &r.Meta }
