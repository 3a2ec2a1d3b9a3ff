package facts

import (
	"fmt"
	"strings"
)

// Revision is the global commit counter. Revision 0 is the empty index.
type Revision uint64

type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
	KindType     SymbolKind = "type"
	KindField    SymbolKind = "field"
	KindVariable SymbolKind = "variable"
	KindConstant SymbolKind = "constant"
	// KindModule is the per-file owner of file-level facts (imports,
	// top-level calls).
	KindModule SymbolKind = "module"
)

var symbolKinds = []SymbolKind{KindFunction, KindMethod, KindType, KindField, KindVariable, KindConstant, KindModule}

// ParseSymbolKind accepts a kind name case-insensitively.
func ParseSymbolKind(s string) (SymbolKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range symbolKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type RelationKind string

const (
	RelCalls      RelationKind = "calls"
	RelReferences RelationKind = "references"
	RelInherits   RelationKind = "inherits"
	RelImplements RelationKind = "implements"
	RelImports    RelationKind = "imports"
)

// RelationKinds lists every relationship kind in a stable order.
var RelationKinds = []RelationKind{RelCalls, RelReferences, RelInherits, RelImplements, RelImports}

func ParseRelationKind(s string) (RelationKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range RelationKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type SymbolID string

type RelationshipID string

// NewSymbolID derives a symbol's ID from its identity. ordinal separates
// repeated identities inside one file and is omitted when zero.
func NewSymbolID(file, qualifiedName string, kind SymbolKind, ordinal int) SymbolID {
	id := fmt.Sprintf("%s#%s:%s", file, qualifiedName, kind)
	if ordinal > 0 {
		id = fmt.Sprintf("%s~%d", id, ordinal)
	}
	return SymbolID(id)
}

// NewRelationshipID derives an edge ID from its source, kind and target
// name. The source ID already names the origin file. ordinal separates
// repeated edges from one source and is omitted when zero.
func NewRelationshipID(source SymbolID, kind RelationKind, targetName string, ordinal int) RelationshipID {
	id := fmt.Sprintf("%s->%s:%s", source, targetName, kind)
	if ordinal > 0 {
		id = fmt.Sprintf("%s~%d", id, ordinal)
	}
	return RelationshipID(id)
}

type Span struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

type Location struct {
	File   string
	Line   int
	Column int
}

// Symbol is one version of a symbol record. Span is filled from the file
// revision visible to the reading snapshot.
type Symbol struct {
	ID            SymbolID
	Name          string
	QualifiedName string
	Kind          SymbolKind
	File          string
	Language      string
	Signature     string
	SignatureHash string
	Span          Span
	Created       Revision
	Retired       Revision
}

// Relationship is one version of an edge record. Target is empty while the
// edge is an unresolved placeholder; TargetName is always set.
type Relationship struct {
	ID         RelationshipID
	Source     SymbolID
	Target     SymbolID
	TargetName string
	Kind       RelationKind
	File       string
	Location   Location
	Created    Revision
	Retired    Revision
}

func (r Relationship) Resolved() bool {
	return r.Target != ""
}

// FileRecord is one revision of a file. Spans and Locations hold the source
// positions of the file's live facts at that revision.
type FileRecord struct {
	Path        string
	ContentHash string
	Language    string
	Revision    Revision
	Retired     Revision
	Stale       bool
	StaleReason string
	Deleted     bool
	SymbolIDs   []SymbolID
	Spans       map[SymbolID]Span
	Locations   map[RelationshipID]Location
}

func visibleAt(created, retired, at Revision) bool {
	return created <= at && (retired == 0 || at < retired)
}

// Delta is everything one file change commits. Relationships in
// AddedRelationships may originate in other files when placeholders are
// re-bound or demoted; those files get a new revision too.
type Delta struct {
	File                 string
	Revision             Revision
	AddedSymbols         []Symbol
	RemovedSymbols       []SymbolID
	AddedRelationships   []Relationship
	RemovedRelationships []RelationshipID
	Record               FileRecord
}

// FileRevision names a file whose revision advanced in a commit.
type FileRevision struct {
	Path     string
	Revision Revision
}

type CommitResult struct {
	Revision Revision
	Files    []FileRevision
	Names    []string
}

const (
	fileKeyPrefix = "file:"
	nameKeyPrefix = "name:"
)

// FileKey is the dependency key tracking a file's revision.
func FileKey(path string) string { return fileKeyPrefix + path }

// NameKey is the dependency key tracking the set of symbols answering to a
// name.
func NameKey(name string) string { return nameKeyPrefix + name }
