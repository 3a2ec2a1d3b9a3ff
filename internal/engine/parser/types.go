package parser

import (
	"codegraph/internal/data/facts"
	"time"
)

// File is everything one parse of a source file produced. Definitions and
// References are in source order.
type File struct {
	Path        string
	Language    string
	Module      string // module/package name the file belongs to
	Imports     []Import
	Definitions []Definition
	References  []Reference
	ParsedAt    time.Time
}

type Import struct {
	Module   string
	Alias    string
	Location Location
}

type Definition struct {
	Name string
	// QualifiedName joins enclosing definitions with ".", e.g. "Server.Start".
	QualifiedName string
	Kind          facts.SymbolKind
	Signature     string
	Span          facts.Span
	Exported      bool
}

// Reference is a use of a name inside the definition whose qualified name
// is Enclosing. An empty Enclosing means file level.
type Reference struct {
	Name      string
	Kind      facts.RelationKind
	Enclosing string
	Location  Location
}

type Location struct {
	File   string
	Line   int
	Column int
}
