package parser

import (
	"codegraph/internal/data/facts"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// NodeHandler processes a node for a language-specific extractor.
// Returns true if the handler has processed children and the walker should stop.
type NodeHandler func(ctx *ExtractionContext, node *sitter.Node) bool

// ExtractionContext carries shared state/helpers used by all extractors.
type ExtractionContext struct {
	Source            []byte
	File              *File
	ProcessedChildren bool // If true, the walker will skip this node's children

	engine *ExtractorEngine
	scope  []string
	locals map[string]bool
}

func (c *ExtractionContext) ResetProcessedChildren() {
	c.ProcessedChildren = false
}

// ExtractorEngine walks the syntax tree and dispatches node handlers by kind.
type ExtractorEngine struct {
	handlers map[string]NodeHandler
}

func NewExtractorEngine(handlers map[string]NodeHandler) *ExtractorEngine {
	return &ExtractorEngine{handlers: handlers}
}

// Run walks root with a fresh context for file.
func (e *ExtractorEngine) Run(file *File, source []byte, root *sitter.Node) *ExtractionContext {
	ctx := &ExtractionContext{Source: source, File: file, engine: e, locals: map[string]bool{}}
	e.Walk(ctx, root)
	return ctx
}

func (e *ExtractorEngine) Walk(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil {
		return
	}

	ctx.ResetProcessedChildren()
	stop := false
	if handler, ok := e.handlers[node.Kind()]; ok {
		stop = handler(ctx, node)
	}

	if !stop && !ctx.ProcessedChildren {
		e.walkChildren(ctx, node)
	}
}

func (e *ExtractorEngine) walkChildren(ctx *ExtractionContext, node *sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		e.Walk(ctx, node.Child(i))
	}
}

// WalkChildren continues the walk below node from inside a handler.
func (c *ExtractionContext) WalkChildren(node *sitter.Node) {
	if node == nil || c.engine == nil {
		return
	}
	c.engine.walkChildren(c, node)
	c.ProcessedChildren = true
}

// WalkNode walks node itself, dispatching its handler.
func (c *ExtractionContext) WalkNode(node *sitter.Node) {
	if node == nil || c.engine == nil {
		return
	}
	c.engine.Walk(c, node)
	c.ProcessedChildren = true
}

// Within runs fn with qualified as the innermost definition scope.
func (c *ExtractionContext) Within(qualified string, fn func()) {
	c.scope = append(c.scope, qualified)
	defer func() { c.scope = c.scope[:len(c.scope)-1] }()
	fn()
}

// Enclosing is the qualified name of the innermost open definition, or ""
// at file level.
func (c *ExtractionContext) Enclosing() string {
	if len(c.scope) == 0 {
		return ""
	}
	return c.scope[len(c.scope)-1]
}

// Qualify prefixes name with the enclosing scope.
func (c *ExtractionContext) Qualify(name string) string {
	if len(c.scope) == 0 {
		return name
	}
	return c.Enclosing() + "." + name
}

func (c *ExtractionContext) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.Source[node.StartByte():node.EndByte()])
}

func (c *ExtractionContext) Location(node *sitter.Node) Location {
	return Location{
		File:   c.File.Path,
		Line:   int(node.StartPosition().Row) + 1,
		Column: int(node.StartPosition().Column) + 1,
	}
}

func (c *ExtractionContext) Span(node *sitter.Node) facts.Span {
	start, end := node.StartPosition(), node.EndPosition()
	return facts.Span{
		StartLine:   int(start.Row) + 1,
		StartColumn: int(start.Column) + 1,
		EndLine:     int(end.Row) + 1,
		EndColumn:   int(end.Column) + 1,
	}
}

func (c *ExtractionContext) ChildText(node *sitter.Node, kind string) string {
	if child := childOfKind(node, kind); child != nil {
		return c.Text(child)
	}
	return ""
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Kind() == b.Kind()
}

func childOfKind(node *sitter.Node, kinds ...string) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		for _, kind := range kinds {
			if child.Kind() == kind {
				return child
			}
		}
	}
	return nil
}

// Define records a definition in the current scope and returns its
// qualified name.
func (c *ExtractionContext) Define(name string, kind facts.SymbolKind, signature string, node *sitter.Node, exported bool) string {
	qualified := c.Qualify(name)
	c.File.Definitions = append(c.File.Definitions, Definition{
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		Signature:     normalizeSignature(signature),
		Span:          c.Span(node),
		Exported:      exported,
	})
	return qualified
}

// Refer records a use of name from the current scope.
func (c *ExtractionContext) Refer(name string, kind facts.RelationKind, node *sitter.Node) {
	name = normalizeRefName(name)
	if name == "" {
		return
	}
	c.File.References = append(c.File.References, Reference{
		Name:      name,
		Kind:      kind,
		Enclosing: c.Enclosing(),
		Location:  c.Location(node),
	})
}

func (c *ExtractionContext) Import(module, alias string, node *sitter.Node) {
	module = trimQuoted(module)
	if module == "" {
		return
	}
	c.File.Imports = append(c.File.Imports, Import{Module: module, Alias: alias, Location: c.Location(node)})
}

func (c *ExtractionContext) AddLocal(name string) {
	if name != "" {
		c.locals[name] = true
	}
}

func (c *ExtractionContext) IsLocal(name string) bool {
	return c.locals[name]
}

// AppendLocalIdentifiers marks every identifier below node as local.
func (c *ExtractionContext) AppendLocalIdentifiers(node *sitter.Node) {
	if node == nil {
		return
	}
	if node.Kind() == "identifier" {
		c.AddLocal(c.Text(node))
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		c.AppendLocalIdentifiers(node.Child(i))
	}
}
