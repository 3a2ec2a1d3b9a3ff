package parser

import (
	"codegraph/internal/data/facts"
	"path"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// DefinitionRule says how one node kind defines a symbol.
type DefinitionRule struct {
	Kind facts.SymbolKind
	// InTypeKind replaces Kind when the node sits directly in a type body.
	InTypeKind facts.SymbolKind
	// NameField names the child holding the symbol name.
	NameField string
	// Each, when set, makes every child of that kind define one symbol
	// (e.g. several declarators in one field declaration).
	Each string
	// Type marks definitions whose body holds members.
	Type bool
	// TopLevelOnly ignores the node below file level.
	TopLevelOnly bool
	// FunctionValues upgrades a variable to a function when its value
	// node has one of these kinds.
	FunctionValues []string
}

// LanguageTable drives TableExtractor for one language.
type LanguageTable struct {
	Language string
	// ModuleOf derives the module name from the file path.
	ModuleOf func(filePath string) string
	// PackageNode is a node kind whose name child overrides the module.
	PackageNode string
	Definitions map[string]DefinitionRule
	// Calls maps a call node kind to the field holding the callee.
	Calls map[string]string
	// Imports maps an import node kind to the field holding the module;
	// an empty field uses the node text without keywords.
	Imports  map[string]string
	Heritage map[string]facts.RelationKind
	TypeRefs []string
	// Skip lists node kinds whose subtrees carry nothing worth recording.
	Skip []string
	// ImplNode opens a member scope for an existing type (Rust impl).
	ImplNode string
	// RequireCallee is a call that acts as an import (CommonJS require).
	RequireCallee string
	// ResolveImport maps an import specifier to a module name.
	ResolveImport func(filePath, spec string) string
}

// TableExtractor extracts facts using a LanguageTable instead of
// hand-written handlers.
type TableExtractor struct {
	table LanguageTable
}

func NewTableExtractor(table LanguageTable) *TableExtractor {
	return &TableExtractor{table: table}
}

// tableWalk is the per-file state of one extraction.
type tableWalk struct {
	table  *LanguageTable
	frames []bool // true for type bodies
}

func (w *tableWalk) inType() bool {
	return len(w.frames) > 0 && w.frames[len(w.frames)-1]
}

func (w *tableWalk) within(ctx *ExtractionContext, name string, isType bool, fn func()) {
	w.frames = append(w.frames, isType)
	defer func() { w.frames = w.frames[:len(w.frames)-1] }()
	ctx.Within(name, fn)
}

func (e *TableExtractor) Extract(root *sitter.Node, source []byte, filePath string) (*File, error) {
	t := &e.table
	file := &File{
		Path:     filePath,
		Language: t.Language,
		ParsedAt: time.Now(),
	}
	if t.ModuleOf != nil {
		file.Module = t.ModuleOf(filePath)
	}
	w := &tableWalk{table: t}

	handlers := make(map[string]NodeHandler)
	if t.PackageNode != "" {
		handlers[t.PackageNode] = w.extractPackage
	}
	for kind, rule := range t.Definitions {
		handlers[kind] = w.define(rule)
	}
	for kind, field := range t.Calls {
		handlers[kind] = w.call(field)
	}
	for kind, field := range t.Imports {
		handlers[kind] = w.importHandler(field)
	}
	for kind, rel := range t.Heritage {
		handlers[kind] = w.heritage(rel)
	}
	for _, kind := range t.TypeRefs {
		handlers[kind] = w.typeRef
	}
	for _, kind := range t.Skip {
		handlers[kind] = skipNode
	}
	if t.ImplNode != "" {
		handlers[t.ImplNode] = w.impl
	}
	NewExtractorEngine(handlers).Run(file, source, root)
	return file, nil
}

func (w *tableWalk) extractPackage(ctx *ExtractionContext, node *sitter.Node) bool {
	if name := childOfKind(node, "scoped_identifier", "identifier"); name != nil {
		ctx.File.Module = ctx.Text(name)
	}
	return true
}

func (w *tableWalk) define(rule DefinitionRule) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		if rule.TopLevelOnly && ctx.Enclosing() != "" {
			return false
		}
		kind := rule.Kind
		if rule.InTypeKind != "" && w.inType() {
			kind = rule.InTypeKind
		}
		if rule.Each != "" {
			w.defineEach(ctx, node, rule, kind)
			return true
		}

		nameNode := node.ChildByFieldName(rule.NameField)
		if nameNode == nil {
			return false
		}
		name := lastSegment(ctx.Text(nameNode))
		if name == "" {
			return false
		}
		if value := node.ChildByFieldName("value"); value != nil && containsKind(rule.FunctionValues, value.Kind()) {
			kind = facts.KindFunction
		}
		qualified := ctx.Define(name, kind, headerText(ctx, node), node, exportedNode(ctx, node))
		w.within(ctx, qualified, rule.Type, func() {
			for i := uint(0); i < node.ChildCount(); i++ {
				if child := node.Child(i); !sameNode(child, nameNode) {
					ctx.WalkNode(child)
				}
			}
		})
		return true
	}
}

// defineEach handles declarations such as `int a, b = f();` where every
// declarator names its own symbol and shares the declared type.
func (w *tableWalk) defineEach(ctx *ExtractionContext, node *sitter.Node, rule DefinitionRule, kind facts.SymbolKind) {
	typeNode := node.ChildByFieldName("type")
	typeText := ctx.Text(typeNode)
	exported := exportedNode(ctx, node)
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() != rule.Each {
			continue
		}
		nameNode := child.ChildByFieldName(rule.NameField)
		if nameNode == nil {
			continue
		}
		name := ctx.Text(nameNode)
		qualified := ctx.Define(name, kind, strings.TrimSpace(typeText+" "+name), child, exported)
		w.within(ctx, qualified, false, func() {
			ctx.WalkNode(child.ChildByFieldName("value"))
		})
	}
	ctx.WalkNode(typeNode)
}

var calleeKinds = map[string]bool{
	"identifier": true, "member_expression": true, "scoped_identifier": true,
	"field_expression": true, "generic_function": true, "type_identifier": true,
	"scoped_type_identifier": true, "generic_type": true, "property_identifier": true,
	"field_identifier": true,
}

func (w *tableWalk) call(field string) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		callee := node.ChildByFieldName(field)
		args := node.ChildByFieldName("arguments")
		if callee != nil && calleeKinds[callee.Kind()] {
			name := lastSegment(ctx.Text(callee))
			if w.table.RequireCallee != "" && name == w.table.RequireCallee && callee.Kind() == "identifier" {
				if spec := firstStringArgument(ctx, args); spec != "" {
					ctx.Import(w.resolveImport(ctx, spec), "", node)
				}
			} else {
				ctx.Refer(name, facts.RelCalls, callee)
			}
			// Receivers may themselves be calls: a().b().
			for _, receiver := range []string{"object", "value", "function"} {
				if sub := callee.ChildByFieldName(receiver); sub != nil {
					ctx.WalkNode(sub)
				}
			}
		} else if callee != nil {
			ctx.WalkNode(callee)
		}
		if receiver := node.ChildByFieldName("object"); receiver != nil {
			ctx.WalkNode(receiver)
		}
		ctx.WalkNode(args)
		// Anonymous class bodies.
		ctx.WalkNode(childOfKind(node, "class_body"))
		return true
	}
}

func firstStringArgument(ctx *ExtractionContext, args *sitter.Node) string {
	if args == nil {
		return ""
	}
	for i := uint(0); i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		if arg.Kind() == "string" || arg.Kind() == "template_string" {
			return trimQuoted(ctx.Text(arg))
		}
		return ""
	}
	return ""
}

func (w *tableWalk) resolveImport(ctx *ExtractionContext, spec string) string {
	if w.table.ResolveImport == nil {
		return spec
	}
	return w.table.ResolveImport(ctx.File.Path, spec)
}

func (w *tableWalk) importHandler(field string) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		var spec string
		if field != "" {
			spec = trimQuoted(ctx.Text(node.ChildByFieldName(field)))
		} else {
			spec = importText(ctx.Text(node))
		}
		if spec == "" {
			return true
		}
		ctx.Import(w.resolveImport(ctx, spec), "", node)

		// Named bindings point at the imported symbols themselves.
		switch {
		case field == "source":
			for _, spec := range descendantsOfKind(node, "import_specifier") {
				if name := spec.ChildByFieldName("name"); name != nil {
					ctx.Refer(ctx.Text(name), facts.RelImports, name)
				}
			}
		case !strings.ContainsAny(spec, "{*"):
			ctx.Refer(lastSegment(spec), facts.RelImports, node)
		}
		return true
	}
}

// importText strips keywords and punctuation from an import statement:
// "import static a.b.C;" -> "a.b.C", "use crate::x::Y;" -> "crate::x::Y".
func importText(text string) string {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ";"))
	for _, kw := range []string{"pub(crate) ", "pub ", "import ", "use ", "static "} {
		text = strings.TrimPrefix(text, kw)
	}
	if i := strings.Index(text, " as "); i >= 0 {
		text = text[:i]
	}
	return normalizeRefName(text)
}

func (w *tableWalk) heritage(rel facts.RelationKind) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		for _, base := range heritageNames(node) {
			ctx.Refer(lastSegment(ctx.Text(base)), rel, base)
		}
		return true
	}
}

var heritageLeafKinds = map[string]bool{
	"identifier": true, "type_identifier": true, "member_expression": true,
	"scoped_type_identifier": true, "nested_type_identifier": true,
	"generic_type": true, "scoped_identifier": true,
}

func heritageNames(node *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		switch {
		case child.Kind() == "type_arguments":
		case heritageLeafKinds[child.Kind()]:
			out = append(out, child)
		default:
			out = append(out, heritageNames(child)...)
		}
	}
	return out
}

func (w *tableWalk) typeRef(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.Refer(ctx.Text(node), facts.RelReferences, node)
	return true
}

// impl opens the member scope of the implemented type. A trait being
// implemented is recorded from the type.
func (w *tableWalk) impl(ctx *ExtractionContext, node *sitter.Node) bool {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return false
	}
	typeName := lastSegment(ctx.Text(typeNode))
	w.within(ctx, typeName, true, func() {
		if trait := node.ChildByFieldName("trait"); trait != nil {
			ctx.Refer(lastSegment(ctx.Text(trait)), facts.RelImplements, trait)
		}
		ctx.WalkNode(node.ChildByFieldName("body"))
	})
	return true
}

// headerText is the declaration up to its body, which is what a
// signature change means for containers and callables alike.
func headerText(ctx *ExtractionContext, node *sitter.Node) string {
	body := node.ChildByFieldName("body")
	if body == nil {
		return ctx.Text(node)
	}
	return string(ctx.Source[node.StartByte():body.StartByte()])
}

func exportedNode(ctx *ExtractionContext, node *sitter.Node) bool {
	if mods := childOfKind(node, "modifiers"); mods != nil {
		return strings.Contains(ctx.Text(mods), "public")
	}
	if childOfKind(node, "visibility_modifier", "accessibility_modifier") != nil {
		return true
	}
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "export_statement":
			return true
		case "lexical_declaration", "variable_declaration":
			continue
		}
		break
	}
	return false
}

func containsKind(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func descendantsOfKind(node *sitter.Node, kind string) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		for i := uint(0); i < n.NamedChildCount(); i++ {
			child := n.NamedChild(i)
			if child.Kind() == kind {
				out = append(out, child)
				continue
			}
			walk(child)
		}
	}
	walk(node)
	return out
}

// jsModule names a JS/TS file by its path without extension, folding
// index files into their directory.
func jsModule(filePath string) string {
	clean := path.Clean(strings.ReplaceAll(filePath, "\\", "/"))
	clean = strings.TrimSuffix(clean, path.Ext(clean))
	if path.Base(clean) == "index" && path.Dir(clean) != "." {
		clean = path.Dir(clean)
	}
	return strings.TrimPrefix(clean, "./")
}

// resolveJSImport resolves relative specifiers against the importing file
// so they match jsModule names; package specifiers pass through.
func resolveJSImport(filePath, spec string) string {
	if !strings.HasPrefix(spec, ".") {
		return spec
	}
	dir := path.Dir(strings.ReplaceAll(filePath, "\\", "/"))
	return jsModule(path.Join(dir, spec))
}

// rustModule names a Rust file by its stem; mod.rs, lib.rs and main.rs
// take their directory's name.
func rustModule(filePath string) string {
	stem := fileStem(filePath)
	switch stem {
	case "mod", "lib", "main":
		if dir := path.Base(path.Dir(strings.ReplaceAll(filePath, "\\", "/"))); dir != "." && dir != "/" {
			return dir
		}
	}
	return stem
}

var javaTable = LanguageTable{
	Language:    "java",
	ModuleOf:    fileStem,
	PackageNode: "package_declaration",
	Definitions: map[string]DefinitionRule{
		"class_declaration":           {Kind: facts.KindType, NameField: "name", Type: true},
		"interface_declaration":       {Kind: facts.KindType, NameField: "name", Type: true},
		"enum_declaration":            {Kind: facts.KindType, NameField: "name", Type: true},
		"record_declaration":          {Kind: facts.KindType, NameField: "name", Type: true},
		"annotation_type_declaration": {Kind: facts.KindType, NameField: "name", Type: true},
		"method_declaration":          {Kind: facts.KindMethod, NameField: "name"},
		"constructor_declaration":     {Kind: facts.KindMethod, NameField: "name"},
		"field_declaration":           {Kind: facts.KindField, NameField: "name", Each: "variable_declarator"},
		"constant_declaration":        {Kind: facts.KindConstant, NameField: "name", Each: "variable_declarator"},
		"enum_constant":               {Kind: facts.KindConstant, NameField: "name"},
	},
	Calls: map[string]string{
		"method_invocation":          "name",
		"object_creation_expression": "type",
	},
	Imports: map[string]string{"import_declaration": ""},
	Heritage: map[string]facts.RelationKind{
		"superclass":         facts.RelInherits,
		"super_interfaces":   facts.RelImplements,
		"extends_interfaces": facts.RelInherits,
	},
	TypeRefs: []string{"type_identifier"},
	Skip:     []string{"type_parameters", "annotation", "marker_annotation", "line_comment", "block_comment"},
}

var rustTable = LanguageTable{
	Language: "rust",
	ModuleOf: rustModule,
	Definitions: map[string]DefinitionRule{
		"function_item":           {Kind: facts.KindFunction, InTypeKind: facts.KindMethod, NameField: "name"},
		"function_signature_item": {Kind: facts.KindMethod, NameField: "name"},
		"struct_item":             {Kind: facts.KindType, NameField: "name", Type: true},
		"enum_item":               {Kind: facts.KindType, NameField: "name", Type: true},
		"union_item":              {Kind: facts.KindType, NameField: "name", Type: true},
		"trait_item":              {Kind: facts.KindType, NameField: "name", Type: true},
		"type_item":               {Kind: facts.KindType, NameField: "name"},
		"field_declaration":       {Kind: facts.KindField, NameField: "name"},
		"const_item":              {Kind: facts.KindConstant, NameField: "name"},
		"static_item":             {Kind: facts.KindVariable, NameField: "name"},
	},
	Calls:    map[string]string{"call_expression": "function"},
	Imports:  map[string]string{"use_declaration": ""},
	TypeRefs: []string{"type_identifier"},
	Skip:     []string{"type_parameters", "attribute_item", "line_comment", "block_comment"},
	ImplNode: "impl_item",
}

var jsFunctionValues = []string{"arrow_function", "function_expression", "function", "generator_function"}

var javascriptTable = LanguageTable{
	Language: "javascript",
	ModuleOf: jsModule,
	Definitions: map[string]DefinitionRule{
		"function_declaration":           {Kind: facts.KindFunction, InTypeKind: facts.KindMethod, NameField: "name"},
		"generator_function_declaration": {Kind: facts.KindFunction, NameField: "name"},
		"class_declaration":              {Kind: facts.KindType, NameField: "name", Type: true},
		"method_definition":              {Kind: facts.KindMethod, NameField: "name"},
		"field_definition":               {Kind: facts.KindField, NameField: "property"},
		"variable_declarator":            {Kind: facts.KindVariable, NameField: "name", TopLevelOnly: true, FunctionValues: jsFunctionValues},
	},
	Calls: map[string]string{
		"call_expression": "function",
		"new_expression":  "constructor",
	},
	Imports:       map[string]string{"import_statement": "source"},
	Heritage:      map[string]facts.RelationKind{"class_heritage": facts.RelInherits},
	RequireCallee: "require",
	ResolveImport: resolveJSImport,
}

var typescriptTable = LanguageTable{
	Language: "typescript",
	ModuleOf: jsModule,
	Definitions: map[string]DefinitionRule{
		"function_declaration":           {Kind: facts.KindFunction, NameField: "name"},
		"generator_function_declaration": {Kind: facts.KindFunction, NameField: "name"},
		"class_declaration":              {Kind: facts.KindType, NameField: "name", Type: true},
		"abstract_class_declaration":     {Kind: facts.KindType, NameField: "name", Type: true},
		"interface_declaration":          {Kind: facts.KindType, NameField: "name", Type: true},
		"enum_declaration":               {Kind: facts.KindType, NameField: "name", Type: true},
		"type_alias_declaration":         {Kind: facts.KindType, NameField: "name"},
		"method_definition":              {Kind: facts.KindMethod, NameField: "name"},
		"method_signature":               {Kind: facts.KindMethod, NameField: "name"},
		"abstract_method_signature":      {Kind: facts.KindMethod, NameField: "name"},
		"public_field_definition":        {Kind: facts.KindField, NameField: "name"},
		"property_signature":             {Kind: facts.KindField, NameField: "name"},
		"variable_declarator":            {Kind: facts.KindVariable, NameField: "name", TopLevelOnly: true, FunctionValues: jsFunctionValues},
	},
	Calls: map[string]string{
		"call_expression": "function",
		"new_expression":  "constructor",
	},
	Imports: map[string]string{"import_statement": "source"},
	Heritage: map[string]facts.RelationKind{
		"extends_clause":      facts.RelInherits,
		"implements_clause":   facts.RelImplements,
		"extends_type_clause": facts.RelInherits,
	},
	TypeRefs:      []string{"type_identifier"},
	Skip:          []string{"type_parameters", "comment"},
	RequireCallee: "require",
	ResolveImport: resolveJSImport,
}
