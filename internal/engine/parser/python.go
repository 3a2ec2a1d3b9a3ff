package parser

import (
	"codegraph/internal/data/facts"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

type PythonExtractor struct{}

func (e *PythonExtractor) Extract(root *sitter.Node, source []byte, filePath string) (*File, error) {
	file := &File{
		Path:     filePath,
		Language: "python",
		Module:   dottedModulePath(filePath, "__init__"),
		ParsedAt: time.Now(),
	}

	NewExtractorEngine(map[string]NodeHandler{
		"import_statement":      e.extractImport,
		"import_from_statement": e.extractFromImport,
		"function_definition":   e.extractFunction,
		"class_definition":      e.extractClass,
		"assignment":            e.extractAssignment,
		"augmented_assignment":  e.extractAssignment,
		"for_statement":         e.extractFor,
		"for_in_clause":         e.extractFor,
		"as_pattern":            e.extractAsPattern,
		"lambda":                e.extractLambda,
		"call":                  e.extractCall,
		"attribute":             e.extractAttribute,
		"keyword_argument":      e.extractKeywordArgument,
		"identifier":            e.extractIdentifier,
		"global_statement":      skipNode,
		"nonlocal_statement":    skipNode,
	}).Run(file, source, root)
	return file, nil
}

func (e *PythonExtractor) extractImport(ctx *ExtractionContext, node *sitter.Node) bool {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		switch child.Kind() {
		case "dotted_name":
			module := ctx.Text(child)
			ctx.Import(module, "", child)
			ctx.AddLocal(strings.Split(module, ".")[0])
		case "aliased_import":
			module := ctx.Text(child.ChildByFieldName("name"))
			alias := ctx.Text(child.ChildByFieldName("alias"))
			ctx.Import(module, alias, child)
			ctx.AddLocal(alias)
		}
	}
	return true
}

func (e *PythonExtractor) extractFromImport(ctx *ExtractionContext, node *sitter.Node) bool {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return true
	}
	module := ctx.Text(moduleNode)
	if moduleNode.Kind() == "relative_import" {
		module = e.resolveRelative(ctx.File.Path, ctx.File.Module, module)
	}
	ctx.Import(module, "", node)

	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if sameNode(child, moduleNode) {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			name := ctx.Text(child)
			ctx.Refer(lastSegment(name), facts.RelImports, child)
			ctx.AddLocal(name)
		case "aliased_import":
			name := ctx.Text(child.ChildByFieldName("name"))
			ctx.Refer(lastSegment(name), facts.RelImports, child)
			ctx.AddLocal(ctx.Text(child.ChildByFieldName("alias")))
		}
	}
	return true
}

// resolveRelative turns "..pkg" inside module a.b.c into "a.pkg".
func (e *PythonExtractor) resolveRelative(filePath, module, relative string) string {
	level := len(relative) - len(strings.TrimLeft(relative, "."))
	rest := strings.TrimLeft(relative, ".")
	parts := strings.Split(module, ".")
	if fileStem(filePath) == "__init__" {
		// A package's own module already names the package.
		level--
	}
	if level > len(parts) {
		level = len(parts)
	}
	base := parts[:len(parts)-level]
	if rest != "" {
		base = append(append([]string(nil), base...), rest)
	}
	return strings.Join(base, ".")
}

func (e *PythonExtractor) extractFunction(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return false
	}
	name := ctx.Text(nameNode)
	params := node.ChildByFieldName("parameters")

	signature := "def " + name + ctx.Text(params)
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		signature += " -> " + ctx.Text(ret)
	}
	kind := facts.KindFunction
	if pythonInClass(node) {
		kind = facts.KindMethod
	}
	qualified := ctx.Define(name, kind, signature, pythonDefinitionNode(node), !strings.HasPrefix(name, "_"))

	ctx.Within(qualified, func() {
		e.walkParameters(ctx, params)
		if ret := node.ChildByFieldName("return_type"); ret != nil {
			ctx.WalkNode(ret)
		}
		ctx.WalkNode(node.ChildByFieldName("body"))
	})
	return true
}

// walkParameters marks parameter names local and walks annotations and
// default values.
func (e *PythonExtractor) walkParameters(ctx *ExtractionContext, params *sitter.Node) {
	if params == nil {
		return
	}
	for i := uint(0); i < params.NamedChildCount(); i++ {
		param := params.NamedChild(i)
		switch param.Kind() {
		case "identifier":
			ctx.AddLocal(ctx.Text(param))
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			for j := uint(0); j < param.NamedChildCount(); j++ {
				child := param.NamedChild(j)
				if child.Kind() == "identifier" {
					ctx.AddLocal(ctx.Text(child))
				} else {
					ctx.AppendLocalIdentifiers(childOfKind(child, "identifier"))
				}
			}
			ctx.WalkNode(param.ChildByFieldName("type"))
		case "default_parameter", "typed_default_parameter":
			ctx.AddLocal(ctx.Text(param.ChildByFieldName("name")))
			ctx.WalkNode(param.ChildByFieldName("type"))
			ctx.WalkNode(param.ChildByFieldName("value"))
		}
	}
}

func (e *PythonExtractor) extractClass(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return false
	}
	name := ctx.Text(nameNode)
	supers := node.ChildByFieldName("superclasses")
	signature := "class " + name
	if supers != nil {
		signature += ctx.Text(supers)
	}
	qualified := ctx.Define(name, facts.KindType, signature, pythonDefinitionNode(node), !strings.HasPrefix(name, "_"))

	ctx.Within(qualified, func() {
		if supers != nil {
			for i := uint(0); i < supers.NamedChildCount(); i++ {
				base := supers.NamedChild(i)
				switch base.Kind() {
				case "identifier", "attribute":
					ctx.Refer(lastSegment(ctx.Text(base)), facts.RelInherits, base)
				case "keyword_argument":
					ctx.WalkNode(base.ChildByFieldName("value"))
				}
			}
		}
		ctx.WalkNode(node.ChildByFieldName("body"))
	})
	return true
}

// extractAssignment defines module and class level names; inside
// functions assigned names are locals.
func (e *PythonExtractor) extractAssignment(ctx *ExtractionContext, node *sitter.Node) bool {
	left := node.ChildByFieldName("left")
	atFileOrClass := ctx.Enclosing() == "" || pythonInClass(node.Parent())
	switch {
	case left == nil:
	case left.Kind() == "identifier" && atFileOrClass && node.Kind() == "assignment":
		name := ctx.Text(left)
		kind := facts.KindVariable
		if ctx.Enclosing() != "" {
			kind = facts.KindField
		} else if strings.ToUpper(name) == name && strings.ToLower(name) != name {
			kind = facts.KindConstant
		}
		sig := name
		if typeNode := node.ChildByFieldName("type"); typeNode != nil {
			sig += ": " + ctx.Text(typeNode)
		}
		ctx.Define(name, kind, sig, pythonStatementNode(node), !strings.HasPrefix(name, "_"))
	case left.Kind() == "attribute" || left.Kind() == "subscript":
		ctx.WalkNode(left)
	case ctx.Enclosing() != "":
		ctx.AppendLocalIdentifiers(left)
	}
	ctx.WalkNode(node.ChildByFieldName("type"))
	ctx.WalkNode(node.ChildByFieldName("right"))
	return true
}

func (e *PythonExtractor) extractFor(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.AppendLocalIdentifiers(node.ChildByFieldName("left"))
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if sameNode(child, node.ChildByFieldName("left")) {
			continue
		}
		ctx.WalkNode(child)
	}
	return true
}

func (e *PythonExtractor) extractAsPattern(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.AppendLocalIdentifiers(node.ChildByFieldName("alias"))
	if node.NamedChildCount() > 0 {
		ctx.WalkNode(node.NamedChild(0))
	}
	return true
}

func (e *PythonExtractor) extractLambda(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.AppendLocalIdentifiers(node.ChildByFieldName("parameters"))
	ctx.WalkNode(node.ChildByFieldName("body"))
	return true
}

func (e *PythonExtractor) extractCall(ctx *ExtractionContext, node *sitter.Node) bool {
	fn := node.ChildByFieldName("function")
	switch {
	case fn == nil:
	case fn.Kind() == "identifier":
		if name := ctx.Text(fn); !pythonBuiltins[name] && !ctx.IsLocal(name) {
			ctx.Refer(name, facts.RelCalls, fn)
		}
	case fn.Kind() == "attribute":
		attr := fn.ChildByFieldName("attribute")
		ctx.Refer(ctx.Text(attr), facts.RelCalls, attr)
		if object := fn.ChildByFieldName("object"); object != nil && object.Kind() != "identifier" {
			ctx.WalkNode(object)
		}
	default:
		ctx.WalkNode(fn)
	}
	ctx.WalkNode(node.ChildByFieldName("arguments"))
	return true
}

// extractAttribute records obj.attr when obj is a module or class name
// rather than a local value.
func (e *PythonExtractor) extractAttribute(ctx *ExtractionContext, node *sitter.Node) bool {
	object := node.ChildByFieldName("object")
	attr := node.ChildByFieldName("attribute")
	if object == nil || attr == nil {
		return true
	}
	if object.Kind() != "identifier" {
		ctx.WalkNode(object)
		return true
	}
	name := ctx.Text(object)
	if name == "self" || name == "cls" {
		return true
	}
	ctx.Refer(ctx.Text(attr), facts.RelReferences, attr)
	return true
}

func (e *PythonExtractor) extractKeywordArgument(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.WalkNode(node.ChildByFieldName("value"))
	return true
}

func (e *PythonExtractor) extractIdentifier(ctx *ExtractionContext, node *sitter.Node) bool {
	name := ctx.Text(node)
	if pythonBuiltins[name] || ctx.IsLocal(name) {
		return true
	}
	ctx.Refer(name, facts.RelReferences, node)
	return true
}

// pythonInClass reports whether node sits directly in a class body.
func pythonInClass(node *sitter.Node) bool {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "block", "decorated_definition", "expression_statement":
			continue
		case "class_definition":
			return true
		}
		return false
	}
	return false
}

// pythonDefinitionNode widens a definition to include its decorators.
func pythonDefinitionNode(node *sitter.Node) *sitter.Node {
	if p := node.Parent(); p != nil && p.Kind() == "decorated_definition" {
		return p
	}
	return node
}

func pythonStatementNode(node *sitter.Node) *sitter.Node {
	if p := node.Parent(); p != nil && p.Kind() == "expression_statement" {
		return p
	}
	return node
}
