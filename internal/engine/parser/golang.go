package parser

import (
	"codegraph/internal/data/facts"
	"path"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

type GoExtractor struct{}

func (e *GoExtractor) Extract(root *sitter.Node, source []byte, filePath string) (*File, error) {
	file := &File{
		Path:     filePath,
		Language: "go",
		Module:   path.Base(path.Dir(strings.ReplaceAll(filePath, "\\", "/"))),
		ParsedAt: time.Now(),
	}

	handlers := map[string]NodeHandler{
		"package_clause":        e.extractPackage,
		"import_declaration":    e.extractImports,
		"function_declaration":  e.extractFunction,
		"method_declaration":    e.extractMethod,
		"type_declaration":      e.extractTypes,
		"const_declaration":     e.extractValues,
		"var_declaration":       e.extractValues,
		"short_var_declaration": e.extractShortVar,
		"parameter_declaration": e.extractParam,
		"range_clause":          e.extractRange,
		"call_expression":       e.extractCall,
		"selector_expression":   e.extractSelector,
		"qualified_type":        e.extractQualifiedType,
		"type_identifier":       e.extractTypeRef,
		"identifier":            e.extractIdentifier,
		"field_identifier":      skipNode,
		"package_identifier":    skipNode,
		"keyed_element":         e.extractKeyedElement,
		"labeled_statement":     e.extractLabeled,
	}
	handlers["variadic_parameter_declaration"] = e.extractParam
	NewExtractorEngine(handlers).Run(file, source, root)
	return file, nil
}

func skipNode(*ExtractionContext, *sitter.Node) bool { return true }

func (e *GoExtractor) extractPackage(ctx *ExtractionContext, node *sitter.Node) bool {
	if name := ctx.ChildText(node, "package_identifier"); name != "" {
		ctx.File.Module = name
	}
	return true
}

func (e *GoExtractor) extractImports(ctx *ExtractionContext, node *sitter.Node) bool {
	e.walkImports(ctx, node)
	return true
}

func (e *GoExtractor) walkImports(ctx *ExtractionContext, node *sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() != "import_spec" {
			e.walkImports(ctx, child)
			continue
		}
		alias := ""
		if name := child.ChildByFieldName("name"); name != nil {
			alias = ctx.Text(name)
		}
		if pathNode := child.ChildByFieldName("path"); pathNode != nil {
			ctx.Import(ctx.Text(pathNode), alias, child)
		}
	}
}

func (e *GoExtractor) signature(ctx *ExtractionContext, prefix string, node *sitter.Node) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, field := range []string{"type_parameters", "parameters", "result"} {
		if part := node.ChildByFieldName(field); part != nil {
			if field == "result" {
				b.WriteString(" ")
			}
			b.WriteString(ctx.Text(part))
		}
	}
	return b.String()
}

func (e *GoExtractor) extractFunction(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return false
	}
	name := ctx.Text(nameNode)
	qualified := ctx.Define(name, facts.KindFunction, e.signature(ctx, "func "+name, node), node, isExportedName(name))
	ctx.Within(qualified, func() {
		e.walkCallable(ctx, node)
	})
	return true
}

func (e *GoExtractor) extractMethod(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return false
	}
	name := ctx.Text(nameNode)
	receiver := node.ChildByFieldName("receiver")
	recvType := e.receiverType(ctx, receiver)

	define := func() string {
		sig := e.signature(ctx, "func ("+recvType+") "+name, node)
		return ctx.Define(name, facts.KindMethod, sig, node, isExportedName(name))
	}
	var qualified string
	if recvType != "" {
		ctx.Within(recvType, func() { qualified = define() })
	} else {
		qualified = define()
	}
	ctx.Within(qualified, func() {
		e.walkCallable(ctx, node)
	})
	return true
}

func (e *GoExtractor) walkCallable(ctx *ExtractionContext, node *sitter.Node) {
	for _, field := range []string{"receiver", "type_parameters", "parameters", "result", "body"} {
		if part := node.ChildByFieldName(field); part != nil {
			ctx.WalkNode(part)
		}
	}
}

// receiverType returns the bare type name of a method receiver, without
// pointer or type arguments.
func (e *GoExtractor) receiverType(ctx *ExtractionContext, receiver *sitter.Node) string {
	if receiver == nil {
		return ""
	}
	var found string
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || found != "" {
			return
		}
		if n.Kind() == "type_identifier" {
			found = ctx.Text(n)
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(receiver)
	return found
}

func (e *GoExtractor) extractTypes(ctx *ExtractionContext, node *sitter.Node) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() == "type_spec" || child.Kind() == "type_alias" {
			e.extractTypeSpec(ctx, child)
		}
	}
	return true
}

func (e *GoExtractor) extractTypeSpec(ctx *ExtractionContext, node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := ctx.Text(nameNode)
	typeNode := node.ChildByFieldName("type")
	signature := "type " + name
	if params := node.ChildByFieldName("type_parameters"); params != nil {
		signature += ctx.Text(params)
	}
	if typeNode != nil {
		signature += " " + e.typeShape(ctx, typeNode)
	}
	qualified := ctx.Define(name, facts.KindType, signature, node, isExportedName(name))

	ctx.Within(qualified, func() {
		if params := node.ChildByFieldName("type_parameters"); params != nil {
			ctx.WalkNode(params)
		}
		if typeNode == nil {
			return
		}
		switch typeNode.Kind() {
		case "struct_type":
			e.extractStructFields(ctx, typeNode)
		case "interface_type":
			e.extractInterfaceElems(ctx, typeNode)
		default:
			ctx.WalkNode(typeNode)
		}
	})
}

// typeShape is the part of a type declaration that changes its meaning:
// the full text for most types, but only the kind for structs and
// interfaces whose members are symbols of their own.
func (e *GoExtractor) typeShape(ctx *ExtractionContext, typeNode *sitter.Node) string {
	switch typeNode.Kind() {
	case "struct_type":
		return "struct"
	case "interface_type":
		return "interface"
	}
	return ctx.Text(typeNode)
}

func (e *GoExtractor) extractStructFields(ctx *ExtractionContext, structNode *sitter.Node) {
	list := childOfKind(structNode, "field_declaration_list")
	if list == nil {
		return
	}
	for i := uint(0); i < list.NamedChildCount(); i++ {
		field := list.NamedChild(i)
		if field.Kind() != "field_declaration" {
			continue
		}
		typeNode := field.ChildByFieldName("type")
		names := 0
		for j := uint(0); j < field.ChildCount(); j++ {
			child := field.Child(j)
			if child.Kind() != "field_identifier" {
				continue
			}
			names++
			fieldName := ctx.Text(child)
			ctx.Define(fieldName, facts.KindField, fieldName+" "+ctx.Text(typeNode), field, isExportedName(fieldName))
		}
		if names == 0 && typeNode != nil {
			// Embedded field.
			if embedded := e.namedType(ctx, typeNode); embedded != "" {
				ctx.Refer(embedded, facts.RelInherits, typeNode)
			}
			continue
		}
		ctx.WalkNode(typeNode)
	}
}

func (e *GoExtractor) extractInterfaceElems(ctx *ExtractionContext, ifaceNode *sitter.Node) {
	for i := uint(0); i < ifaceNode.NamedChildCount(); i++ {
		elem := ifaceNode.NamedChild(i)
		switch elem.Kind() {
		case "method_elem", "method_spec":
			nameNode := elem.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := ctx.Text(nameNode)
			qualified := ctx.Define(name, facts.KindMethod, e.signature(ctx, name, elem), elem, isExportedName(name))
			ctx.Within(qualified, func() {
				e.walkCallable(ctx, elem)
			})
		case "type_elem", "constraint_elem", "interface_type_name":
			if elem.NamedChildCount() == 1 {
				if embedded := e.namedType(ctx, elem.NamedChild(0)); embedded != "" {
					ctx.Refer(embedded, facts.RelInherits, elem)
					continue
				}
			}
			ctx.WalkNode(elem)
		}
	}
}

// namedType returns the referenced type name of a (possibly pointer,
// qualified or generic) type expression.
func (e *GoExtractor) namedType(ctx *ExtractionContext, node *sitter.Node) string {
	switch node.Kind() {
	case "type_identifier":
		return ctx.Text(node)
	case "qualified_type":
		return ctx.Text(node.ChildByFieldName("name"))
	case "pointer_type", "generic_type":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			if name := e.namedType(ctx, node.NamedChild(i)); name != "" {
				return name
			}
		}
	}
	return ""
}

// extractValues handles const and var declarations. At file level each
// name is a symbol; inside a function they are locals.
func (e *GoExtractor) extractValues(ctx *ExtractionContext, node *sitter.Node) bool {
	kind := facts.KindVariable
	if node.Kind() == "const_declaration" {
		kind = facts.KindConstant
	}
	var specs []*sitter.Node
	var collect func(*sitter.Node)
	collect = func(n *sitter.Node) {
		for i := uint(0); i < n.NamedChildCount(); i++ {
			child := n.NamedChild(i)
			switch child.Kind() {
			case "const_spec", "var_spec":
				specs = append(specs, child)
			case "var_spec_list":
				collect(child)
			}
		}
	}
	collect(node)

	topLevel := ctx.Enclosing() == ""
	for _, spec := range specs {
		for i := uint(0); i < spec.ChildCount(); i++ {
			child := spec.Child(i)
			// Values sit under an expression_list, so direct identifiers are names.
			if child.Kind() != "identifier" {
				continue
			}
			name := ctx.Text(child)
			if name == "_" {
				continue
			}
			if !topLevel {
				ctx.AddLocal(name)
				continue
			}
			sig := strings.TrimSpace(string(kind) + " " + name + " " + ctx.Text(spec.ChildByFieldName("type")))
			ctx.Define(name, kind, sig, spec, isExportedName(name))
		}
		if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
			ctx.WalkNode(typeNode)
		}
		if value := spec.ChildByFieldName("value"); value != nil {
			ctx.WalkNode(value)
		}
	}
	return true
}

func (e *GoExtractor) extractShortVar(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.AppendLocalIdentifiers(node.ChildByFieldName("left"))
	if right := node.ChildByFieldName("right"); right != nil {
		ctx.WalkNode(right)
	}
	return true
}

func (e *GoExtractor) extractParam(ctx *ExtractionContext, node *sitter.Node) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() == "identifier" {
			ctx.AddLocal(ctx.Text(child))
		}
	}
	if typeNode := node.ChildByFieldName("type"); typeNode != nil {
		ctx.WalkNode(typeNode)
	}
	return true
}

func (e *GoExtractor) extractRange(ctx *ExtractionContext, node *sitter.Node) bool {
	ctx.AppendLocalIdentifiers(node.ChildByFieldName("left"))
	if right := node.ChildByFieldName("right"); right != nil {
		ctx.WalkNode(right)
	}
	return true
}

func (e *GoExtractor) extractCall(ctx *ExtractionContext, node *sitter.Node) bool {
	fn := node.ChildByFieldName("function")
	switch {
	case fn == nil:
	case fn.Kind() == "identifier":
		if name := ctx.Text(fn); !goBuiltins[name] && !ctx.IsLocal(name) {
			ctx.Refer(name, facts.RelCalls, fn)
		}
	case fn.Kind() == "selector_expression":
		field := fn.ChildByFieldName("field")
		ctx.Refer(ctx.Text(field), facts.RelCalls, field)
		if operand := fn.ChildByFieldName("operand"); operand != nil && operand.Kind() != "identifier" {
			ctx.WalkNode(operand)
		}
	case fn.Kind() == "generic_function" || fn.Kind() == "index_expression":
		if inner := fn.NamedChild(0); inner != nil && inner.Kind() == "identifier" {
			ctx.Refer(ctx.Text(inner), facts.RelCalls, inner)
		} else {
			ctx.WalkNode(fn)
		}
	default:
		ctx.WalkNode(fn)
	}
	if typeArgs := node.ChildByFieldName("type_arguments"); typeArgs != nil {
		ctx.WalkNode(typeArgs)
	}
	if args := node.ChildByFieldName("arguments"); args != nil {
		ctx.WalkNode(args)
	}
	return true
}

// extractSelector records the selected member of a non-call selector.
// Bare operands are package or value names and are not recorded.
func (e *GoExtractor) extractSelector(ctx *ExtractionContext, node *sitter.Node) bool {
	if field := node.ChildByFieldName("field"); field != nil {
		ctx.Refer(ctx.Text(field), facts.RelReferences, field)
	}
	if operand := node.ChildByFieldName("operand"); operand != nil && operand.Kind() != "identifier" {
		ctx.WalkNode(operand)
	}
	return true
}

func (e *GoExtractor) extractQualifiedType(ctx *ExtractionContext, node *sitter.Node) bool {
	if name := node.ChildByFieldName("name"); name != nil {
		ctx.Refer(ctx.Text(name), facts.RelReferences, name)
	}
	return true
}

func (e *GoExtractor) extractTypeRef(ctx *ExtractionContext, node *sitter.Node) bool {
	if name := ctx.Text(node); !goBuiltins[name] && !ctx.IsLocal(name) {
		ctx.Refer(name, facts.RelReferences, node)
	}
	return true
}

// extractIdentifier records a value use of a package-level name.
func (e *GoExtractor) extractIdentifier(ctx *ExtractionContext, node *sitter.Node) bool {
	name := ctx.Text(node)
	if name == "_" || goBuiltins[name] || ctx.IsLocal(name) {
		return true
	}
	ctx.Refer(name, facts.RelReferences, node)
	return true
}

// extractKeyedElement skips struct literal keys, which name fields of the
// literal's type rather than values in scope.
func (e *GoExtractor) extractKeyedElement(ctx *ExtractionContext, node *sitter.Node) bool {
	if node.NamedChildCount() != 2 {
		return false
	}
	key := node.NamedChild(0)
	if key.Kind() == "literal_element" && key.NamedChildCount() == 1 && key.NamedChild(0).Kind() == "identifier" {
		ctx.WalkNode(node.NamedChild(1))
		return true
	}
	if key.Kind() == "field_identifier" {
		ctx.WalkNode(node.NamedChild(1))
		return true
	}
	return false
}

func (e *GoExtractor) extractLabeled(ctx *ExtractionContext, node *sitter.Node) bool {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if child := node.NamedChild(i); child.Kind() != "label_name" {
			ctx.WalkNode(child)
		}
	}
	return true
}
