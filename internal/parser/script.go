package parser

import (
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/codeknow/pkg/types"
)

// scriptScope is the traversal state threaded through a script AST walk
type scriptScope struct {
	caller string // qualified name of the enclosing function, "" at top level
	class  string // enclosing class name for method definitions
}

// scriptExtractor walks a tree-sitter tree for TypeScript, TSX or JavaScript
type scriptExtractor struct {
	source []byte
	module string
	result *types.ParseResult
}

// extractScript fills a ParseResult from a parsed script tree
func extractScript(filePath string, lang types.Language, source []byte, tree *tree_sitter.Tree) *types.ParseResult {
	base := filepath.Base(filePath)
	result := &types.ParseResult{
		Language:    lang,
		PackageName: strings.TrimSuffix(base, filepath.Ext(base)),
	}

	root := tree.RootNode()
	if root.HasError() {
		result.AddError(filePath, 0, 0, "syntax error: tree contains error nodes")
	}

	e := &scriptExtractor{source: source, module: result.PackageName, result: result}
	e.walk(root, scriptScope{})
	return result
}

func (e *scriptExtractor) walk(node *tree_sitter.Node, scope scriptScope) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "import_statement":
		e.addImport(node.ChildByFieldName("source"))
		return

	case "export_statement":
		// export { x } from "./y" and export * from "./y"
		e.addImport(node.ChildByFieldName("source"))

	case "call_expression":
		e.visitCall(node, scope)

	case "function_declaration", "generator_function_declaration":
		name := e.text(node.ChildByFieldName("name"))
		if name == "" {
			break
		}
		if scope.caller != "" {
			// Nested declarations belong to the enclosing function's body
			break
		}
		e.addSymbol(node, name, types.KindFunction, "")
		e.walkChildren(node, scriptScope{caller: name})
		return

	case "class_declaration", "abstract_class_declaration":
		name := e.text(node.ChildByFieldName("name"))
		if name == "" || scope.caller != "" {
			break
		}
		e.addSymbol(node, name, types.KindClass, "")
		e.walkChildren(node, scriptScope{class: name})
		return

	case "method_definition":
		if scope.class == "" || scope.caller != "" {
			break
		}
		name := e.text(node.ChildByFieldName("name"))
		if name == "" {
			break
		}
		sym := e.addSymbol(node, name, types.KindMethod, scope.class)
		e.walkChildren(node, scriptScope{caller: sym.QualifiedName(), class: scope.class})
		return

	case "interface_declaration":
		if name := e.text(node.ChildByFieldName("name")); name != "" && scope.caller == "" {
			e.addSymbol(node, name, types.KindInterface, "")
		}
		return

	case "type_alias_declaration":
		if name := e.text(node.ChildByFieldName("name")); name != "" && scope.caller == "" {
			e.addSymbol(node, name, types.KindType, "")
		}
		return

	case "variable_declarator":
		if scope.caller != "" {
			break
		}
		nameNode := node.ChildByFieldName("name")
		value := node.ChildByFieldName("value")
		if nameNode == nil || nameNode.Kind() != "identifier" || !isFunctionValue(value) {
			break
		}
		name := e.text(nameNode)
		e.addSymbol(node, name, types.KindFunction, "")
		e.walkChildren(value, scriptScope{caller: name})
		return
	}

	e.walkChildren(node, scope)
}

func (e *scriptExtractor) walkChildren(node *tree_sitter.Node, scope scriptScope) {
	for i := range node.ChildCount() {
		e.walk(node.Child(i), scope)
	}
}

// visitCall records require() and import() as imports, and every other
// call inside a function body as a call edge
func (e *scriptExtractor) visitCall(node *tree_sitter.Node, scope scriptScope) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}

	switch fn.Kind() {
	case "import":
		e.addImport(firstArgument(node))
		return
	case "identifier":
		name := e.text(fn)
		if name == "require" {
			e.addImport(firstArgument(node))
			return
		}
		e.addCall(scope, name)
	case "member_expression":
		e.addCall(scope, e.text(fn.ChildByFieldName("property")))
	}
}

func (e *scriptExtractor) addCall(scope scriptScope, callee string) {
	if scope.caller == "" || callee == "" {
		return
	}
	e.result.Calls = append(e.result.Calls, types.Call{Caller: scope.caller, Callee: callee})
}

// addImport records a string literal import source; template literals and
// computed specifiers are ignored
func (e *scriptExtractor) addImport(source *tree_sitter.Node) {
	if source == nil || source.Kind() != "string" {
		return
	}
	spec := strings.Trim(e.text(source), "\"'`")
	if spec == "" {
		return
	}
	e.result.Imports = append(e.result.Imports, types.Import{Path: spec})
}

func (e *scriptExtractor) addSymbol(node *tree_sitter.Node, name string, kind types.SymbolKind, receiver string) types.Symbol {
	decl := declarationNode(node)
	scope := types.ScopeUnexported
	if decl.Parent() != nil && decl.Parent().Kind() == "export_statement" {
		scope = types.ScopeExported
		decl = decl.Parent()
	}
	if kind == types.KindMethod {
		scope = e.memberScope(node, name)
	}

	start := node.StartPosition()
	end := node.EndPosition()
	sym := types.Symbol{
		Name:       name,
		Kind:       kind,
		Package:    e.module,
		Signature:  e.signature(node),
		DocComment: e.docComment(decl),
		Scope:      scope,
		Receiver:   receiver,
		Start:      types.Position{Line: int(start.Row) + 1, Column: int(start.Column) + 1},
		End:        types.Position{Line: int(end.Row) + 1, Column: int(end.Column) + 1},
	}
	e.result.Symbols = append(e.result.Symbols, sym)
	return sym
}

// signature is the declaration text up to its body, collapsed to one line
func (e *scriptExtractor) signature(node *tree_sitter.Node) string {
	end := node.EndByte()
	body := node.ChildByFieldName("body")
	if node.Kind() == "variable_declarator" {
		if value := node.ChildByFieldName("value"); value != nil {
			body = value.ChildByFieldName("body")
		}
	}
	if body != nil {
		end = body.StartByte()
	}

	sig := strings.Join(strings.Fields(string(e.source[node.StartByte():end])), " ")
	sig = strings.TrimSuffix(sig, "=>")
	return strings.TrimSpace(sig)
}

// docComment returns the comment immediately preceding decl
func (e *scriptExtractor) docComment(decl *tree_sitter.Node) string {
	prev := decl.PrevSibling()
	if prev == nil || prev.Kind() != "comment" {
		return ""
	}
	if decl.StartPosition().Row-prev.EndPosition().Row > 1 {
		return ""
	}

	text := e.text(prev)
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	text = strings.TrimPrefix(text, "//")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (e *scriptExtractor) text(node *tree_sitter.Node) string {
	if node == nil {
		return ""
	}
	return node.Utf8Text(e.source)
}

// declarationNode lifts a variable declarator to its enclosing
// lexical or variable declaration
func declarationNode(node *tree_sitter.Node) *tree_sitter.Node {
	if node.Kind() != "variable_declarator" {
		return node
	}
	if parent := node.Parent(); parent != nil {
		return parent
	}
	return node
}

func isFunctionValue(value *tree_sitter.Node) bool {
	if value == nil {
		return false
	}
	switch value.Kind() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

// memberScope treats #private, _underscored and TypeScript private or
// protected members as unexported
func (e *scriptExtractor) memberScope(method *tree_sitter.Node, name string) types.SymbolScope {
	if strings.HasPrefix(name, "#") || strings.HasPrefix(name, "_") {
		return types.ScopeUnexported
	}
	for i := range method.ChildCount() {
		child := method.Child(i)
		if child.Kind() == "accessibility_modifier" && e.text(child) != "public" {
			return types.ScopeUnexported
		}
	}
	return types.ScopeExported
}

func firstArgument(call *tree_sitter.Node) *tree_sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return args.NamedChild(0)
}
