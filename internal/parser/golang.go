package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/dshills/codeknow/pkg/types"
)

// parseGo parses Go source and extracts symbols, imports and call sites
func parseGo(fset *token.FileSet, filePath string, content []byte) *types.ParseResult {
	result := &types.ParseResult{Language: types.LangGo}

	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		// Syntax errors are non-fatal; parser.ParseFile may return a partial AST
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}
	result.Imports = extractGoImports(file)

	extractor := &goExtractor{
		fset:        fset,
		packageName: result.PackageName,
		symbols:     make([]types.Symbol, 0),
	}
	ast.Inspect(file, extractor.visit)
	result.Symbols = extractor.symbols
	result.Calls = extractor.calls

	return result
}

// extractGoImports extracts import statements from the AST
func extractGoImports(file *ast.File) []types.Import {
	imports := make([]types.Import, 0, len(file.Imports))
	for _, imp := range file.Imports {
		spec := types.Import{Path: strings.Trim(imp.Path.Value, "\"`")}
		if imp.Name != nil {
			spec.Alias = imp.Name.Name
		}
		imports = append(imports, spec)
	}
	return imports
}

// goExtractor is a visitor for AST traversal that extracts symbols
type goExtractor struct {
	fset        *token.FileSet
	packageName string
	symbols     []types.Symbol
	calls       []types.Call
}

func (e *goExtractor) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		sym := e.extractFunction(n)
		if n.Body != nil {
			e.extractCalls(sym.QualifiedName(), n.Body)
		}
		return false
	case *ast.GenDecl:
		e.extractGenDecl(n)
		return false
	}

	return true
}

// extractFunction extracts function and method declarations
func (e *goExtractor) extractFunction(funcDecl *ast.FuncDecl) types.Symbol {
	sym := types.Symbol{
		Name:       funcDecl.Name.Name,
		Kind:       types.KindFunction,
		Package:    e.packageName,
		DocComment: docText(funcDecl.Doc),
		Scope:      scopeOf(funcDecl.Name.Name),
		Signature:  e.functionSignature(funcDecl),
		Start:      e.position(funcDecl.Pos()),
		End:        e.position(funcDecl.End()),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = types.KindMethod
		sym.Receiver = receiverType(funcDecl.Recv.List[0].Type)
	}

	e.symbols = append(e.symbols, sym)
	return sym
}

// extractCalls records every call expression in body against caller.
// Calls inside function literals belong to the enclosing declaration.
func (e *goExtractor) extractCalls(caller string, body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if name := calleeName(call.Fun); name != "" {
			e.calls = append(e.calls, types.Call{Caller: caller, Callee: name})
		}
		return true
	})
}

// calleeName returns the called function's name with any receiver or
// package qualifier stripped
func calleeName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	case *ast.IndexExpr:
		return calleeName(f.X)
	case *ast.IndexListExpr:
		return calleeName(f.X)
	case *ast.ParenExpr:
		return calleeName(f.X)
	}
	return ""
}

// extractGenDecl extracts type, const, and var declarations
func (e *goExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s, genDecl.Doc)
		case *ast.ValueSpec:
			e.extractValueSpec(s, genDecl.Doc, genDecl.Tok)
		}
	}
}

// extractTypeSpec extracts struct, interface, and type alias declarations
func (e *goExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup) {
	if typeSpec.Doc != nil {
		doc = typeSpec.Doc
	}
	sym := types.Symbol{
		Name:       typeSpec.Name.Name,
		Package:    e.packageName,
		DocComment: docText(doc),
		Scope:      scopeOf(typeSpec.Name.Name),
		Start:      e.position(typeSpec.Pos()),
		End:        e.position(typeSpec.End()),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.KindStruct
		sym.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", sym.Name, t.Fields.NumFields())
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		sym.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", sym.Name, t.Methods.NumFields())
	default:
		sym.Kind = types.KindType
		sym.Signature = fmt.Sprintf("type %s %s", sym.Name, exprString(typeSpec.Type))
	}

	e.symbols = append(e.symbols, sym)
}

// extractValueSpec extracts const and var declarations
func (e *goExtractor) extractValueSpec(valueSpec *ast.ValueSpec, doc *ast.CommentGroup, tok token.Token) {
	kind := types.KindVar
	if tok == token.CONST {
		kind = types.KindConst
	}
	if valueSpec.Doc != nil {
		doc = valueSpec.Doc
	}

	for _, name := range valueSpec.Names {
		if name.Name == "_" {
			continue
		}
		sym := types.Symbol{
			Name:       name.Name,
			Kind:       kind,
			Package:    e.packageName,
			DocComment: docText(doc),
			Scope:      scopeOf(name.Name),
			Start:      e.position(valueSpec.Pos()),
			End:        e.position(valueSpec.End()),
		}

		switch {
		case valueSpec.Type != nil:
			sym.Signature = fmt.Sprintf("%s %s", name.Name, exprString(valueSpec.Type))
		case len(valueSpec.Values) > 0:
			sym.Signature = fmt.Sprintf("%s = ...", name.Name)
		default:
			sym.Signature = name.Name
		}

		e.symbols = append(e.symbols, sym)
	}
}

// functionSignature builds a function signature string
func (e *goExtractor) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}
	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	sig.WriteString(fieldListString(funcDecl.Type.Params))
	sig.WriteString(")")

	if results := fieldListString(funcDecl.Type.Results); results != "" {
		if funcDecl.Type.Results.NumFields() > 1 {
			sig.WriteString(" (" + results + ")")
		} else {
			sig.WriteString(" " + results)
		}
	}

	return sig.String()
}

func (e *goExtractor) position(pos token.Pos) types.Position {
	p := e.fset.Position(pos)
	return types.Position{Line: p.Line, Column: p.Column}
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}

func fieldListString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprString(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typeStr)
			continue
		}
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typeStr)
		}
	}
	return strings.Join(parts, ", ")
}

// exprString converts a type expression to a short string representation
func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case nil:
		return ""
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprString(t.Key), exprString(t.Value))
	case *ast.ChanType:
		return "chan " + exprString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprString(t.Elt)
	case *ast.IndexExpr:
		return exprString(t.X) + "[" + exprString(t.Index) + "]"
	default:
		return "..."
	}
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func scopeOf(name string) types.SymbolScope {
	if token.IsExported(name) {
		return types.ScopeExported
	}
	return types.ScopeUnexported
}
