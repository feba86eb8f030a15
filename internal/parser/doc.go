// Package parser extracts symbols, imports and call sites from source files.
//
// Go files are parsed with go/parser. TypeScript, TSX and JavaScript files
// are parsed with tree-sitter grammars. Both produce a types.ParseResult:
//
//	p := parser.New()
//	defer p.Close()
//
//	result, err := p.Parse("src/app.ts", content)
//	if err != nil {
//	    return err // unsupported language
//	}
//	for _, imp := range result.Imports {
//	    fmt.Println(imp.Path) // "./util", "react", ...
//	}
//
// # Extraction
//
//   - Go: functions, methods, structs, interfaces, type aliases, consts
//     and vars, with doc comments and positions
//   - Scripts: function declarations, arrow functions bound to top-level
//     variables, classes and their methods, interfaces and type aliases
//   - Imports: Go import paths; script import/export-from sources,
//     require() and dynamic import() with string literal arguments
//   - Calls: every call inside a function body, keyed by the enclosing
//     function's qualified name (Receiver.Name for methods)
//
// # Error Handling
//
// Syntax errors never fail a parse. They are recorded on the result and the
// partial symbols are still returned:
//
//	result, _ := p.Parse("broken.go", content)
//	if result.HasErrors() {
//	    fmt.Println(result.Errors[0].Message)
//	}
//
// # Memory
//
// Tree-sitter parsers hold native memory and are pooled per language. A
// long indexing run calls EvictAll periodically to close idle parsers and
// drop the accumulated go/token file set.
package parser
