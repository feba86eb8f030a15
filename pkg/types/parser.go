package types

// Language identifies the grammar a file was parsed with
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangJavaScript Language = "javascript"
)

// ParseResult represents the output of parsing one source file
type ParseResult struct {
	Language    Language
	PackageName string

	// Extracted data
	Symbols []Symbol
	Imports []Import
	Calls   []Call

	// Errors encountered during parsing
	Errors []ParseError
}

// Import represents an import statement
type Import struct {
	Path  string // Raw specifier as written (e.g. "./util", "github.com/pkg/errors")
	Alias string
}

// Call is a call site found inside a function body
type Call struct {
	Caller string // QualifiedName of the enclosing function
	Callee string // Name of the called function, receiver stripped
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}

// Functions returns the callable symbols in declaration order
func (pr *ParseResult) Functions() []Symbol {
	fns := make([]Symbol, 0, len(pr.Symbols))
	for _, sym := range pr.Symbols {
		if sym.IsCallable() {
			fns = append(fns, sym)
		}
	}
	return fns
}
