package parser

import (
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/dshills/codeknow/pkg/types"
)

var (
	languagesOnce sync.Once
	languages     map[types.Language]*tree_sitter.Language
)

func initLanguages() {
	languagesOnce.Do(func() {
		languages = map[types.Language]*tree_sitter.Language{
			types.LangTypeScript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
			types.LangTSX:        tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
			types.LangJavaScript: tree_sitter.NewLanguage(tree_sitter_javascript.Language()),
		}
	})
}

// LanguageOf maps a file extension to the grammar used to parse it
func LanguageOf(path string) (types.Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return types.LangGo, true
	case ".ts", ".mts", ".cts":
		return types.LangTypeScript, true
	case ".tsx":
		return types.LangTSX, true
	case ".js", ".jsx", ".mjs", ".cjs":
		return types.LangJavaScript, true
	}
	return "", false
}

// Parser parses source files of every supported language. Tree-sitter
// parsers are pooled per language and the Go file set is shared; both are
// dropped by EvictAll. A Parser is safe for concurrent use.
type Parser struct {
	mu   sync.Mutex
	fset *token.FileSet
	idle map[types.Language][]*tree_sitter.Parser
}

// New creates a new parser
func New() *Parser {
	initLanguages()
	return &Parser{
		fset: token.NewFileSet(),
		idle: make(map[types.Language][]*tree_sitter.Parser),
	}
}

// ParseFile reads and parses a single source file
func (p *Parser) ParseFile(filePath string) (*types.ParseResult, error) {
	content, err := os.ReadFile(filePath) // #nosec G304 -- paths come from discovery under the project root
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.Parse(filePath, content)
}

// Parse parses content as the language implied by filePath. Syntax errors
// are recorded on the result; only unsupported languages and parser
// failures return an error.
func (p *Parser) Parse(filePath string, content []byte) (*types.ParseResult, error) {
	lang, ok := LanguageOf(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	if lang == types.LangGo {
		p.mu.Lock()
		fset := p.fset
		p.mu.Unlock()
		return parseGo(fset, filePath, content), nil
	}

	tsParser, err := p.acquire(lang)
	if err != nil {
		return nil, err
	}
	defer p.release(lang, tsParser)

	tree := tsParser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %s", filePath)
	}
	defer tree.Close()

	return extractScript(filePath, lang, content, tree), nil
}

func (p *Parser) acquire(lang types.Language) (*tree_sitter.Parser, error) {
	p.mu.Lock()
	if idle := p.idle[lang]; len(idle) > 0 {
		tsParser := idle[len(idle)-1]
		p.idle[lang] = idle[:len(idle)-1]
		p.mu.Unlock()
		return tsParser, nil
	}
	p.mu.Unlock()

	tsParser := tree_sitter.NewParser()
	if err := tsParser.SetLanguage(languages[lang]); err != nil {
		tsParser.Close()
		return nil, fmt.Errorf("set language %s: %w", lang, err)
	}
	return tsParser, nil
}

func (p *Parser) release(lang types.Language, tsParser *tree_sitter.Parser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle[lang] = append(p.idle[lang], tsParser)
}

// Idle reports how many pooled tree-sitter parsers are waiting for reuse
func (p *Parser) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, idle := range p.idle {
		n += len(idle)
	}
	return n
}

// EvictAll closes every idle tree-sitter parser and starts a fresh Go file
// set. Parsers checked out by in-flight calls return to the emptied pool.
func (p *Parser) EvictAll() {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[types.Language][]*tree_sitter.Parser)
	p.fset = token.NewFileSet()
	p.mu.Unlock()

	for _, parsers := range idle {
		for _, tsParser := range parsers {
			tsParser.Close()
		}
	}
}

// Close releases all pooled parsers
func (p *Parser) Close() {
	p.EvictAll()
}
