package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/codeknow/internal/embedder"
	"github.com/dshills/codeknow/internal/fingerprint"
	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/parser"
	"github.com/dshills/codeknow/internal/storage"
	"github.com/dshills/codeknow/internal/swarm"
	"github.com/dshills/codeknow/pkg/types"
)

// TimeoutPolicy selects what happens when a file exceeds Options.Timeout
type TimeoutPolicy string

const (
	PolicyRetry TimeoutPolicy = "retry"
	PolicySkip  TimeoutPolicy = "skip"
	PolicyFail  TimeoutPolicy = "fail"
)

// Valid reports whether p is a known policy
func (p TimeoutPolicy) Valid() bool {
	switch p {
	case PolicyRetry, PolicySkip, PolicyFail:
		return true
	}
	return false
}

// ErrTimeout marks an attempt that ran past Options.Timeout
var ErrTimeout = errors.New("file processing timed out")

// Options configures every extractor built by a Factory
type Options struct {
	Root       string            // Project root; store paths and module ids are relative to it
	ProjectID  int64             // Knowledge store project
	Parser     *parser.Parser    // Shared parser pool; a private one is created when nil
	Embedder   embedder.Embedder // Optional
	Timeout    time.Duration     // Per attempt; 0 disables
	Policy     TimeoutPolicy     // Default PolicySkip
	MaxRetries int               // Extra attempts under PolicyRetry
}

// Extractor implements swarm.Extractor for Go, TypeScript and JavaScript
type Extractor struct {
	opts      Options
	store     storage.Storage
	acc       *graph.Accumulator
	ownParser bool
}

// New creates an extractor
func New(opts Options) *Extractor {
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}
	return &Extractor{opts: opts}
}

// Factory returns a swarm.ExtractorFactory building one Extractor per worker
func Factory(opts Options) swarm.ExtractorFactory {
	return func(int) (swarm.Extractor, error) {
		if opts.Policy != "" && !opts.Policy.Valid() {
			return nil, fmt.Errorf("unknown timeout policy %q", opts.Policy)
		}
		return New(opts), nil
	}
}

// Initialize binds the extractor to the knowledge store
func (e *Extractor) Initialize(_ context.Context, store storage.Storage) error {
	if store == nil {
		return errors.New("extractor requires a store")
	}
	e.store = store
	if e.opts.Parser == nil {
		e.opts.Parser = parser.New()
		e.ownParser = true
	}
	return nil
}

// AttachGraph sets the accumulator that receives graph facts
func (e *Extractor) AttachGraph(acc *graph.Accumulator) {
	e.acc = acc
}

// Shutdown releases a privately created parser
func (e *Extractor) Shutdown() error {
	if e.ownParser {
		e.opts.Parser.Close()
	}
	return nil
}

// Process extracts one file, applying the timeout policy
func (e *Extractor) Process(ctx context.Context, path string) (*types.ExtractResult, error) {
	attempts := 1
	if e.opts.Policy == PolicyRetry {
		attempts += max(e.opts.MaxRetries, 0)
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := e.attempt(ctx, path)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}

		switch e.opts.Policy {
		case PolicyFail:
			return nil, fmt.Errorf("%w: %w", types.ErrAbortRun, err)
		case PolicyRetry:
			slog.Debug("extractor.timeout.retry", "path", path, "attempt", attempt, "of", attempts)
			continue
		}
		break
	}

	res := &types.ExtractResult{}
	res.AddError(path, fmt.Sprintf("timed out after %s", e.opts.Timeout))
	return res, nil
}

// attempt runs one pass under the per-file deadline
func (e *Extractor) attempt(ctx context.Context, path string) (*types.ExtractResult, error) {
	if e.opts.Timeout <= 0 {
		return e.process(ctx, path)
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	res, err := e.process(tctx, path)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
	}
	return res, err
}

func (e *Extractor) process(ctx context.Context, path string) (*types.ExtractResult, error) {
	if e.store == nil {
		return nil, errors.New("extractor not initialized")
	}

	content, err := os.ReadFile(path) // #nosec G304 -- path comes from discovery under the project root
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	parsed, err := e.opts.Parser.Parse(path, content)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parsed.HasErrors() {
		slog.Debug("extractor.parse.partial", "path", path, "errors", len(parsed.Errors))
	}

	moduleID := graph.ModuleID(e.opts.Root, path)
	functions := parsed.Functions()

	vectors, err := e.embed(ctx, content, functions)
	if err != nil {
		return nil, err
	}

	if err := e.persist(ctx, path, content, moduleID, parsed, vectors); err != nil {
		return nil, err
	}

	if e.acc != nil {
		specs := make([]string, 0, len(parsed.Imports))
		for _, imp := range parsed.Imports {
			specs = append(specs, imp.Path)
		}
		e.acc.RecordModule(path, moduleID, specs)

		for from, to := range callEdges(moduleID, functions, parsed.Calls) {
			e.acc.RecordModuleFunctions(moduleID, from)
			e.acc.RecordFunctionEdges(from, to...)
		}
	}

	return &types.ExtractResult{FilesProcessed: 1, FunctionsIndexed: len(functions)}, nil
}

// embed returns one embedding per function keyed by qualified name
func (e *Extractor) embed(ctx context.Context, content []byte, functions []types.Symbol) (map[string]*embedder.Embedding, error) {
	if e.opts.Embedder == nil || len(functions) == 0 {
		return nil, nil
	}

	lines := strings.Split(string(content), "\n")
	names := make([]string, 0, len(functions))
	texts := make([]string, 0, len(functions))
	for _, fn := range functions {
		body := sourceLines(lines, fn.Start.Line, fn.End.Line)
		if strings.TrimSpace(body) == "" {
			continue
		}
		names = append(names, fn.QualifiedName())
		texts = append(texts, body)
	}

	out := make(map[string]*embedder.Embedding, len(texts))
	for start := 0; start < len(texts); start += embedder.MaxBatchSize {
		end := min(start+embedder.MaxBatchSize, len(texts))
		resp, err := e.opts.Embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
		if err != nil {
			return nil, fmt.Errorf("failed to embed functions: %w", err)
		}
		for i, emb := range resp.Embeddings {
			out[names[start+i]] = emb
		}
	}
	return out, nil
}

// persist replaces the file's rows in one transaction
func (e *Extractor) persist(ctx context.Context, path string, content []byte, moduleID string,
	parsed *types.ParseResult, vectors map[string]*embedder.Embedding) error {

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	file := &storage.File{
		ProjectID:   e.opts.ProjectID,
		FilePath:    relativePath(e.opts.Root, path),
		Language:    string(parsed.Language),
		PackageName: parsed.PackageName,
		ContentHash: fingerprint.Bytes(content),
		ModuleID:    moduleID,
		SizeBytes:   int64(len(content)),
	}
	if parsed.HasErrors() {
		msg := parsed.Errors[0].Message
		file.ParseError = &msg
	}
	if err := tx.UpsertFile(ctx, file); err != nil {
		return err
	}

	if err := tx.DeleteSymbolsByFile(ctx, file.ID); err != nil {
		return fmt.Errorf("failed to clear symbols: %w", err)
	}
	if err := tx.DeleteImportsByFile(ctx, file.ID); err != nil {
		return fmt.Errorf("failed to clear imports: %w", err)
	}

	for i := range parsed.Symbols {
		sym := toStorageSymbol(&parsed.Symbols[i], file.ID)
		if parsed.Symbols[i].IsCallable() {
			sym.FunctionID = graph.FunctionID(moduleID, parsed.Symbols[i].QualifiedName())
		}
		if err := tx.UpsertSymbol(ctx, sym); err != nil {
			return err
		}

		emb, ok := vectors[parsed.Symbols[i].QualifiedName()]
		if !ok || !parsed.Symbols[i].IsCallable() {
			continue
		}
		if err := tx.UpsertEmbedding(ctx, &storage.Embedding{
			SymbolID:  sym.ID,
			Vector:    embedder.EncodeVector(emb.Vector),
			Dimension: emb.Dimension,
			Provider:  emb.Provider,
			Model:     emb.Model,
		}); err != nil {
			return err
		}
	}

	for _, imp := range parsed.Imports {
		if err := tx.UpsertImport(ctx, &storage.Import{FileID: file.ID, ImportPath: imp.Path, Alias: imp.Alias}); err != nil {
			return fmt.Errorf("failed to store import: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}
	return nil
}

func toStorageSymbol(sym *types.Symbol, fileID int64) *storage.Symbol {
	return &storage.Symbol{
		FileID:      fileID,
		Name:        sym.Name,
		Kind:        string(sym.Kind),
		PackageName: sym.Package,
		Signature:   sym.Signature,
		DocComment:  sym.DocComment,
		Scope:       string(sym.Scope),
		Receiver:    sym.Receiver,
		StartLine:   sym.Start.Line,
		StartCol:    sym.Start.Column,
		EndLine:     sym.End.Line,
		EndCol:      sym.End.Column,
	}
}

// sourceLines returns lines start..end (1-based, inclusive)
func sourceLines(lines []string, start, end int) string {
	if start < 1 || start > len(lines) {
		return ""
	}
	end = min(max(end, start), len(lines))
	return strings.Join(lines[start-1:end], "\n")
}

func relativePath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
