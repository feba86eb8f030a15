package extractor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeknow/internal/embedder"
	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/parser"
	"github.com/dshills/codeknow/internal/storage"
	"github.com/dshills/codeknow/pkg/types"
)

type harness struct {
	root    string
	store   *storage.SQLiteStorage
	project *storage.Project
	acc     *graph.Accumulator
	parser  *parser.Parser
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	project := &storage.Project{RootPath: root, IndexVersion: "test"}
	require.NoError(t, store.CreateProject(context.Background(), project))

	p := parser.New()
	t.Cleanup(p.Close)

	return &harness{root: root, store: store, project: project, acc: graph.NewAccumulator(), parser: p}
}

func (h *harness) extractor(t *testing.T, opts Options) *Extractor {
	t.Helper()
	opts.Root = h.root
	opts.ProjectID = h.project.ID
	if opts.Parser == nil {
		opts.Parser = h.parser
	}
	e := New(opts)
	e.AttachGraph(h.acc)
	require.NoError(t, e.Initialize(context.Background(), h.store))
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func createTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const aTS = `import { helper } from "./b";
import fs from "fs";

export function run() {
  helper();
  local();
}

function local() {
  return 1;
}
`

const bTS = `export function helper() {
  return 2;
}
`

func TestProcess_PersistsAndRecordsGraph(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	local, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	e := h.extractor(t, Options{Embedder: local})

	a := createTestFile(t, h.root, "src/a.ts", aTS)
	b := createTestFile(t, h.root, "src/b.ts", bTS)

	res, err := e.Process(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 2, res.FunctionsIndexed)
	assert.Empty(t, res.Errors)

	_, err = e.Process(ctx, b)
	require.NoError(t, err)

	file, err := h.store.GetFile(ctx, h.project.ID, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "typescript", file.Language)
	assert.Equal(t, graph.ModuleID(h.root, a), file.ModuleID)
	assert.Nil(t, file.ParseError)

	symbols, err := h.store.ListSymbolsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	for _, sym := range symbols {
		assert.Equal(t, graph.FunctionID(file.ModuleID, sym.Name), sym.FunctionID)
	}

	imports, err := h.store.ListImportsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Len(t, imports, 2)

	status, err := h.store.GetStatus(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.EmbeddingsCount)

	g := h.acc.Resolve()
	aID, bID := graph.ModuleID(h.root, a), graph.ModuleID(h.root, b)
	assert.Equal(t, []string{bID}, g.Modules[aID])
	assert.Empty(t, g.Modules[bID])

	// Cross-file calls are not resolved; local calls are
	runID := graph.FunctionID(aID, "run")
	assert.Equal(t, []string{graph.FunctionID(aID, "local")}, g.Functions[runID])
	assert.Contains(t, g.Functions, graph.FunctionID(bID, "helper"))

	// Every function is claimed by its module for the next run
	require.Len(t, g.Facts, 2)
	assert.Equal(t, a, g.Facts[0].Path)
	assert.Len(t, g.Facts[0].FunctionEdges, 2)
	assert.Contains(t, g.Facts[0].FunctionEdges, runID)
	assert.Contains(t, g.Facts[1].FunctionEdges, graph.FunctionID(bID, "helper"))
}

func TestProcess_ReplacesPreviousRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.extractor(t, Options{})

	path := createTestFile(t, h.root, "main.go", "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println() }\n\nfunc old() {}\n")
	_, err := e.Process(ctx, path)
	require.NoError(t, err)

	createTestFile(t, h.root, "main.go", "package main\n\nfunc main() {}\n")
	_, err = e.Process(ctx, path)
	require.NoError(t, err)

	file, err := h.store.GetFile(ctx, h.project.ID, "main.go")
	require.NoError(t, err)
	symbols, err := h.store.ListSymbolsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "main", symbols[0].Name)

	imports, err := h.store.ListImportsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Empty(t, imports)

	files, err := h.store.ListFiles(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestProcess_SyntaxErrorIsStoredNotFailed(t *testing.T) {
	h := newHarness(t)
	e := h.extractor(t, Options{})

	path := createTestFile(t, h.root, "broken.go", "package broken\n\nfunc ok() {}\n\nfunc bad( {\n")
	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	file, err := h.store.GetFile(context.Background(), h.project.ID, "broken.go")
	require.NoError(t, err)
	require.NotNil(t, file.ParseError)
	assert.Contains(t, *file.ParseError, "syntax error")
}

func TestProcess_Errors(t *testing.T) {
	h := newHarness(t)
	e := h.extractor(t, Options{})

	_, err := e.Process(context.Background(), filepath.Join(h.root, "missing.ts"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")

	py := createTestFile(t, h.root, "tool.py", "print(1)\n")
	_, err = e.Process(context.Background(), py)
	assert.ErrorIs(t, err, types.ErrUnsupportedLanguage)

	assert.Equal(t, 0, h.acc.Modules())
}

// blockingEmbedder never answers before its context ends
type blockingEmbedder struct {
	calls atomic.Int32
}

func (b *blockingEmbedder) GenerateEmbedding(ctx context.Context, _ embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingEmbedder) GenerateBatch(ctx context.Context, _ embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingEmbedder) Dimension() int   { return 1 }
func (b *blockingEmbedder) Provider() string { return "blocking" }
func (b *blockingEmbedder) Model() string    { return "blocking" }
func (b *blockingEmbedder) Close() error     { return nil }

func TestProcess_TimeoutPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    TimeoutPolicy
		retries   int
		wantCalls int32
		wantAbort bool
	}{
		{name: "skip", policy: PolicySkip, wantCalls: 1},
		{name: "retry", policy: PolicyRetry, retries: 2, wantCalls: 3},
		{name: "fail", policy: PolicyFail, wantCalls: 1, wantAbort: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			emb := &blockingEmbedder{}
			e := h.extractor(t, Options{
				Embedder:   emb,
				Timeout:    20 * time.Millisecond,
				Policy:     tt.policy,
				MaxRetries: tt.retries,
			})

			path := createTestFile(t, h.root, "slow.ts", "export function slow() { return 1; }\n")
			res, err := e.Process(context.Background(), path)

			assert.Equal(t, tt.wantCalls, emb.calls.Load())
			if tt.wantAbort {
				require.ErrorIs(t, err, types.ErrAbortRun)
				assert.ErrorIs(t, err, ErrTimeout)
				return
			}

			require.NoError(t, err)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, path, res.Errors[0].Path)
			assert.Contains(t, res.Errors[0].Error, "timed out after 20ms")

			// A timed-out file leaves nothing behind
			_, err = h.store.GetFile(context.Background(), h.project.ID, "slow.ts")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			assert.Equal(t, 0, h.acc.Modules())
		})
	}
}

func TestProcess_ParentCancellationIsNotATimeout(t *testing.T) {
	h := newHarness(t)
	e := h.extractor(t, Options{Embedder: &blockingEmbedder{}, Timeout: time.Minute, Policy: PolicyFail})

	path := createTestFile(t, h.root, "slow.ts", "export function slow() { return 1; }\n")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Process(ctx, path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrAbortRun)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFactory(t *testing.T) {
	ext, err := Factory(Options{Policy: PolicyRetry})(0)
	require.NoError(t, err)
	assert.IsType(t, &Extractor{}, ext)

	_, err = Factory(Options{Policy: "explode"})(0)
	assert.Error(t, err)

	assert.Error(t, New(Options{}).Initialize(context.Background(), nil))
}

func TestInitialize_PrivateParser(t *testing.T) {
	h := newHarness(t)
	e := New(Options{Root: h.root, ProjectID: h.project.ID})
	require.NoError(t, e.Initialize(context.Background(), h.store))
	defer func() { assert.NoError(t, e.Shutdown()) }()

	path := createTestFile(t, h.root, "x.js", "function x() {}\n")
	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FunctionsIndexed)
}
