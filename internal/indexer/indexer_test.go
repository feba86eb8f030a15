package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/config"
	"github.com/dshills/codeknow/internal/fingerprint"
	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/lock"
	"github.com/dshills/codeknow/internal/pending"
	"github.com/dshills/codeknow/internal/storage"
	"github.com/dshills/codeknow/internal/swarm"
	"github.com/dshills/codeknow/pkg/types"
)

const aTS = `import { helper } from "./b";

export function run() {
  return helper() + local();
}

function local() {
  return 1;
}
`

const bTS = `export function helper() {
  return 2;
}
`

const mainGo = `package main

import "fmt"

func main() {
	fmt.Println(greet())
}

func greet() string {
	return "hi"
}
`

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// createTestFile creates a file under dir for testing
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, name)
	err := os.MkdirAll(filepath.Dir(filePath), 0o755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0o644)
	require.NoError(t, err)

	return filePath
}

func newTestIndexer(t *testing.T) (*Indexer, *storage.SQLiteStorage) {
	t.Helper()
	store := setupTestStorage(t)
	idx := New(store)
	t.Cleanup(idx.Close)
	return idx, store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func projectFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	createTestFile(t, root, "a.ts", aTS)
	createTestFile(t, root, "b.ts", bTS)
	return root
}

func dependencies(t *testing.T, store storage.Storage, root, file string) *storage.Dependencies {
	t.Helper()
	ctx := context.Background()
	project, err := store.GetProject(ctx, root)
	require.NoError(t, err)
	deps, err := store.ListDependencies(ctx, project.ID, file)
	require.NoError(t, err)
	return deps
}

func TestIndexProject_ImportEdge(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := projectFixture(t)

	stats, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Discovered)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 0, stats.Failed)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 3, stats.Functions)
	assert.Equal(t, checkpoint.StatusMissing, stats.CheckpointStatus)
	assert.Equal(t, map[pending.Reason]int{pending.ReasonNew: 2}, stats.Reasons)
	assert.GreaterOrEqual(t, stats.CheckpointSaves, 1)

	assert.Equal(t, 2, stats.Graph.Modules)
	assert.Equal(t, 1, stats.Graph.ModuleEdges)
	assert.Equal(t, 3, stats.Graph.Functions)

	deps := dependencies(t, store, root, "a.ts")
	assert.Equal(t, []string{"b.ts"}, deps.Imports)
	assert.Empty(t, deps.ImportedBy)

	deps = dependencies(t, store, root, "b.ts")
	assert.Equal(t, []string{"a.ts"}, deps.ImportedBy)
}

func TestIndexProject_Idempotent(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusLoaded, stats.CheckpointStatus)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Files)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.CheckpointSaves)

	// The graph is rebuilt from stored facts of the skipped files
	assert.Equal(t, 1, stats.Graph.ModuleEdges)
	assert.Equal(t, 3, stats.Graph.Functions)
	assert.Equal(t, []string{"b.ts"}, dependencies(t, store, root, "a.ts").Imports)
}

// graphOnlyExtractor reports graph facts without touching the store
type graphOnlyExtractor struct {
	root string
	acc  *graph.Accumulator
}

func (e *graphOnlyExtractor) Initialize(context.Context, storage.Storage) error {
	return nil
}

func (e *graphOnlyExtractor) AttachGraph(acc *graph.Accumulator) {
	e.acc = acc
}

func (e *graphOnlyExtractor) Shutdown() error {
	return nil
}

func (e *graphOnlyExtractor) Process(_ context.Context, path string) (*types.ExtractResult, error) {
	id := graph.ModuleID(e.root, path)
	var deps []string
	if filepath.Base(path) == "a.ts" {
		deps = []string{"./b"}
	}
	e.acc.RecordModule(path, id, deps)
	fn := graph.FunctionID(id, "main")
	e.acc.RecordModuleFunctions(id, fn)
	e.acc.RecordFunctionEdges(fn)
	return &types.ExtractResult{FilesProcessed: 1, FunctionsIndexed: 1}, nil
}

func TestIndexProject_IdempotentWithCustomExtractor(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()
	opts := Options{
		Root:   root,
		Config: testConfig(),
		Extractors: func(int) (swarm.Extractor, error) {
			return &graphOnlyExtractor{root: root}, nil
		},
	}

	first, err := idx.IndexProject(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Files)
	assert.Equal(t, 1, first.Graph.ModuleEdges)

	stats, err := idx.IndexProject(ctx, opts)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Files)
	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, stats.Reasons)
	assert.Equal(t, 2, stats.Graph.Modules)
	assert.Equal(t, 1, stats.Graph.ModuleEdges)
	assert.Equal(t, 2, stats.Graph.Functions)
	assert.Equal(t, []string{"b.ts"}, dependencies(t, store, root, "a.ts").Imports)
}

func TestIndexProject_UpToDateFileWithoutFacts(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	// Drop the saved graph; checkpointed files must still be skipped
	project, err := store.GetProject(ctx, root)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(ctx, project.ID, &graph.Graph{}))

	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Files)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Graph.Modules)
}

func TestIndexProject_ContentChange(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	createTestFile(t, root, "a.ts", `export function run() { return 1; }`)

	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, map[pending.Reason]int{pending.ReasonContentChanged: 1}, stats.Reasons)
	assert.Equal(t, 0, stats.Graph.ModuleEdges)
	assert.Empty(t, dependencies(t, store, root, "b.ts").ImportedBy)
}

func TestIndexProject_ConfigInvalidation(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Timeout.Policy = "retry"
	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusConfigChanged, stats.CheckpointStatus)
	assert.Equal(t, 2, stats.Files)

	// Knobs outside the fingerprint keep the checkpoint
	cfg.Workers = 1
	stats, err = idx.IndexProject(ctx, Options{Root: root, Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusLoaded, stats.CheckpointStatus)
	assert.Equal(t, 0, stats.Files)
}

func TestIndexProject_StaleIndexerVersion(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)
	cfg := testConfig()

	old := checkpoint.Empty(cfg.Fingerprint(), "0.9.0")
	for _, name := range []string{"a.ts", "b.ts"} {
		path := filepath.Join(root, name)
		old.Record(path, fingerprint.File(path), "0.9.0", time.Now())
	}
	require.NoError(t, checkpoint.Save(WorkspaceFor(root).Checkpoint, old))

	stats, err := idx.IndexProject(context.Background(), Options{Root: root, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusIndexerChanged, stats.CheckpointStatus)
	assert.Equal(t, 2, stats.Files)

	cp, status := checkpoint.LoadOrInit(WorkspaceFor(root).Checkpoint, cfg.Fingerprint(), Version)
	require.Equal(t, checkpoint.StatusLoaded, status)
	entry, ok := cp.Entry(filepath.Join(root, "a.ts"))
	require.True(t, ok)
	assert.Equal(t, Version, entry.IndexerVersion)
}

func TestIndexProject_ReclaimsStaleLock(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)
	ws := WorkspaceFor(root)

	// A crashed worker left a.ts locked an hour ago
	locks, err := lock.NewFileManager(ws.Locks, time.Minute)
	require.NoError(t, err)
	key := fingerprint.Key(filepath.Join(root, "a.ts"))
	acquired, err := locks.Acquire(key)
	require.NoError(t, err)
	require.True(t, acquired)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(ws.Locks, key+".lock"), past, past))

	cfg := testConfig()
	cfg.LockStaleAfter = time.Minute
	stats, err := idx.IndexProject(context.Background(), Options{Root: root, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 0, stats.Failed)

	entries, err := os.ReadDir(ws.Locks)
	require.NoError(t, err)
	assert.Empty(t, entries, "every lock is released")
}

func TestIndexProject_HeldLockIsRetried(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)

	locks := lock.NewMemoryManager(time.Hour)
	key := fingerprint.Key(filepath.Join(root, "b.ts"))
	acquired, err := locks.Acquire(key)
	require.NoError(t, err)
	require.True(t, acquired)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = locks.Release(key)
	}()

	stats, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig(), Locks: locks})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Files)
	assert.Positive(t, stats.LockContention)
}

func TestIndexProject_Force(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	// A leftover lock is cleared by a forced run
	ws := WorkspaceFor(root)
	createTestFile(t, ws.Locks, fingerprint.Key(filepath.Join(root, "a.ts"))+".lock", "")

	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig(), Force: true})
	require.NoError(t, err)

	assert.Equal(t, StatusForced, stats.CheckpointStatus)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 0, stats.LockContention)
	assert.Equal(t, map[pending.Reason]int{pending.ReasonForced: 2}, stats.Reasons)
}

func TestIndexProject_PrunesRemovedFiles(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.ts")))

	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Graph.Modules)
	assert.Equal(t, 0, stats.Graph.ModuleEdges)

	project, err := store.GetProject(ctx, root)
	require.NoError(t, err)
	files, err := store.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.ts", files[0].FilePath)
	assert.Equal(t, 1, project.TotalFiles)

	cp, status := checkpoint.LoadOrInit(WorkspaceFor(root).Checkpoint, testConfig().Fingerprint(), Version)
	require.Equal(t, checkpoint.StatusLoaded, status)
	assert.Equal(t, []string{filepath.Join(root, "a.ts")}, cp.Paths())
}

func TestIndexProject_FailedFileIsRetried(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)
	ctx := context.Background()
	opts := Options{Root: root, Config: testConfig(), Files: []string{"a.ts", "b.ts", "gone.ts"}}

	stats, err := idx.IndexProject(ctx, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "gone.ts", stats.Errors[0].Path)
	assert.Equal(t, 0, stats.Removed, "explicit file lists never prune")

	stats, err = idx.IndexProject(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Failed)
}

func TestIndexProject_GoProject(t *testing.T) {
	idx, store := newTestIndexer(t)
	root := t.TempDir()
	createTestFile(t, root, "go.mod", "module example.com/hello\n\ngo 1.22\n")
	createTestFile(t, root, "main.go", mainGo)
	createTestFile(t, root, "main_test.go", "package main\n")

	stats, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Files, "tests are excluded by default")
	assert.Equal(t, 2, stats.Functions)
	assert.Equal(t, 1, stats.Graph.FunctionEdges, "main calls greet")

	project, err := store.GetProject(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "example.com/hello", project.ModuleName)
	assert.Equal(t, 2, project.TotalSymbols)
}

func TestIndexProject_Progress(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)

	var mu sync.Mutex
	var events []types.Progress
	progress := func(p types.Progress) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, p)
	}

	_, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig(), Progress: progress})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].Total)
	assert.Equal(t, 2, events[1].Completed)
}

type recordingSink struct {
	graphs []*graph.Graph
}

func (s *recordingSink) SaveGraph(_ context.Context, _ int64, g *graph.Graph) error {
	s.graphs = append(s.graphs, g)
	return nil
}

func TestIndexProject_GraphSink(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)
	sink := &recordingSink{}

	_, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig(), Sink: sink})
	require.NoError(t, err)

	require.Len(t, sink.graphs, 1)
	g := sink.graphs[0]
	aID := graph.ModuleID(root, filepath.Join(root, "a.ts"))
	bID := graph.ModuleID(root, filepath.Join(root, "b.ts"))
	assert.Equal(t, []string{bID}, g.Modules[aID])
}

// blockingExtractor parks in Process until release is closed
type blockingExtractor struct {
	entered chan<- struct{}
	release <-chan struct{}
	once    *sync.Once
}

func (b *blockingExtractor) Initialize(context.Context, storage.Storage) error {
	return nil
}

func (b *blockingExtractor) AttachGraph(*graph.Accumulator) {}

func (b *blockingExtractor) Shutdown() error {
	return nil
}

func (b *blockingExtractor) Process(ctx context.Context, _ string) (*types.ExtractResult, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return &types.ExtractResult{FilesProcessed: 1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestIndexProject_RejectsConcurrentRun(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	once := &sync.Once{}
	factory := func(int) (swarm.Extractor, error) {
		return &blockingExtractor{entered: entered, release: release, once: once}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig(), Extractors: factory})
		done <- err
	}()

	<-entered
	assert.True(t, idx.Running(root))
	_, err := idx.IndexProject(context.Background(), Options{Root: root, Config: testConfig()})
	assert.ErrorIs(t, err, ErrIndexInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, idx.Running(root))
}

func TestIndexProject_Cancelled(t *testing.T) {
	idx, _ := newTestIndexer(t)
	root := projectFixture(t)

	entered := make(chan struct{})
	once := &sync.Once{}
	factory := func(int) (swarm.Extractor, error) {
		return &blockingExtractor{entered: entered, release: make(chan struct{}), once: once}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()

	stats, err := idx.IndexProject(ctx, Options{Root: root, Config: testConfig(), Extractors: factory})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, stats.Files)
}

func TestIndexProject_InvalidRoot(t *testing.T) {
	idx, _ := newTestIndexer(t)

	_, err := idx.IndexProject(context.Background(), Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := createTestFile(t, t.TempDir(), "x.go", "package x")
	_, err = idx.IndexProject(context.Background(), Options{Root: file})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestRecentFirst(t *testing.T) {
	root := t.TempDir()
	oldest := createTestFile(t, root, "c.ts", "")
	newest := createTestFile(t, root, "a.ts", "")
	tieB := createTestFile(t, root, "b2.ts", "")
	tieA := createTestFile(t, root, "b1.ts", "")
	missing := filepath.Join(root, "zz.ts")

	now := time.Now()
	require.NoError(t, os.Chtimes(oldest, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(newest, now, now))
	mid := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(tieA, mid, mid))
	require.NoError(t, os.Chtimes(tieB, mid, mid))

	got := RecentFirst{}.Prioritize([]string{missing, oldest, tieB, newest, tieA})
	assert.Equal(t, []string{newest, tieA, tieB, oldest, missing}, got)
}

func TestModuleName(t *testing.T) {
	goRoot := t.TempDir()
	createTestFile(t, goRoot, "go.mod", "module github.com/acme/tool\n\ngo 1.22\n")
	assert.Equal(t, "github.com/acme/tool", moduleName(goRoot))

	jsRoot := t.TempDir()
	createTestFile(t, jsRoot, "package.json", `{"name": "@acme/web", "version": "1.0.0"}`)
	assert.Equal(t, "@acme/web", moduleName(jsRoot))

	bare := t.TempDir()
	assert.Equal(t, filepath.Base(bare), moduleName(bare))
}

func TestParseGoMod(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "go.mod", "module example.com/x\n\ngo 1.25.4\n\nrequire foo v1.0.0\n")

	info, err := parseGoMod(path)
	require.NoError(t, err)
	assert.Equal(t, "example.com/x", info.Module)
	assert.Equal(t, "1.25.4", info.GoVersion)

	_, err = parseGoMod(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDBPath(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, filepath.Join(root, ".codeknow", "index.db"), DBPath(root, nil))

	cfg := config.Default()
	cfg.DBPath = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", DBPath(root, cfg))
}
