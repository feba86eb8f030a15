package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeknow/internal/graph"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createTestProject(t *testing.T, s *SQLiteStorage, root string) *Project {
	t.Helper()
	project := &Project{RootPath: root, ModuleName: "example", IndexVersion: "1.0.0"}
	require.NoError(t, s.CreateProject(context.Background(), project))
	return project
}

func createTestFile(t *testing.T, s Storage, projectID int64, path string) *File {
	t.Helper()
	file := &File{
		ProjectID:   projectID,
		FilePath:    path,
		Language:    "typescript",
		ContentHash: "abc123",
		SizeBytes:   42,
	}
	require.NoError(t, s.UpsertFile(context.Background(), file))
	return file
}

func TestNewSQLiteStorage_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening must not re-run applied migrations
	s, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := currentVersion(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestCreateProject(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	project := createTestProject(t, s, "/test/path")
	assert.Greater(t, project.ID, int64(0))

	err := s.CreateProject(ctx, &Project{RootPath: "/test/path", IndexVersion: "1.0.0"})
	assert.Error(t, err) // Unique constraint violation
}

func TestGetProject(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/test/path")

	retrieved, err := s.GetProject(ctx, "/test/path")
	require.NoError(t, err)
	assert.Equal(t, project.ID, retrieved.ID)
	assert.Equal(t, "example", retrieved.ModuleName)
	assert.True(t, retrieved.LastIndexedAt.IsZero())

	_, err = s.GetProject(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProject(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/test/path")

	project.TotalFiles = 10
	project.TotalSymbols = 25
	project.IndexVersion = "1.1.0"
	project.LastIndexedAt = time.Now()
	require.NoError(t, s.UpdateProject(ctx, project))

	retrieved, err := s.GetProject(ctx, "/test/path")
	require.NoError(t, err)
	assert.Equal(t, 10, retrieved.TotalFiles)
	assert.Equal(t, 25, retrieved.TotalSymbols)
	assert.Equal(t, "1.1.0", retrieved.IndexVersion)
	assert.False(t, retrieved.LastIndexedAt.IsZero())
}

func TestUpsertFile(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/test/path")

	file := createTestFile(t, s, project.ID, "src/a.ts")
	firstID := file.ID

	msg := "unexpected token"
	file.ContentHash = "def456"
	file.ParseError = &msg
	require.NoError(t, s.UpsertFile(ctx, file))
	assert.Equal(t, firstID, file.ID, "upsert keeps the row id")

	got, err := s.GetFile(ctx, project.ID, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "def456", got.ContentHash)
	require.NotNil(t, got.ParseError)
	assert.Equal(t, msg, *got.ParseError)

	_, err = s.GetFile(ctx, project.ID, "src/missing.ts")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDeleteFiles(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/test/path")
	b := createTestFile(t, s, project.ID, "b.ts")
	createTestFile(t, s, project.ID, "a.ts")

	files, err := s.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.ts", files[0].FilePath)

	require.NoError(t, s.DeleteFile(ctx, b.ID))
	files, err = s.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSymbolsEmbeddingsImports(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/test/path")
	file := createTestFile(t, s, project.ID, "a.go")

	sym := &Symbol{FileID: file.ID, Name: "Run", Kind: "function", FunctionID: "f1", StartLine: 3, EndLine: 9}
	require.NoError(t, s.UpsertSymbol(ctx, sym))
	assert.Greater(t, sym.ID, int64(0))

	emb := &Embedding{SymbolID: sym.ID, Vector: []byte{1, 2, 3, 4}, Dimension: 1, Provider: "local", Model: "m"}
	require.NoError(t, s.UpsertEmbedding(ctx, emb))
	require.NoError(t, s.UpsertImport(ctx, &Import{FileID: file.ID, ImportPath: "fmt"}))

	symbols, err := s.ListSymbolsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "f1", symbols[0].FunctionID)

	imports, err := s.ListImportsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "fmt", imports[0].ImportPath)

	status, err := s.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.SymbolsCount)
	assert.Equal(t, 1, status.EmbeddingsCount)
	assert.True(t, status.Health.EmbeddingsAvailable)

	// Deleting symbols cascades to embeddings
	require.NoError(t, s.DeleteSymbolsByFile(ctx, file.ID))
	require.NoError(t, s.DeleteImportsByFile(ctx, file.ID))
	status, err = s.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Zero(t, status.SymbolsCount)
	assert.Zero(t, status.EmbeddingsCount)
}

func TestTransaction(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/test/path")

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	file := &File{ProjectID: project.ID, FilePath: "rolled.ts", ContentHash: "x"}
	require.NoError(t, tx.UpsertFile(ctx, file))
	require.NoError(t, tx.Rollback())

	_, err = s.GetFile(ctx, project.ID, "rolled.ts")
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err = s.BeginTx(ctx)
	require.NoError(t, err)
	file = &File{ProjectID: project.ID, FilePath: "kept.ts", ContentHash: "y"}
	require.NoError(t, tx.UpsertFile(ctx, file))
	require.NoError(t, tx.UpsertSymbol(ctx, &Symbol{FileID: file.ID, Name: "kept", Kind: "function"}))
	require.NoError(t, tx.Commit())

	got, err := s.GetFile(ctx, project.ID, "kept.ts")
	require.NoError(t, err)
	symbols, err := s.ListSymbolsByFile(ctx, got.ID)
	require.NoError(t, err)
	assert.Len(t, symbols, 1)
}

func TestSaveGraphAndListDependencies(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/repo")

	g := &graph.Graph{
		Modules: graph.Adjacency{
			"ma": {"mb", "mc"},
			"mb": {"mc"},
			"mc": {},
		},
		Functions: graph.Adjacency{
			"f1": {"f2"},
			"f2": {},
		},
		ModulePaths: map[string]string{
			"ma": "/repo/src/a.ts",
			"mb": "/repo/src/b.ts",
			"mc": "/repo/src/c.ts",
		},
	}
	require.NoError(t, s.SaveGraph(ctx, project.ID, g))

	deps, err := s.ListDependencies(ctx, project.ID, "src/b.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/c.ts"}, deps.Imports)
	assert.Equal(t, []string{"src/a.ts"}, deps.ImportedBy)

	status, err := s.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ModuleEdgesCount)
	assert.Equal(t, 1, status.FunctionEdgesCount)
	assert.True(t, status.Health.GraphBuilt)

	// Saving again replaces, not appends
	g.Modules = graph.Adjacency{"ma": {"mb"}, "mb": {}, "mc": {}}
	require.NoError(t, s.SaveGraph(ctx, project.ID, g))
	status, err = s.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ModuleEdgesCount)

	_, err = s.ListDependencies(ctx, project.ID, "src/unknown.ts")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListGraphFacts(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, s, "/repo")

	// Facts come from the saved graph alone, no file rows needed
	require.NoError(t, s.SaveGraph(ctx, project.ID, &graph.Graph{
		Modules:     graph.Adjacency{"ma": {"mb"}},
		Functions:   graph.Adjacency{"fa1": {"fa2", "fb1"}, "fa2": {}, "fb1": {}, "loose": {"fa1"}},
		ModulePaths: map[string]string{"ma": "/repo/src/a.ts", "mb": "/repo/src/b.ts"},
		Facts: []graph.ModuleFacts{
			{
				Path:          "/repo/src/a.ts",
				ModuleID:      "ma",
				Specifiers:    []string{"./b", "react"},
				FunctionEdges: map[string][]string{"fa1": {"fa2", "fb1"}, "fa2": {}},
			},
			{
				Path:          "/repo/src/b.ts",
				ModuleID:      "mb",
				FunctionEdges: map[string][]string{"fb1": {}},
			},
		},
	}))

	facts, err := s.ListGraphFacts(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Equal(t, "src/a.ts", facts[0].FilePath)
	assert.Equal(t, "ma", facts[0].ModuleID)
	assert.Equal(t, []string{"./b", "react"}, facts[0].Specifiers)
	assert.Equal(t, map[string][]string{"fa1": {"fa2", "fb1"}, "fa2": {}}, facts[0].FunctionEdges)

	assert.Equal(t, "src/b.ts", facts[1].FilePath)
	assert.Empty(t, facts[1].Specifiers)
	assert.Equal(t, map[string][]string{"fb1": {}}, facts[1].FunctionEdges)

	// Saving again replaces the earlier facts
	require.NoError(t, s.SaveGraph(ctx, project.ID, &graph.Graph{
		ModulePaths: map[string]string{"mb": "/repo/src/b.ts"},
		Facts:       []graph.ModuleFacts{{Path: "/repo/src/b.ts", ModuleID: "mb", Specifiers: []string{"./c"}}},
	}))
	facts, err = s.ListGraphFacts(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []string{"./c"}, facts[0].Specifiers)
	assert.Empty(t, facts[0].FunctionEdges)
}

func TestRollbackMigration(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, s.db))
	v, err := currentVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, s.db))
	v, err = currentVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}
