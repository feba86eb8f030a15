package storage

import (
	"context"
	"time"

	"github.com/dshills/codeknow/internal/graph"
)

// FileWriter holds the per-file mutations an extractor performs, either
// directly or inside a transaction
type FileWriter interface {
	UpsertFile(ctx context.Context, file *File) error
	DeleteSymbolsByFile(ctx context.Context, fileID int64) error
	UpsertSymbol(ctx context.Context, symbol *Symbol) error
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	DeleteImportsByFile(ctx context.Context, fileID int64) error
	UpsertImport(ctx context.Context, imp *Import) error
}

// Storage defines the interface for persisting and querying indexed code data
type Storage interface {
	FileWriter

	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, rootPath string) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error

	// File operations
	GetFile(ctx context.Context, projectID int64, filePath string) (*File, error)
	DeleteFile(ctx context.Context, fileID int64) error
	ListFiles(ctx context.Context, projectID int64) ([]*File, error)

	// Symbol and import reads
	ListSymbolsByFile(ctx context.Context, fileID int64) ([]*Symbol, error)
	ListImportsByFile(ctx context.Context, fileID int64) ([]*Import, error)

	// Graph operations
	SaveGraph(ctx context.Context, projectID int64, g *graph.Graph) error
	ListDependencies(ctx context.Context, projectID int64, filePath string) (*Dependencies, error)
	ListGraphFacts(ctx context.Context, projectID int64) ([]*ModuleFacts, error)

	// Status operations
	GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	FileWriter
	Commit() error
	Rollback() error
}

// Project represents an indexed codebase
type Project struct {
	ID            int64
	RootPath      string
	ModuleName    string
	TotalFiles    int
	TotalSymbols  int
	IndexVersion  string
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// File represents a tracked source file
type File struct {
	ID            int64
	ProjectID     int64
	FilePath      string // Relative to project root
	Language      string
	PackageName   string
	ContentHash   string // Hex SHA-256
	ModuleID      string
	SizeBytes     int64
	ParseError    *string // Nullable
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Symbol represents a declaration extracted from a file
type Symbol struct {
	ID          int64
	FileID      int64
	FunctionID  string // Graph node id for callables, empty otherwise
	Name        string
	Kind        string
	PackageName string
	Signature   string
	DocComment  string
	Scope       string
	Receiver    string
	StartLine   int
	StartCol    int
	EndLine     int
	EndCol      int
	CreatedAt   time.Time
}

// Embedding represents a vector embedding for a symbol
type Embedding struct {
	ID        int64
	SymbolID  int64
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Import represents an import statement or specifier in a file
type Import struct {
	ID         int64
	FileID     int64
	ImportPath string
	Alias      string
	CreatedAt  time.Time
}

// Dependencies lists a file's resolved module edges in both directions
type Dependencies struct {
	FilePath   string
	ModuleID   string
	Imports    []string // Files this file imports
	ImportedBy []string // Files importing this file
}

// ModuleFacts are the per-file inputs of the dependency graph as last
// persisted: the raw import specifiers and the call edges leaving the
// file's functions. They let an incremental run rebuild the whole graph
// without re-extracting unchanged files.
type ModuleFacts struct {
	FilePath      string // Relative to project root
	ModuleID      string
	Specifiers    []string
	FunctionEdges map[string][]string // Every function of the file, edges may be empty
}

// ProjectStatus contains statistics about an indexed project
type ProjectStatus struct {
	Project            *Project
	FilesCount         int
	SymbolsCount       int
	EmbeddingsCount    int
	ModuleEdgesCount   int
	FunctionEdgesCount int
	FilesWithErrors    int
	IndexSizeMB        float64
	LastIndexedAt      time.Time
	Health             HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	GraphBuilt          bool
}
