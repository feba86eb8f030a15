package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeknow/internal/config"
	"github.com/dshills/codeknow/internal/indexer"
	"github.com/dshills/codeknow/internal/metrics"
	"github.com/dshills/codeknow/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codeknow"
	// ServerVersion is the current server version
	ServerVersion = indexer.Version
)

// errNotIndexed reports a project without a knowledge store
var errNotIndexed = errors.New("project not indexed")

// Server wraps the MCP server with application dependencies. Each project
// root gets its own indexer over the database indexer.DBPath resolves for it.
type Server struct {
	mcp     *server.MCPServer
	cfg     *config.Config
	metrics *metrics.IndexMetrics

	mu       sync.Mutex
	indexers map[string]*indexer.Indexer // by database path
}

// NewServer creates a new MCP server instance. m may be nil.
func NewServer(cfg *config.Config, m *metrics.IndexMetrics) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		cfg:      cfg,
		metrics:  m,
		indexers: make(map[string]*indexer.Indexer),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// Close releases every open project store
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for path, idx := range s.indexers {
		idx.Close()
		if err := idx.Storage().Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(s.indexers, path)
	}
	return errors.Join(errs...)
}

// indexerFor returns the indexer serving root. Without create, a project
// whose database does not exist yet yields errNotIndexed.
func (s *Server) indexerFor(root string, create bool) (*indexer.Indexer, error) {
	dbPath := indexer.DBPath(root, s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indexers[dbPath]; ok {
		return idx, nil
	}

	if !create {
		if _, err := os.Stat(dbPath); err != nil {
			if os.IsNotExist(err) {
				return nil, errNotIndexed
			}
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	idx := indexer.New(store)
	s.indexers[dbPath] = idx
	return idx, nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(getDependenciesTool(), s.handleGetDependencies)
}
