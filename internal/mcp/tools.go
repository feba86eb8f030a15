package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/discover"
	"github.com/dshills/codeknow/internal/indexer"
	"github.com/dshills/codeknow/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // Specified path does not contain a source project
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Project not indexed
	ErrorCodeFileNotFound       = -32004 // File has no node in the dependency graph
)

// maxReportedErrors bounds the per-file errors returned by index_codebase
const maxReportedErrors = 5

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := projectArgs(request)
	if err != nil {
		return nil, err
	}

	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrNoSourceFiles) {
			code = ErrorCodeProjectNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	forceReindex := getBoolDefault(args, "force_reindex", false)

	idx, err := s.indexerFor(path, true)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stats, err := idx.IndexProject(ctx, indexer.Options{
		Root:    path,
		Config:  s.cfg,
		Force:   forceReindex,
		Metrics: s.metrics,
	})
	if errors.Is(err, indexer.ErrIndexInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"path": path,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error":           err.Error(),
			"files_processed": stats.Files,
		})
	}

	reasons := make(map[string]int, len(stats.Reasons))
	for reason, n := range stats.Reasons {
		reasons[string(reason)] = n
	}

	response := map[string]interface{}{
		"indexed":           true,
		"checkpoint_status": string(stats.CheckpointStatus),
		"files_discovered":  stats.Discovered,
		"files_pending":     stats.Pending,
		"files_indexed":     stats.Files,
		"files_skipped":     stats.Skipped,
		"files_failed":      stats.Failed,
		"files_removed":     stats.Removed,
		"functions":         stats.Functions,
		"lock_contention":   stats.LockContention,
		"checkpoint_saves":  stats.CheckpointSaves,
		"reasons":           reasons,
		"graph": map[string]interface{}{
			"modules":        stats.Graph.Modules,
			"module_edges":   stats.Graph.ModuleEdges,
			"functions":      stats.Graph.Functions,
			"function_edges": stats.Graph.FunctionEdges,
		},
		"duration_ms": stats.Duration.Milliseconds(),
	}

	if n := len(stats.Errors); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = stats.Errors[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, path, err := projectArgs(request)
	if err != nil {
		return nil, err
	}

	if err := validateDir(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	notIndexed := map[string]interface{}{
		"indexed": false,
		"path":    path,
		"message": "Project not indexed. Use index_codebase tool to index this project.",
	}

	idx, err := s.indexerFor(path, false)
	if errors.Is(err, errNotIndexed) {
		return mcp.NewToolResultText(formatJSON(notIndexed)), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	project, err := idx.Storage().GetProject(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultText(formatJSON(notIndexed)), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get project status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	status, err := idx.Storage().GetStatus(ctx, project.ID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// The checkpoint is inspected against the current configuration, so a
	// status other than "loaded" means the next run re-indexes everything.
	cp, cpStatus := checkpoint.LoadOrInit(indexer.WorkspaceFor(path).Checkpoint, s.cfg.Fingerprint(), indexer.Version)

	response := map[string]interface{}{
		"indexed":              true,
		"indexing_in_progress": idx.Running(path),
		"project": map[string]interface{}{
			"path":            project.RootPath,
			"module_name":     project.ModuleName,
			"index_version":   project.IndexVersion,
			"last_indexed_at": project.LastIndexedAt.Format(time.RFC3339),
		},
		"statistics": map[string]interface{}{
			"files_count":          status.FilesCount,
			"files_with_errors":    status.FilesWithErrors,
			"symbols_count":        status.SymbolsCount,
			"embeddings_count":     status.EmbeddingsCount,
			"module_edges_count":   status.ModuleEdgesCount,
			"function_edges_count": status.FunctionEdgesCount,
			"index_size_mb":        fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"checkpoint": map[string]interface{}{
			"status":     string(cpStatus),
			"files":      cp.Len(),
			"updated_at": cp.UpdatedAt().Format(time.RFC3339),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"graph_built":          status.Health.GraphBuilt,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetDependencies handles the get_dependencies tool invocation
func (s *Server) handleGetDependencies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := projectArgs(request)
	if err != nil {
		return nil, err
	}

	file, ok := args["file"].(string)
	if !ok || file == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "file parameter is required", map[string]interface{}{
			"param":  "file",
			"reason": "missing or empty",
		})
	}

	if err := validateDir(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	rel, err := relativeFile(path, file)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid file", map[string]interface{}{
			"param":  "file",
			"reason": err.Error(),
		})
	}

	idx, err := s.indexerFor(path, false)
	if errors.Is(err, errNotIndexed) {
		return nil, newMCPError(ErrorCodeNotIndexed, "project not indexed", map[string]interface{}{
			"path": path,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	project, err := idx.Storage().GetProject(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotIndexed, "project not indexed", map[string]interface{}{
			"path": path,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get project", map[string]interface{}{
			"error": err.Error(),
		})
	}

	deps, err := idx.Storage().ListDependencies(ctx, project.ID, rel)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeFileNotFound, "file not in dependency graph", map[string]interface{}{
			"file": rel,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list dependencies", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"file":        deps.FilePath,
		"module_id":   deps.ModuleID,
		"imports":     deps.Imports,
		"imported_by": deps.ImportedBy,
	}
	if err := addFileDetails(ctx, idx.Storage(), project.ID, rel, response); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read file details", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// addFileDetails adds the stored file row, its raw import specifiers and its
// symbols to response. Files the extractor never stored are left as is.
func addFileDetails(ctx context.Context, store storage.Storage, projectID int64, rel string, response map[string]interface{}) error {
	file, err := store.GetFile(ctx, projectID, rel)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	imports, err := store.ListImportsByFile(ctx, file.ID)
	if err != nil {
		return err
	}
	specifiers := make([]string, 0, len(imports))
	for _, imp := range imports {
		specifiers = append(specifiers, imp.ImportPath)
	}

	symbols, err := store.ListSymbolsByFile(ctx, file.ID)
	if err != nil {
		return err
	}
	syms := make([]map[string]interface{}, 0, len(symbols))
	for _, sym := range symbols {
		syms = append(syms, map[string]interface{}{
			"name":       sym.Name,
			"kind":       sym.Kind,
			"start_line": sym.StartLine,
			"end_line":   sym.EndLine,
		})
	}

	response["language"] = file.Language
	response["specifiers"] = specifiers
	response["symbols"] = syms
	if file.ParseError != nil {
		response["parse_error"] = *file.ParseError
	}
	return nil
}

// projectArgs extracts the arguments map and the required path parameter
func projectArgs(request mcp.CallToolRequest) (map[string]interface{}, string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	return args, filepath.Clean(path), nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validateDir checks that path is an absolute, readable directory
func validateDir(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// validatePath checks that path is a readable directory holding at least
// one recognized source file outside skipped directories
func validatePath(path string) error {
	if err := validateDir(path); err != nil {
		return err
	}

	found := false
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != path && discover.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if discover.IsSource(p) {
			found = true
			return fs.SkipAll
		}
		return nil
	})

	if !found {
		return ErrNoSourceFiles
	}
	return nil
}

// relativeFile maps file to a slash-separated path relative to root
func relativeFile(root, file string) (string, error) {
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	rel, err := filepath.Rel(root, filepath.Clean(file))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrFileOutsideRoot
	}
	return filepath.ToSlash(rel), nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrNoSourceFiles   = errors.New("directory does not contain recognized source files")
	ErrFileOutsideRoot = errors.New("file is outside the project root")
)
