package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/codeknow/internal/config"
	"github.com/dshills/codeknow/internal/lock"
	"github.com/dshills/codeknow/internal/storage"
)

// Workspace state layout under a project root
const (
	StateDirName      = ".codeknow"
	SwarmDirName      = "swarm"
	CheckpointName    = "checkpoint.json"
	LocksDirName      = "locks"
	DefaultDBFileName = "index.db"
)

// Workspace holds the paths of a project's indexing state
type Workspace struct {
	Root       string
	StateDir   string
	Checkpoint string
	Locks      string
}

// WorkspaceFor returns the state paths for the project at root
func WorkspaceFor(root string) Workspace {
	state := filepath.Join(root, StateDirName)
	swarm := filepath.Join(state, SwarmDirName)
	return Workspace{
		Root:       root,
		StateDir:   state,
		Checkpoint: filepath.Join(swarm, CheckpointName),
		Locks:      filepath.Join(swarm, LocksDirName),
	}
}

// DBPath returns the configured database path, defaulting to the
// workspace state directory
func DBPath(root string, cfg *config.Config) string {
	if cfg != nil && cfg.DBPath != "" {
		return cfg.DBPath
	}
	return filepath.Join(WorkspaceFor(root).StateDir, DefaultDBFileName)
}

// ResolveRoot returns the absolute form of path, which must be a directory
func ResolveRoot(path string) (string, error) {
	if path == "" {
		path = "."
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}
	return root, nil
}

// newLockManager builds the per-file lock backend for ws
func newLockManager(ws Workspace, cfg *config.Config) (lock.Manager, error) {
	stale := cfg.LockStaleAfter
	if stale <= 0 {
		stale = lock.DefaultStaleAfter
	}
	if cfg.LockBackend == config.LockBackendMemory {
		return lock.NewMemoryManager(stale), nil
	}
	return lock.NewFileManager(ws.Locks, stale)
}

// getOrCreateProject retrieves an existing project or creates a new one
func (idx *Indexer) getOrCreateProject(ctx context.Context, rootPath string) (*storage.Project, error) {
	project, err := idx.storage.GetProject(ctx, rootPath)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	project = &storage.Project{
		RootPath:     rootPath,
		ModuleName:   moduleName(rootPath),
		IndexVersion: storage.CurrentSchemaVersion,
	}
	if err := idx.storage.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// updateProjectStats refreshes the project's file and symbol counts
func (idx *Indexer) updateProjectStats(ctx context.Context, project *storage.Project) error {
	status, err := idx.storage.GetStatus(ctx, project.ID)
	if err != nil {
		return err
	}

	project.TotalFiles = status.FilesCount
	project.TotalSymbols = status.SymbolsCount
	project.IndexVersion = storage.CurrentSchemaVersion
	project.LastIndexedAt = time.Now()

	return idx.storage.UpdateProject(ctx, project)
}

// moduleName names the project after its go.mod module or package.json name
func moduleName(root string) string {
	if info, err := parseGoMod(filepath.Join(root, "go.mod")); err == nil && info.Module != "" {
		return info.Module
	}
	if name, err := parsePackageJSON(filepath.Join(root, "package.json")); err == nil {
		return name
	}
	return filepath.Base(root)
}

// goModInfo contains parsed go.mod information
type goModInfo struct {
	Module    string
	GoVersion string
}

// parseGoMod extracts basic info from go.mod file
func parseGoMod(goModPath string) (*goModInfo, error) {
	content, err := os.ReadFile(goModPath) // #nosec G304 -- fixed name under the project root
	if err != nil {
		return nil, err
	}

	info := &goModInfo{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			info.Module = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module")), `"`)
		} else if strings.HasPrefix(line, "go ") {
			info.GoVersion = strings.TrimSpace(strings.TrimPrefix(line, "go"))
		}
	}

	return info, nil
}

// parsePackageJSON returns the "name" field of a package.json file
func parsePackageJSON(path string) (string, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- fixed name under the project root
	if err != nil {
		return "", err
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(content, &pkg); err != nil {
		return "", err
	}
	if pkg.Name == "" {
		return "", errors.New("package.json has no name")
	}
	return pkg.Name, nil
}
