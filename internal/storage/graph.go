package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dshills/codeknow/internal/graph"
)

// SaveGraph replaces the project's stored graph and the module facts it was
// built from in one transaction. Module paths are stored relative to the
// project root.
func (s *SQLiteStorage) SaveGraph(ctx context.Context, projectID int64, g *graph.Graph) error {
	project, err := s.getProjectByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"modules", "module_edges", "function_edges", "module_specifiers", "module_functions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE project_id = ?", projectID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	modStmt, err := tx.PrepareContext(ctx, `INSERT INTO modules (project_id, module_id, file_path) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = modStmt.Close() }()
	for _, id := range sortedIDs(g.ModulePaths) {
		if _, err := modStmt.ExecContext(ctx, projectID, id, relativePath(project.RootPath, g.ModulePaths[id])); err != nil {
			return fmt.Errorf("failed to store module: %w", err)
		}
	}

	if err := insertEdges(ctx, tx, `INSERT INTO module_edges (project_id, from_module, to_module) VALUES (?, ?, ?)`, projectID, g.Modules); err != nil {
		return fmt.Errorf("failed to store module edges: %w", err)
	}
	if err := insertEdges(ctx, tx, `INSERT INTO function_edges (project_id, from_function, to_function) VALUES (?, ?, ?)`, projectID, g.Functions); err != nil {
		return fmt.Errorf("failed to store function edges: %w", err)
	}

	if err := insertFacts(ctx, tx, projectID, g.Facts); err != nil {
		return fmt.Errorf("failed to store module facts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	return nil
}

func insertEdges(ctx context.Context, tx *sql.Tx, query string, projectID int64, adj graph.Adjacency) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, from := range sortedKeys(adj) {
		for _, to := range adj[from] {
			if _, err := stmt.ExecContext(ctx, projectID, from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertFacts(ctx context.Context, tx *sql.Tx, projectID int64, facts []graph.ModuleFacts) error {
	specStmt, err := tx.PrepareContext(ctx, `INSERT INTO module_specifiers (project_id, module_id, position, specifier) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = specStmt.Close() }()

	fnStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO module_functions (project_id, module_id, function_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = fnStmt.Close() }()

	for _, f := range facts {
		for i, spec := range f.Specifiers {
			if _, err := specStmt.ExecContext(ctx, projectID, f.ModuleID, i, spec); err != nil {
				return err
			}
		}
		for _, fn := range sortedKeys(f.FunctionEdges) {
			if _, err := fnStmt.ExecContext(ctx, projectID, f.ModuleID, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListDependencies returns the files a file imports and the files importing it
func (s *SQLiteStorage) ListDependencies(ctx context.Context, projectID int64, filePath string) (*Dependencies, error) {
	deps := &Dependencies{FilePath: filePath}

	err := s.db.QueryRowContext(ctx,
		`SELECT module_id FROM modules WHERE project_id = ? AND file_path = ?`,
		projectID, filePath).Scan(&deps.ModuleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	deps.Imports, err = s.queryPaths(ctx, `
		SELECT m.file_path FROM module_edges e
		JOIN modules m ON m.project_id = e.project_id AND m.module_id = e.to_module
		WHERE e.project_id = ? AND e.from_module = ?
		ORDER BY m.file_path
	`, projectID, deps.ModuleID)
	if err != nil {
		return nil, err
	}

	deps.ImportedBy, err = s.queryPaths(ctx, `
		SELECT m.file_path FROM module_edges e
		JOIN modules m ON m.project_id = e.project_id AND m.module_id = e.from_module
		WHERE e.project_id = ? AND e.to_module = ?
		ORDER BY m.file_path
	`, projectID, deps.ModuleID)
	if err != nil {
		return nil, err
	}

	return deps, nil
}

func (s *SQLiteStorage) queryPaths(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func relativePath(root, path string) string {
	if root == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func sortedIDs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(adj graph.Adjacency) []string {
	keys := make([]string, 0, len(adj))
	for k := range adj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ListGraphFacts returns the module facts saved with the project's last
// graph, ordered by path
func (s *SQLiteStorage) ListGraphFacts(ctx context.Context, projectID int64) ([]*ModuleFacts, error) {
	facts := make([]*ModuleFacts, 0)
	byModule := make(map[string]*ModuleFacts)
	err := s.eachRow(ctx, func(r *sql.Rows) error {
		mf := &ModuleFacts{FunctionEdges: make(map[string][]string)}
		if err := r.Scan(&mf.ModuleID, &mf.FilePath); err != nil {
			return err
		}
		facts = append(facts, mf)
		byModule[mf.ModuleID] = mf
		return nil
	}, `
		SELECT module_id, file_path FROM modules
		WHERE project_id = ?
		ORDER BY file_path
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}

	err = s.eachRow(ctx, func(r *sql.Rows) error {
		var moduleID, spec string
		if err := r.Scan(&moduleID, &spec); err != nil {
			return err
		}
		if mf, ok := byModule[moduleID]; ok {
			mf.Specifiers = append(mf.Specifiers, spec)
		}
		return nil
	}, `
		SELECT module_id, specifier FROM module_specifiers
		WHERE project_id = ?
		ORDER BY module_id, position
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list specifiers: %w", err)
	}

	// Register every owned function first so functions without outgoing
	// calls survive the round trip
	owner := make(map[string]*ModuleFacts)
	err = s.eachRow(ctx, func(r *sql.Rows) error {
		var moduleID, fnID string
		if err := r.Scan(&moduleID, &fnID); err != nil {
			return err
		}
		if mf, ok := byModule[moduleID]; ok {
			mf.FunctionEdges[fnID] = []string{}
			owner[fnID] = mf
		}
		return nil
	}, `
		SELECT module_id, function_id FROM module_functions
		WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}

	err = s.eachRow(ctx, func(r *sql.Rows) error {
		var from, to string
		if err := r.Scan(&from, &to); err != nil {
			return err
		}
		if mf, ok := owner[from]; ok {
			mf.FunctionEdges[from] = append(mf.FunctionEdges[from], to)
		}
		return nil
	}, `
		SELECT from_function, to_function FROM function_edges
		WHERE project_id = ?
		ORDER BY from_function, to_function
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list function edges: %w", err)
	}

	return facts, nil
}

func (s *SQLiteStorage) eachRow(ctx context.Context, fn func(*sql.Rows) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
