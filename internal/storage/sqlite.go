package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; workers queue for the connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return upsertFile(ctx, t.tx, file)
}

func (t *sqliteTx) DeleteSymbolsByFile(ctx context.Context, fileID int64) error {
	return deleteSymbolsByFile(ctx, t.tx, fileID)
}

func (t *sqliteTx) UpsertSymbol(ctx context.Context, symbol *Symbol) error {
	return upsertSymbol(ctx, t.tx, symbol)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbedding(ctx, t.tx, embedding)
}

func (t *sqliteTx) DeleteImportsByFile(ctx context.Context, fileID int64) error {
	return deleteImportsByFile(ctx, t.tx, fileID)
}

func (t *sqliteTx) UpsertImport(ctx context.Context, imp *Import) error {
	return upsertImport(ctx, t.tx, imp)
}

// Project operations

const projectColumns = `id, root_path, module_name, total_files, total_symbols,
	index_version, last_indexed_at, created_at, updated_at`

func scanProject(row *sql.Row) (*Project, error) {
	var project Project
	var lastIndexedAt sql.NullTime
	err := row.Scan(
		&project.ID, &project.RootPath, &project.ModuleName,
		&project.TotalFiles, &project.TotalSymbols, &project.IndexVersion,
		&lastIndexedAt, &project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		project.LastIndexedAt = lastIndexedAt.Time
	}
	return &project, nil
}

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO projects (root_path, module_name, index_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		project.RootPath, project.ModuleName, project.IndexVersion, now, now)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) GetProject(ctx context.Context, rootPath string) (*Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE root_path = ?", rootPath))
}

func (s *SQLiteStorage) getProjectByID(ctx context.Context, projectID int64) (*Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", projectID))
}

func (s *SQLiteStorage) UpdateProject(ctx context.Context, project *Project) error {
	query := `
		UPDATE projects
		SET module_name = ?, total_files = ?, total_symbols = ?, index_version = ?,
		    last_indexed_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	var lastIndexedAt any
	if !project.LastIndexedAt.IsZero() {
		lastIndexedAt = project.LastIndexedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		project.ModuleName, project.TotalFiles, project.TotalSymbols, project.IndexVersion,
		lastIndexedAt, now, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	project.UpdatedAt = now
	return nil
}

// File operations

const fileColumns = `id, project_id, file_path, language, package_name, content_hash, module_id,
	size_bytes, parse_error, last_indexed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*File, error) {
	var file File
	var parseError sql.NullString
	err := row.Scan(
		&file.ID, &file.ProjectID, &file.FilePath, &file.Language, &file.PackageName,
		&file.ContentHash, &file.ModuleID, &file.SizeBytes, &parseError,
		&file.LastIndexedAt, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parseError.Valid {
		file.ParseError = &parseError.String
	}
	return &file, nil
}

func upsertFile(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (project_id, file_path, language, package_name, content_hash, module_id,
		                   size_bytes, parse_error, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET
			language = excluded.language,
			package_name = excluded.package_name,
			content_hash = excluded.content_hash,
			module_id = excluded.module_id,
			size_bytes = excluded.size_bytes,
			parse_error = excluded.parse_error,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		file.ProjectID, file.FilePath, file.Language, file.PackageName, file.ContentHash, file.ModuleID,
		file.SizeBytes, file.ParseError, now, now, now).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}

	file.LastIndexedAt = now
	file.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return upsertFile(ctx, s.db, file)
}

func (s *SQLiteStorage) GetFile(ctx context.Context, projectID int64, filePath string) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE project_id = ? AND file_path = ?", projectID, filePath)
	file, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return file, err
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStorage) ListFiles(ctx context.Context, projectID int64) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE project_id = ? ORDER BY file_path", projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Symbol operations

func upsertSymbol(ctx context.Context, q querier, symbol *Symbol) error {
	query := `
		INSERT INTO symbols (file_id, function_id, name, kind, package_name, signature, doc_comment,
		                     scope, receiver, start_line, start_col, end_line, end_col, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, name, start_line, start_col) DO UPDATE SET
			function_id = excluded.function_id,
			kind = excluded.kind,
			package_name = excluded.package_name,
			signature = excluded.signature,
			doc_comment = excluded.doc_comment,
			scope = excluded.scope,
			receiver = excluded.receiver,
			end_line = excluded.end_line,
			end_col = excluded.end_col
		RETURNING id
	`
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		symbol.FileID, symbol.FunctionID, symbol.Name, symbol.Kind, symbol.PackageName,
		symbol.Signature, symbol.DocComment, symbol.Scope, symbol.Receiver,
		symbol.StartLine, symbol.StartCol, symbol.EndLine, symbol.EndCol, now).Scan(&symbol.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol: %w", err)
	}
	symbol.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertSymbol(ctx context.Context, symbol *Symbol) error {
	return upsertSymbol(ctx, s.db, symbol)
}

func deleteSymbolsByFile(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID)
	return err
}

func (s *SQLiteStorage) DeleteSymbolsByFile(ctx context.Context, fileID int64) error {
	return deleteSymbolsByFile(ctx, s.db, fileID)
}

func (s *SQLiteStorage) ListSymbolsByFile(ctx context.Context, fileID int64) ([]*Symbol, error) {
	query := `
		SELECT id, file_id, function_id, name, kind, package_name,
		       COALESCE(signature, ''), COALESCE(doc_comment, ''), COALESCE(scope, ''), COALESCE(receiver, ''),
		       start_line, start_col, end_line, end_col, created_at
		FROM symbols
		WHERE file_id = ?
		ORDER BY start_line, start_col
	`
	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	symbols := make([]*Symbol, 0)
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(
			&sym.ID, &sym.FileID, &sym.FunctionID, &sym.Name, &sym.Kind, &sym.PackageName,
			&sym.Signature, &sym.DocComment, &sym.Scope, &sym.Receiver,
			&sym.StartLine, &sym.StartCol, &sym.EndLine, &sym.EndCol, &sym.CreatedAt,
		); err != nil {
			return nil, err
		}
		symbols = append(symbols, &sym)
	}
	return symbols, rows.Err()
}

// Embedding operations

func upsertEmbedding(ctx context.Context, q querier, embedding *Embedding) error {
	query := `
		INSERT INTO embeddings (symbol_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
		RETURNING id
	`
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		embedding.SymbolID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now).Scan(&embedding.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbedding(ctx, s.db, embedding)
}

// Import operations

func upsertImport(ctx context.Context, q querier, imp *Import) error {
	query := `
		INSERT INTO imports (file_id, import_path, alias, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	now := time.Now().UTC()
	if err := q.QueryRowContext(ctx, query, imp.FileID, imp.ImportPath, imp.Alias, now).Scan(&imp.ID); err != nil {
		return fmt.Errorf("failed to upsert import: %w", err)
	}
	imp.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertImport(ctx context.Context, imp *Import) error {
	return upsertImport(ctx, s.db, imp)
}

func deleteImportsByFile(ctx context.Context, q querier, fileID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM imports WHERE file_id = ?`, fileID)
	return err
}

func (s *SQLiteStorage) DeleteImportsByFile(ctx context.Context, fileID int64) error {
	return deleteImportsByFile(ctx, s.db, fileID)
}

func (s *SQLiteStorage) ListImportsByFile(ctx context.Context, fileID int64) ([]*Import, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, import_path, COALESCE(alias, ''), created_at
		FROM imports
		WHERE file_id = ?
		ORDER BY id
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	imports := make([]*Import, 0)
	for rows.Next() {
		var imp Import
		if err := rows.Scan(&imp.ID, &imp.FileID, &imp.ImportPath, &imp.Alias, &imp.CreatedAt); err != nil {
			return nil, err
		}
		imports = append(imports, &imp)
	}
	return imports, rows.Err()
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	project, err := s.getProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	status := &ProjectStatus{
		Project:       project,
		LastIndexedAt: project.LastIndexedAt,
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&status.FilesCount, `SELECT COUNT(*) FROM files WHERE project_id = ?`},
		{&status.FilesWithErrors, `SELECT COUNT(*) FROM files WHERE project_id = ? AND parse_error IS NOT NULL`},
		{&status.SymbolsCount, `
			SELECT COUNT(*) FROM symbols s
			JOIN files f ON s.file_id = f.id
			WHERE f.project_id = ?`},
		{&status.EmbeddingsCount, `
			SELECT COUNT(*) FROM embeddings e
			JOIN symbols s ON e.symbol_id = s.id
			JOIN files f ON s.file_id = f.id
			WHERE f.project_id = ?`},
		{&status.ModuleEdgesCount, `SELECT COUNT(*) FROM module_edges WHERE project_id = ?`},
		{&status.FunctionEdgesCount, `SELECT COUNT(*) FROM function_edges WHERE project_id = ?`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, projectID).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var modules int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM modules WHERE project_id = ?`, projectID).Scan(&modules)

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		GraphBuilt:          modules > 0 || status.FunctionEdgesCount > 0,
	}

	return status, nil
}
