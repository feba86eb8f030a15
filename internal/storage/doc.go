// Package storage provides SQLite-based persistence for indexed code knowledge.
//
// The storage layer manages:
//   - Project metadata
//   - File information and content hashes
//   - Extracted symbols and their embeddings
//   - Import specifiers as written in each file
//   - The resolved module and function dependency graph
//
// # Database Schema
//
// Tables:
//   - projects: Project metadata (root path, module name, index version)
//   - files: File paths, languages, SHA-256 hashes and module ids
//   - symbols: Extracted declarations with their graph function ids
//   - embeddings: Vector embeddings for symbols
//   - imports: Raw import paths per file
//   - modules, module_edges, function_edges: the last saved graph
//
// Schema versions are semantic versions; ApplyMigrations runs every
// migration newer than the highest recorded one.
//
// # Drivers
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(filepath.Join(root, ".codeknow", "index.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	file := &storage.File{ProjectID: project.ID, FilePath: "src/a.ts", ContentHash: hash}
//	if err := tx.UpsertFile(ctx, file); err != nil {
//	    return err
//	}
//	if err := tx.DeleteSymbolsByFile(ctx, file.ID); err != nil {
//	    return err
//	}
//	// ... UpsertSymbol, UpsertEmbedding, UpsertImport
//	return tx.Commit()
//
// After a run the engine replaces the graph wholesale:
//
//	err := db.SaveGraph(ctx, project.ID, acc.Resolve())
package storage
