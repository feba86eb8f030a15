// Package indexer is the incremental indexing engine. It decides which files
// of a project must be (re)processed, runs them through the worker pool and
// merges the per-file results into one dependency graph.
//
// # Basic Usage
//
//	idx := indexer.New(store)
//	defer idx.Close()
//
//	stats, err := idx.IndexProject(ctx, indexer.Options{
//	    Root:   "/path/to/project",
//	    Config: cfg,
//	})
//
//	fmt.Printf("Indexed %d files, %d up to date\n", stats.Files, stats.Skipped)
//
// # Run Pipeline
//
//  1. Workspace: load the checkpoint from .codeknow/swarm/checkpoint.json, or
//     start empty on a forced run (stale locks are cleared too)
//  2. Discovery: walk the root, or take the caller's file list
//  3. Prioritization: most recently modified files first
//  4. Pending set: files that are new, changed, or stamped by another
//     indexer version
//  5. Graph seed: stored graph facts of every file that is not pending
//  6. Worker pool: lock, extract, stamp, enqueue a checkpoint save, release
//  7. Flush: wait for the checkpoint writer
//  8. Prune: forget files that vanished since the last run
//  9. Graph: resolve the merged graph and replace the stored one
//
// # Incremental Indexing
//
// A file is skipped when its checkpoint entry carries the current content
// hash and indexer version. A checkpoint written under a different
// configuration fingerprint (embedding provider, model, mode, timeout policy)
// is discarded as a whole, so every file becomes pending.
//
//	stats1, _ := idx.IndexProject(ctx, opts) // Files: 247, Skipped: 0
//	stats2, _ := idx.IndexProject(ctx, opts) // Files: 0, Skipped: 247
//
// # Concurrency
//
// Runs on the same root are rejected with ErrIndexInProgress. Within a run
// workers coordinate through per-file locks, so several processes may index
// the same project without processing a file twice.
//
// # Error Handling
//
// Per-file failures are collected in Statistics.Errors and leave the file
// unstamped, so the next run retries it. Only a timeout policy of "fail",
// context cancellation, or a checkpoint that could never be saved abort
// the run.
package indexer
