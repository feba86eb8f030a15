// Package pending decides which discovered files must be (re)processed in a
// run by comparing their current content fingerprints with the checkpoint.
package pending

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/fingerprint"
)

// DefaultBatchSize bounds how many files are hashed at once
const DefaultBatchSize = 50

// Reason explains why a file is pending
type Reason string

const (
	ReasonNew            Reason = "new"
	ReasonIndexerUpdated Reason = "indexer_updated"
	ReasonContentChanged Reason = "content_changed"
	ReasonForced         Reason = "forced"
)

// Options control resolution
type Options struct {
	Force          bool
	IndexerVersion string
	BatchSize      int
}

// Result is the pending set for one run
type Result struct {
	// Pending lists files to process, in discovery order
	Pending []string
	// Hashes holds the current digest of every discovered file
	Hashes map[string]string
	// Reasons holds why each pending file was selected
	Reasons map[string]Reason
	// UpToDate counts discovered files that were excluded
	UpToDate int
}

// Resolve fingerprints files and selects the ones whose checkpoint entry is
// missing, was written by another indexer version, or has a different hash.
// Under Force every file is pending; hashes are computed regardless since
// workers need them to stamp the checkpoint.
func Resolve(ctx context.Context, files []string, cp *checkpoint.Checkpoint, opts Options) (*Result, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	hashes := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSize)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hashes[i] = fingerprint.File(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fingerprint files: %w", err)
	}

	result := &Result{
		Pending: make([]string, 0, len(files)),
		Hashes:  make(map[string]string, len(files)),
		Reasons: make(map[string]Reason),
	}
	for i, path := range files {
		if _, seen := result.Hashes[path]; seen {
			continue
		}
		result.Hashes[path] = hashes[i]

		reason, pending := classify(cp, path, hashes[i], opts)
		if !pending {
			result.UpToDate++
			continue
		}
		result.Pending = append(result.Pending, path)
		result.Reasons[path] = reason
	}

	return result, nil
}

func classify(cp *checkpoint.Checkpoint, path, hash string, opts Options) (Reason, bool) {
	if opts.Force {
		return ReasonForced, true
	}
	if cp == nil {
		return ReasonNew, true
	}
	entry, ok := cp.Entry(path)
	switch {
	case !ok:
		return ReasonNew, true
	case entry.IndexerVersion != opts.IndexerVersion:
		return ReasonIndexerUpdated, true
	case entry.ContentHash != hash:
		return ReasonContentChanged, true
	}
	return "", false
}

// Counts tallies the pending files by reason
func (r *Result) Counts() map[Reason]int {
	counts := make(map[Reason]int, 4)
	for _, reason := range r.Reasons {
		counts[reason]++
	}
	return counts
}
