package swarm

import (
	"context"

	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/storage"
	"github.com/dshills/codeknow/pkg/types"
)

// Extractor turns one file into knowledge. The pool creates one instance per
// worker, so implementations need not be safe for concurrent use.
type Extractor interface {
	// Initialize is called once before the first Process
	Initialize(ctx context.Context, store storage.Storage) error
	// AttachGraph wires the extractor's dependency facts into acc
	AttachGraph(acc *graph.Accumulator)
	// Process extracts one file. Errors wrapping types.ErrAbortRun stop the
	// run; any other failure is recorded against the file.
	Process(ctx context.Context, path string) (*types.ExtractResult, error)
	// Shutdown is called once after the worker's last Process
	Shutdown() error
}

// ExtractorFactory builds the extractor for one worker
type ExtractorFactory func(worker int) (Extractor, error)
