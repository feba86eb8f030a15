package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/fingerprint"
	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/lock"
	"github.com/dshills/codeknow/internal/storage"
	"github.com/dshills/codeknow/pkg/types"
)

// Defaults for Config
const (
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultEvictEvery = 50
)

// errUnreadable is recorded when a file could not be fingerprinted
var errUnreadable = errors.New("file could not be read for fingerprinting")

// Config tunes the pool
type Config struct {
	Workers        int           // Number of concurrent workers (default: runtime.NumCPU())
	RetryDelay     time.Duration // Back-off after lock contention (default: 100ms)
	EvictEvery     int           // Files per worker between cache evictions (default: 50)
	FreeOSMemory   bool          // Return memory to the OS after each eviction
	IndexerVersion string        // Stamped on every checkpoint entry
	Root           string        // Error paths are reported relative to Root
}

// Recorder receives pool events, typically to feed metrics
type Recorder interface {
	FileProcessed(ctx context.Context, d time.Duration, failed bool)
	LockContended(ctx context.Context)
	CachesEvicted(ctx context.Context)
}

// Deps are the collaborators shared by every worker
type Deps struct {
	Locks      lock.Manager
	Checkpoint *checkpoint.Checkpoint
	Writer     *Writer
	Graph      *graph.Accumulator
	Storage    storage.Storage
	Factory    ExtractorFactory
	Evicter    Evicter            // optional
	Recorder   Recorder           // optional
	Progress   types.ProgressFunc // optional
}

// Result summarizes a pool run
type Result struct {
	Processed      int // files stamped in the checkpoint
	Failed         int // files with an extraction error
	Functions      int
	LockContention int
	Evictions      int
	Errors         []types.FileError
}

// Pool dispatches queued files to workers
type Pool struct {
	cfg  Config
	deps Deps

	queue *Queue
	total int
	stop  atomic.Bool

	mu     sync.Mutex
	result Result

	progressMu sync.Mutex
	completed  int
}

// New validates deps and fills config defaults
func New(cfg Config, deps Deps) (*Pool, error) {
	if deps.Locks == nil || deps.Checkpoint == nil || deps.Writer == nil || deps.Graph == nil || deps.Factory == nil {
		return nil, errors.New("swarm: locks, checkpoint, writer, graph and factory are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.EvictEvery <= 0 {
		cfg.EvictEvery = DefaultEvictEvery
	}
	return &Pool{cfg: cfg, deps: deps}, nil
}

// Run processes items until the queue drains. It returns the first fatal
// error: a failed extractor lifecycle call, an ErrAbortRun from Process, or
// the context's error. The Result is valid even when err is non-nil.
func (p *Pool) Run(ctx context.Context, items []Item) (*Result, error) {
	p.queue = NewQueue(items)
	p.total = len(items)
	p.completed = 0
	p.stop.Store(false)
	p.result = Result{}

	if len(items) == 0 {
		return &Result{}, nil
	}

	workers := min(p.cfg.Workers, len(items))
	slog.Debug("swarm.run.start", "files", len(items), "workers", workers)

	var g errgroup.Group
	for id := range workers {
		g.Go(func() error {
			err := p.work(ctx, id)
			if err != nil {
				p.stop.Store(true)
			}
			return err
		})
	}
	err := g.Wait()

	p.mu.Lock()
	res := p.result
	p.mu.Unlock()

	slog.Debug("swarm.run.done",
		"processed", res.Processed,
		"failed", res.Failed,
		"contention", res.LockContention)

	return &res, err
}

// work is the per-worker loop
func (p *Pool) work(ctx context.Context, id int) error {
	ext, err := p.deps.Factory(id)
	if err != nil {
		return fmt.Errorf("worker %d: failed to create extractor: %w", id, err)
	}
	ext.AttachGraph(p.deps.Graph)
	if err := ext.Initialize(ctx, p.deps.Storage); err != nil {
		return fmt.Errorf("worker %d: failed to initialize extractor: %w", id, err)
	}
	defer func() {
		if serr := ext.Shutdown(); serr != nil {
			slog.Warn("swarm.worker.shutdown_failed", "worker", id, "error", serr)
		}
	}()

	handled := 0
	sinceEvict := 0
	for {
		if p.stop.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		item, ok := p.queue.Claim()
		if !ok {
			slog.Debug("swarm.worker.done", "worker", id, "files", handled)
			return nil
		}

		acquired, err := p.deps.Locks.Acquire(fingerprint.Key(item.Path))
		if err != nil {
			p.fail(ctx, item.Path, fmt.Errorf("lock: %w", err), 0)
			p.advance(item.Path)
			continue
		}
		if !acquired {
			p.contended(ctx)
			p.queue.Requeue(item)
			if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
				return err
			}
			continue
		}

		if err := p.handle(ctx, ext, item); err != nil {
			return err
		}
		p.advance(item.Path)

		handled++
		sinceEvict++
		if sinceEvict >= p.cfg.EvictEvery {
			p.evict(ctx, id)
			sinceEvict = 0
		}
	}
}

// handle runs Processing and Checkpoint-Update for a locked item. The lock
// is released on every path out.
func (p *Pool) handle(ctx context.Context, ext Extractor, item Item) error {
	key := fingerprint.Key(item.Path)
	defer func() {
		if err := p.deps.Locks.Release(key); err != nil {
			slog.Warn("swarm.lock.release_failed", "path", item.Path, "error", err)
		}
	}()

	start := time.Now()
	res, err := ext.Process(ctx, item.Path)
	elapsed := time.Since(start)

	if err != nil {
		p.fail(ctx, item.Path, err, elapsed)
		if errors.Is(err, types.ErrAbortRun) {
			return fmt.Errorf("%s: %w", item.Path, err)
		}
		return nil
	}
	if res != nil && len(res.Errors) > 0 {
		p.failAll(ctx, res.Errors, elapsed)
		return nil
	}
	if item.Hash == fingerprint.Missing {
		p.fail(ctx, item.Path, errUnreadable, elapsed)
		return nil
	}

	p.deps.Checkpoint.Record(item.Path, item.Hash, p.cfg.IndexerVersion, time.Now())
	if err := p.deps.Writer.Enqueue(); err != nil {
		slog.Warn("swarm.checkpoint.enqueue_failed", "path", item.Path, "error", err)
	}

	p.mu.Lock()
	p.result.Processed++
	if res != nil {
		p.result.Functions += res.FunctionsIndexed
	}
	p.mu.Unlock()

	if p.deps.Recorder != nil {
		p.deps.Recorder.FileProcessed(ctx, elapsed, false)
	}
	return nil
}

func (p *Pool) fail(ctx context.Context, path string, err error, elapsed time.Duration) {
	p.failAll(ctx, []types.FileError{{Path: path, Error: err.Error()}}, elapsed)
}

func (p *Pool) failAll(ctx context.Context, errs []types.FileError, elapsed time.Duration) {
	p.mu.Lock()
	p.result.Failed++
	for _, fe := range errs {
		fe = fe.Sanitize(p.cfg.Root)
		p.result.Errors = append(p.result.Errors, fe)
		slog.Debug("swarm.file.failed", "path", fe.Path, "error", fe.Error)
	}
	p.mu.Unlock()

	if p.deps.Recorder != nil {
		p.deps.Recorder.FileProcessed(ctx, elapsed, true)
	}
}

func (p *Pool) contended(ctx context.Context) {
	p.mu.Lock()
	p.result.LockContention++
	p.mu.Unlock()
	if p.deps.Recorder != nil {
		p.deps.Recorder.LockContended(ctx)
	}
}

func (p *Pool) advance(path string) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.completed++
	if p.deps.Progress == nil {
		return
	}
	p.deps.Progress(types.Progress{
		Total:       p.total,
		Completed:   p.completed,
		CurrentFile: path,
	})
}

func (p *Pool) evict(ctx context.Context, worker int) {
	if p.deps.Evicter != nil {
		p.deps.Evicter.EvictAll()
	}
	runtime.GC()
	if p.cfg.FreeOSMemory {
		debug.FreeOSMemory()
	}

	p.mu.Lock()
	p.result.Evictions++
	p.mu.Unlock()
	if p.deps.Recorder != nil {
		p.deps.Recorder.CachesEvicted(ctx)
	}
	slog.Debug("swarm.worker.evicted", "worker", worker)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
