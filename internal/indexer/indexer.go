package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/config"
	"github.com/dshills/codeknow/internal/discover"
	"github.com/dshills/codeknow/internal/embedder"
	"github.com/dshills/codeknow/internal/extractor"
	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/lock"
	"github.com/dshills/codeknow/internal/metrics"
	"github.com/dshills/codeknow/internal/parser"
	"github.com/dshills/codeknow/internal/pending"
	"github.com/dshills/codeknow/internal/storage"
	"github.com/dshills/codeknow/internal/swarm"
	"github.com/dshills/codeknow/pkg/types"
)

// StatusForced is reported as the checkpoint status of a forced run
const StatusForced checkpoint.LoadStatus = "forced"

// Version is stamped on every checkpoint entry. Bumping it makes every file
// pending on the next run.
const Version = "1.0.0"

var (
	// ErrIndexInProgress is returned when the same root is already being
	// indexed by this Indexer
	ErrIndexInProgress = errors.New("indexing already in progress")
	// ErrNotDirectory is returned when the root is not a directory
	ErrNotDirectory = errors.New("not a directory")
)

// GraphSink receives the resolved whole-program graph after a run
type GraphSink interface {
	SaveGraph(ctx context.Context, projectID int64, g *graph.Graph) error
}

// Options configures one IndexProject run. Only Root is required.
type Options struct {
	Root   string
	Config *config.Config // Defaults to config.Default()

	// Files replaces discovery when non-empty. Relative paths are resolved
	// against Root. Stale checkpoint entries are only pruned after discovery.
	Files []string
	Force bool

	Prioritizer Prioritizer           // Default RecentFirst
	Progress    types.ProgressFunc    // optional
	Metrics     *metrics.IndexMetrics // optional
	Sink        GraphSink             // optional, receives the graph after the store

	// Collaborator overrides, mostly for tests
	Locks      lock.Manager
	Embedder   embedder.Embedder
	Extractors swarm.ExtractorFactory
}

// GraphStats counts the resolved graph
type GraphStats struct {
	Modules       int
	ModuleEdges   int
	Functions     int
	FunctionEdges int
}

// Statistics contains statistics about one indexing run
type Statistics struct {
	Discovered       int // files considered
	Pending          int // files that needed (re)processing
	Files            int // files processed and stamped
	Skipped          int // files already up to date
	Failed           int
	Removed          int // checkpoint entries and stored files for vanished files
	Functions        int
	LockContention   int
	Evictions        int
	CheckpointSaves  int
	CheckpointStatus checkpoint.LoadStatus
	Reasons          map[pending.Reason]int
	Errors           []types.FileError
	Graph            GraphStats
	Duration         time.Duration
}

// Indexer is the indexing engine. One Indexer may serve many projects; runs
// on the same root are serialized.
type Indexer struct {
	storage storage.Storage
	parser  *parser.Parser
	runs    runSet
}

// New creates an indexer backed by store
func New(store storage.Storage) *Indexer {
	return &Indexer{
		storage: store,
		parser:  parser.New(),
	}
}

// Storage returns the knowledge store
func (idx *Indexer) Storage() storage.Storage {
	return idx.storage
}

// Close releases the shared parser pool. It does not close the store.
func (idx *Indexer) Close() {
	idx.parser.Close()
}

// IndexProject brings the project's index up to date: it processes every
// discovered file whose content, indexer version or configuration changed
// since it was last stamped in the checkpoint, then rebuilds and stores the
// dependency graph. The returned Statistics are valid even when err is set.
func (idx *Indexer) IndexProject(ctx context.Context, opts Options) (*Statistics, error) {
	start := time.Now()
	stats := &Statistics{}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	root, err := ResolveRoot(opts.Root)
	if err != nil {
		return stats, fmt.Errorf("invalid root: %w", err)
	}

	if !idx.runs.tryAcquire(root) {
		return stats, fmt.Errorf("%s: %w", root, ErrIndexInProgress)
	}
	defer idx.runs.release(root)

	err = idx.run(ctx, root, cfg, opts, stats)
	stats.Duration = time.Since(start)
	opts.Metrics.RunFinished(context.WithoutCancel(ctx), stats.Pending, err)

	if err != nil {
		slog.Warn("index.run.failed", "root", root, "error", err)
		return stats, err
	}
	slog.Info("index.run.done",
		"root", root,
		"files", stats.Files,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"removed", stats.Removed,
		"duration", stats.Duration)
	return stats, nil
}

func (idx *Indexer) run(ctx context.Context, root string, cfg *config.Config, opts Options, stats *Statistics) error {
	ws := WorkspaceFor(root)

	locks := opts.Locks
	if locks == nil {
		var err error
		if locks, err = newLockManager(ws, cfg); err != nil {
			return fmt.Errorf("failed to create lock manager: %w", err)
		}
	}

	// Workspace state
	fp := cfg.Fingerprint()
	var cp *checkpoint.Checkpoint
	if opts.Force {
		if err := locks.Clear(); err != nil {
			return fmt.Errorf("failed to clear locks: %w", err)
		}
		cp = checkpoint.Empty(fp, Version)
		stats.CheckpointStatus = StatusForced
	} else {
		cp, stats.CheckpointStatus = checkpoint.LoadOrInit(ws.Checkpoint, fp, Version)
	}
	slog.Debug("index.checkpoint.loaded", "root", root, "status", stats.CheckpointStatus, "entries", cp.Len())

	project, err := idx.getOrCreateProject(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to get or create project: %w", err)
	}

	// Discovery and prioritization
	discovered := len(opts.Files) == 0
	files := absolutePaths(root, opts.Files)
	if discovered {
		files, err = discover.Files(ctx, root, discover.Options{
			IncludeTests: cfg.IncludeTests,
			Exclude:      cfg.Exclude,
		})
		if err != nil {
			return fmt.Errorf("failed to discover files: %w", err)
		}
	}
	prioritizer := opts.Prioritizer
	if prioritizer == nil {
		prioritizer = RecentFirst{}
	}
	files = prioritizer.Prioritize(files)
	stats.Discovered = len(files)

	// Pending set
	pend, err := pending.Resolve(ctx, files, cp, pending.Options{
		Force:          opts.Force,
		IndexerVersion: Version,
		BatchSize:      cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	acc := graph.NewAccumulator()
	seeded, err := idx.seedGraph(ctx, project, root, files, pend, acc)
	if err != nil {
		return fmt.Errorf("failed to load stored graph: %w", err)
	}
	slog.Debug("index.graph.seeded", "root", root, "modules", seeded)
	stats.Pending = len(pend.Pending)
	stats.Skipped = pend.UpToDate
	stats.Reasons = pend.Counts()
	slog.Info("index.run.start",
		"root", root,
		"files", len(files),
		"pending", len(pend.Pending),
		"checkpoint", stats.CheckpointStatus)

	// Worker pool
	factory := opts.Extractors
	if factory == nil {
		emb := opts.Embedder
		if emb == nil && cfg.EmbedderConfig().Enabled() {
			if emb, err = embedder.New(cfg.EmbedderConfig()); err != nil {
				return fmt.Errorf("failed to create embedder: %w", err)
			}
		}
		factory = extractor.Factory(extractor.Options{
			Root:       root,
			ProjectID:  project.ID,
			Parser:     idx.parser,
			Embedder:   emb,
			Timeout:    cfg.Timeout.PerFile,
			Policy:     extractor.TimeoutPolicy(cfg.Timeout.Policy),
			MaxRetries: cfg.Timeout.MaxRetries,
		})
	}

	saveCtx := context.WithoutCancel(ctx)
	save := func() error {
		err := checkpoint.Save(ws.Checkpoint, cp)
		opts.Metrics.CheckpointSaved(saveCtx, err)
		return err
	}
	writer := swarm.NewWriter(save)

	var recorder swarm.Recorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	pool, err := swarm.New(swarm.Config{
		Workers:        cfg.Workers,
		RetryDelay:     cfg.RetryDelay,
		EvictEvery:     cfg.EvictEvery,
		IndexerVersion: Version,
		Root:           root,
	}, swarm.Deps{
		Locks:      locks,
		Checkpoint: cp,
		Writer:     writer,
		Graph:      acc,
		Storage:    idx.storage,
		Factory:    factory,
		Evicter:    idx.parser,
		Recorder:   recorder,
		Progress:   opts.Progress,
	})
	if err != nil {
		_ = writer.Close()
		return err
	}

	items := make([]swarm.Item, 0, len(pend.Pending))
	for _, path := range pend.Pending {
		items = append(items, swarm.Item{Path: path, Hash: pend.Hashes[path]})
	}
	res, runErr := pool.Run(ctx, items)

	stats.Files = res.Processed
	stats.Failed = res.Failed
	stats.Functions = res.Functions
	stats.LockContention = res.LockContention
	stats.Evictions = res.Evictions
	stats.Errors = res.Errors

	// Flush the write queue
	saveErr := writer.Close()
	wstats := writer.Stats()
	stats.CheckpointSaves = wstats.Saved
	if saveErr != nil {
		if wstats.Saved == 0 {
			return errors.Join(runErr, fmt.Errorf("checkpoint never saved: %w", saveErr))
		}
		slog.Warn("index.checkpoint.save_failed", "root", root, "failed", wstats.Failed, "saved", wstats.Saved, "error", saveErr)
	}
	if runErr != nil {
		return fmt.Errorf("indexing aborted: %w", runErr)
	}

	if discovered {
		removed, err := idx.prune(ctx, project, root, files, cp)
		if err != nil {
			return fmt.Errorf("failed to prune removed files: %w", err)
		}
		stats.Removed = removed
	}

	// A fresh or pruned checkpoint with nothing processed still has to land
	if stats.Removed > 0 || (wstats.Requested == 0 && stats.CheckpointStatus != checkpoint.StatusLoaded) {
		if err := save(); err != nil {
			return err
		}
		stats.CheckpointSaves++
	}

	// Graph
	g := acc.Resolve()
	stats.Graph = GraphStats{
		Modules:       len(g.ModulePaths),
		ModuleEdges:   g.Modules.Edges(),
		Functions:     len(g.Functions),
		FunctionEdges: g.Functions.Edges(),
	}
	if err := idx.storage.SaveGraph(ctx, project.ID, g); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	if opts.Sink != nil {
		if err := opts.Sink.SaveGraph(ctx, project.ID, g); err != nil {
			return fmt.Errorf("graph sink: %w", err)
		}
	}

	if err := idx.updateProjectStats(ctx, project); err != nil {
		return fmt.Errorf("failed to update project stats: %w", err)
	}
	return nil
}

// seedGraph loads the stored graph facts of every file that will not be
// re-extracted this run. An up-to-date file without stored facts adds
// nothing to the graph.
func (idx *Indexer) seedGraph(ctx context.Context, project *storage.Project, root string,
	files []string, pend *pending.Result, acc *graph.Accumulator) (int, error) {

	facts, err := idx.storage.ListGraphFacts(ctx, project.ID)
	if err != nil {
		return 0, err
	}
	byPath := make(map[string]*storage.ModuleFacts, len(facts))
	for _, f := range facts {
		byPath[filepath.Join(root, filepath.FromSlash(f.FilePath))] = f
	}

	isPending := make(map[string]bool, len(pend.Pending))
	for _, p := range pend.Pending {
		isPending[p] = true
	}

	seeded := 0
	for _, path := range files {
		if isPending[path] {
			continue
		}
		f, ok := byPath[path]
		if !ok {
			continue
		}
		acc.RecordModule(path, f.ModuleID, f.Specifiers)
		for from, to := range f.FunctionEdges {
			acc.RecordModuleFunctions(f.ModuleID, from)
			acc.RecordFunctionEdges(from, to...)
		}
		seeded++
	}
	return seeded, nil
}

// prune drops checkpoint entries and stored files for paths that were not
// discovered this run
func (idx *Indexer) prune(ctx context.Context, project *storage.Project, root string,
	files []string, cp *checkpoint.Checkpoint) (int, error) {

	keep := make(map[string]struct{}, len(files))
	for _, f := range files {
		keep[f] = struct{}{}
	}
	removed := cp.Prune(keep)

	stored, err := idx.storage.ListFiles(ctx, project.ID)
	if err != nil {
		return removed, err
	}
	deleted := 0
	for _, f := range stored {
		if _, ok := keep[filepath.Join(root, filepath.FromSlash(f.FilePath))]; ok {
			continue
		}
		if err := idx.storage.DeleteFile(ctx, f.ID); err != nil {
			return removed, err
		}
		deleted++
	}
	if removed > 0 || deleted > 0 {
		slog.Debug("index.prune", "root", root, "checkpoint", removed, "store", deleted)
	}
	return max(removed, deleted), nil
}

func absolutePaths(root string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(root, f)
		}
		out = append(out, filepath.Clean(f))
	}
	return out
}

// EnsureStateDir creates the workspace state directory for root
func EnsureStateDir(root string) error {
	return os.MkdirAll(WorkspaceFor(root).StateDir, 0o750)
}
