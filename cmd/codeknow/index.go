package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/codeknow/internal/indexer"
)

var errNotIndexed = errors.New("project not indexed; run codeknow index first")

// maxPrintedErrors bounds the per-file errors printed after a run
const maxPrintedErrors = 10

func newIndexCommand(root *rootOptions) *cobra.Command {
	var (
		force   bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a project incrementally",
		Long: `Index the project at path (default: current directory).

Only files that are new, changed, or were stamped by a different indexer
version are extracted. A configuration change or --force re-indexes
everything.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectRoot(args)
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig(dir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			m, stopMetrics, err := startMetrics(cmd.Context(), cfg.MetricsAddr)
			if err != nil {
				return err
			}
			defer stopMetrics()

			idx, closeIdx, err := openIndexer(dir, cfg, true)
			if err != nil {
				return err
			}
			defer closeIdx()

			fmt.Fprintf(cmd.OutOrStdout(), "Indexing %s...\n", dir)
			stats, err := idx.IndexProject(cmd.Context(), indexer.Options{
				Root:    dir,
				Config:  cfg,
				Force:   force,
				Metrics: m,
			})
			printStatistics(cmd.OutOrStdout(), stats)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard the checkpoint and re-index every file")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (default: number of CPUs)")
	return cmd
}

// printStatistics writes a human summary of a run
func printStatistics(w io.Writer, stats *indexer.Statistics) {
	if stats == nil {
		return
	}

	fmt.Fprintf(w, "\nDone in %s (checkpoint: %s)\n", stats.Duration.Round(time.Millisecond), stats.CheckpointStatus)
	fmt.Fprintf(w, "  Files:     %s discovered, %s indexed, %s up to date, %s failed, %s removed\n",
		humanize.Comma(int64(stats.Discovered)),
		humanize.Comma(int64(stats.Files)),
		humanize.Comma(int64(stats.Skipped)),
		humanize.Comma(int64(stats.Failed)),
		humanize.Comma(int64(stats.Removed)))

	if len(stats.Reasons) > 0 {
		reasons := make([]string, 0, len(stats.Reasons))
		for r, n := range stats.Reasons {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(w, "  Reasons:   %v\n", reasons)
	}

	fmt.Fprintf(w, "  Graph:     %s modules, %s imports, %s functions, %s calls\n",
		humanize.Comma(int64(stats.Graph.Modules)),
		humanize.Comma(int64(stats.Graph.ModuleEdges)),
		humanize.Comma(int64(stats.Graph.Functions)),
		humanize.Comma(int64(stats.Graph.FunctionEdges)))

	if stats.LockContention > 0 {
		fmt.Fprintf(w, "  Locks:     %s contended acquisitions\n", humanize.Comma(int64(stats.LockContention)))
	}

	for i, fe := range stats.Errors {
		if i == maxPrintedErrors {
			fmt.Fprintf(w, "  ... and %d more errors\n", len(stats.Errors)-maxPrintedErrors)
			break
		}
		fmt.Fprintf(w, "  error: %s: %s\n", fe.Path, fe.Error)
	}
}
