package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codeknow/internal/indexer"
	"github.com/dshills/codeknow/internal/watcher"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index a project and re-index it whenever source files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectRoot(args)
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig(dir)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			m, stopMetrics, err := startMetrics(ctx, cfg.MetricsAddr)
			if err != nil {
				return err
			}
			defer stopMetrics()

			idx, closeIdx, err := openIndexer(dir, cfg, true)
			if err != nil {
				return err
			}
			defer closeIdx()

			out := cmd.OutOrStdout()
			run := func(ctx context.Context) error {
				stats, err := idx.IndexProject(ctx, indexer.Options{Root: dir, Config: cfg, Metrics: m})
				printStatistics(out, stats)
				return err
			}

			fmt.Fprintf(out, "Indexing %s...\n", dir)
			if err := run(ctx); err != nil {
				return err
			}

			w, err := watcher.New(watcher.Options{
				Root:         dir,
				IncludeTests: cfg.IncludeTests,
				Exclude:      cfg.Exclude,
			}, func(ctx context.Context, changed []string) error {
				fmt.Fprintf(out, "\n%d paths changed, re-indexing...\n", len(changed))
				return run(ctx)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", dir)
			return w.Run(ctx)
		},
	}
	return cmd
}
