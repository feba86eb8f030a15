package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/indexer"
	"github.com/dshills/codeknow/internal/storage"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show index, checkpoint and graph statistics",
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

			out := cmd.OutOrStdout()
			idx, closeIdx, err := openIndexer(dir, cfg, false)
			if errors.Is(err, errNotIndexed) {
				fmt.Fprintf(out, "%s: not indexed\n", dir)
				return nil
			}
			if err != nil {
				return err
			}
			defer closeIdx()

			ctx := cmd.Context()
			project, err := idx.Storage().GetProject(ctx, dir)
			if errors.Is(err, storage.ErrNotFound) {
				fmt.Fprintf(out, "%s: not indexed\n", dir)
				return nil
			}
			if err != nil {
				return fmt.Errorf("get project: %w", err)
			}
			status, err := idx.Storage().GetStatus(ctx, project.ID)
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			cp, cpStatus := checkpoint.LoadOrInit(indexer.WorkspaceFor(dir).Checkpoint, cfg.Fingerprint(), indexer.Version)

			fmt.Fprintf(out, "Project:    %s (%s)\n", project.RootPath, project.ModuleName)
			fmt.Fprintf(out, "Indexed:    %s with indexer %s\n", humanize.Time(project.LastIndexedAt), project.IndexVersion)
			fmt.Fprintf(out, "Files:      %s (%s with parse errors)\n",
				humanize.Comma(int64(status.FilesCount)), humanize.Comma(int64(status.FilesWithErrors)))
			fmt.Fprintf(out, "Symbols:    %s (%s embedded)\n",
				humanize.Comma(int64(status.SymbolsCount)), humanize.Comma(int64(status.EmbeddingsCount)))
			fmt.Fprintf(out, "Graph:      %s imports, %s calls\n",
				humanize.Comma(int64(status.ModuleEdgesCount)), humanize.Comma(int64(status.FunctionEdgesCount)))
			fmt.Fprintf(out, "Store size: %s\n", humanize.IBytes(uint64(status.IndexSizeMB*1024*1024)))
			fmt.Fprintf(out, "Checkpoint: %s, %s files\n", cpStatus, humanize.Comma(int64(cp.Len())))
			if cpStatus != checkpoint.StatusLoaded {
				fmt.Fprintln(out, "            next run re-indexes every file")
			}
			return nil
		},
	}
}
