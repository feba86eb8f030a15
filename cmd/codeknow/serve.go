package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/codeknow/internal/mcp"
	"github.com/dshills/codeknow/internal/storage"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

Tools:
  - index_codebase: incrementally index a project
  - get_status: index, checkpoint and graph statistics
  - get_dependencies: a file's imports and importers

Configuration is loaded from the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(".")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			m, stopMetrics, err := startMetrics(ctx, cfg.MetricsAddr)
			if err != nil {
				return err
			}
			defer stopMetrics()

			server, err := mcp.NewServer(cfg, m)
			if err != nil {
				return err
			}

			slog.Info("mcp.start", "version", version, "build_mode", storage.BuildMode, "driver", storage.DriverName)
			defer slog.Info("mcp.stop")
			return server.Serve(ctx)
		},
	}
}
