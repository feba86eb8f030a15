// Package main provides the entry point for the codeknow CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codeknow/internal/config"
	"github.com/dshills/codeknow/internal/indexer"
	"github.com/dshills/codeknow/internal/metrics"
	"github.com/dshills/codeknow/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configPath  string
	verbose     bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "codeknow",
		Short: "Incremental parallel code indexer with a dependency graph",
		Long: `codeknow indexes Go and TypeScript/JavaScript projects into a local
knowledge store and keeps a module and function dependency graph.

Runs are incremental: only files whose content, indexer version or
configuration changed since the last checkpoint are re-extracted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(opts.verbose)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default .codeknow.yaml in the project or home directory)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging to stderr")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")

	rootCmd.AddCommand(
		newIndexCommand(opts),
		newStatusCommand(opts),
		newGraphCommand(opts),
		newWatchCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// setupLogging installs a text handler on stderr; stdout carries command
// output and the MCP transport
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig loads configuration for the project in dir and applies the
// persistent flag overrides
func (o *rootOptions) loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath, dir)
	if err != nil {
		return nil, err
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
	return cfg, nil
}

// startMetrics serves the Prometheus endpoint when an address is configured.
// The returned stop function is always non-nil.
func startMetrics(ctx context.Context, addr string) (*metrics.IndexMetrics, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}

	exp, err := metrics.NewPrometheusExporter()
	if err != nil {
		return nil, nil, err
	}
	m, err := metrics.NewIndexMetrics(exp.Meter())
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := exp.Serve(ctx, addr); err != nil {
			slog.Error("metrics.serve_failed", "addr", addr, "error", err)
		}
	}()

	stop := func() {
		cancel()
		<-done
		if err := exp.Shutdown(context.Background()); err != nil {
			slog.Warn("metrics.shutdown_failed", "error", err)
		}
	}
	return m, stop, nil
}

// openIndexer opens the knowledge store for root, creating it when create
// is set. Without create a missing store yields errNotIndexed.
func openIndexer(root string, cfg *config.Config, create bool) (*indexer.Indexer, func(), error) {
	dbPath := indexer.DBPath(root, cfg)

	if !create {
		if _, err := os.Stat(dbPath); err != nil {
			if os.IsNotExist(err) {
				return nil, nil, errNotIndexed
			}
			return nil, nil, err
		}
	} else if cfg.DBPath == "" {
		if err := indexer.EnsureStateDir(root); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	idx := indexer.New(store)

	closeFn := func() {
		idx.Close()
		if err := store.Close(); err != nil {
			slog.Warn("storage.close_failed", "path", dbPath, "error", err)
		}
	}
	return idx, closeFn, nil
}

// projectRoot resolves the optional positional path argument
func projectRoot(args []string) (string, error) {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	return indexer.ResolveRoot(path)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codeknow %s (built: %s)\n", version, buildTime)
			fmt.Fprintf(out, "Indexer Version: %s\n", indexer.Version)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
