package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/internal/indexer"
)

// Export formats
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// graphDocument is the exported form of a resolved graph, keyed by
// root-relative file path
type graphDocument struct {
	Root      string              `json:"root" yaml:"root"`
	Modules   map[string][]string `json:"modules" yaml:"modules"`
	Functions map[string][]string `json:"functions" yaml:"functions"`
}

// graphCapture is an indexer.GraphSink keeping the last graph it received
type graphCapture struct {
	graph *graph.Graph
}

func (c *graphCapture) SaveGraph(_ context.Context, _ int64, g *graph.Graph) error {
	c.graph = g
	return nil
}

func newGraphCommand(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph [path]",
		Short: "Bring the index up to date and print the dependency graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatJSON, formatYAML)
			}

			dir, err := projectRoot(args)
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig(dir)
			if err != nil {
				return err
			}

			idx, closeIdx, err := openIndexer(dir, cfg, true)
			if err != nil {
				return err
			}
			defer closeIdx()

			capture := &graphCapture{}
			if _, err := idx.IndexProject(cmd.Context(), indexer.Options{
				Root:   dir,
				Config: cfg,
				Sink:   capture,
			}); err != nil {
				return err
			}

			return writeGraph(cmd.OutOrStdout(), format, exportGraph(dir, capture.graph))
		},
	}

	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or yaml")
	return cmd
}

// exportGraph maps module ids to root-relative paths. Function ids are
// kept as they are.
func exportGraph(root string, g *graph.Graph) *graphDocument {
	doc := &graphDocument{
		Root:      root,
		Modules:   make(map[string][]string),
		Functions: make(map[string][]string),
	}
	if g == nil {
		return doc
	}

	path := func(id string) string {
		p, ok := g.ModulePaths[id]
		if !ok {
			return id
		}
		if rel, err := filepath.Rel(root, p); err == nil {
			return filepath.ToSlash(rel)
		}
		return p
	}

	for from, to := range g.Modules {
		targets := make([]string, 0, len(to))
		for _, id := range to {
			targets = append(targets, path(id))
		}
		sort.Strings(targets)
		doc.Modules[path(from)] = targets
	}
	for from, to := range g.Functions {
		doc.Functions[from] = append([]string{}, to...)
	}
	return doc
}

func writeGraph(w io.Writer, format string, doc *graphDocument) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
