// Package discover walks a project tree and lists the source files the
// indexer should consider.
package discover

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeknow/internal/graph"
)

// DefaultConcurrency bounds how many top-level directories are walked at once
const DefaultConcurrency = 8

// skipDirs are directory names never descended into
var skipDirs = map[string]bool{
	"node_modules":     true,
	"vendor":           true,
	"bower_components": true,
	"__pycache__":      true,
}

// Options configures discovery
type Options struct {
	IncludeTests bool     // Keep *_test.go, *.test.ts, *.spec.js and files under __tests__
	Exclude      []string // doublestar globs matched against slash-separated root-relative paths
	Concurrency  int      // Top-level directories walked in parallel (default: 8)
}

// IsSource reports whether path has an extension the indexer can parse
func IsSource(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".go" || graph.IsRecognized(ext)
}

// IsTest reports whether path is a test file by naming convention
func IsTest(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, "_test.go") {
		return true
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, ".spec") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if part == "__tests__" {
			return true
		}
	}
	return false
}

// Excluded reports whether the root-relative path rel matches any pattern
func Excluded(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// SkipDir reports whether a directory named name is never indexed
func SkipDir(name string) bool {
	return skipDirs[name] || (strings.HasPrefix(name, ".") && name != "." && name != "..")
}

// Files returns the absolute paths of the source files under root, in
// lexical walk order. Top-level directories are walked concurrently.
func Files(ctx context.Context, root string, opts Options) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	// One slot per root entry keeps the output in walk order
	slots := make([][]string, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if !entry.IsDir() {
			if keep(root, path, opts) {
				slots[i] = []string{path}
			}
			continue
		}
		if skipped(root, path, entry.Name(), opts) {
			continue
		}
		g.Go(func() error {
			files, err := walk(gctx, root, path, opts)
			slots[i] = files
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var files []string
	for _, slot := range slots {
		files = append(files, slot...)
	}
	return files, nil
}

func walk(ctx context.Context, root, dir string, opts Options) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// Unreadable subtrees are skipped
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && skipped(root, path, d.Name(), opts) {
				return filepath.SkipDir
			}
			return nil
		}
		if keep(root, path, opts) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func skipped(root, path, name string, opts Options) bool {
	if SkipDir(name) {
		return true
	}
	if !opts.IncludeTests && name == "__tests__" {
		return true
	}
	return Excluded(opts.Exclude, rel(root, path))
}

func keep(root, path string, opts Options) bool {
	if !IsSource(path) {
		return false
	}
	r := rel(root, path)
	if !opts.IncludeTests && IsTest(r) {
		return false
	}
	return !Excluded(opts.Exclude, r)
}

func rel(root, path string) string {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}
