// Package watcher re-runs indexing when source files under a project root
// change. Events are filtered like discovery and debounced into batches.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codeknow/internal/discover"
)

// DefaultDebounce is the quiet period before a batch is handed to the handler
const DefaultDebounce = 500 * time.Millisecond

// Handler receives one debounced batch of changed paths, sorted. Batches
// are delivered one at a time.
type Handler func(ctx context.Context, changed []string) error

// Options configures a Watcher
type Options struct {
	Root         string
	IncludeTests bool
	Exclude      []string      // doublestar globs, as in discovery
	Debounce     time.Duration // Default 500ms
}

// Watcher monitors a project tree with fsnotify
type Watcher struct {
	opts    Options
	handler Handler
	fs      *fsnotify.Watcher
	pending map[string]struct{}
}

// New creates a watcher rooted at opts.Root and registers every directory
// discovery would descend into
func New(opts Options, handler Handler) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher: handler is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = root
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		opts:    opts,
		handler: handler,
		fs:      fsw,
		pending: make(map[string]struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers batches until ctx is cancelled, then closes the watcher.
// Handler errors are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	slog.Info("watcher.start", "root", w.opts.Root, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher.stop", "root", w.opts.Root, "dropped", len(w.pending))
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher.error", "error", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle records a relevant event and reports whether it was recorded
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	path := event.Name

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.skipDir(path) {
				return false
			}
			if err := w.addTree(path); err != nil {
				slog.Warn("watcher.add_failed", "path", path, "error", err)
			}
			// Files may have landed before the watch did
			w.pending[path] = struct{}{}
			return true
		}
	}

	// A vanished directory may have held source files
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Ext(path) == "" && !w.skipDir(path) {
		w.pending[path] = struct{}{}
		return true
	}

	if !w.relevant(path) {
		return false
	}
	slog.Debug("watcher.event", "path", path, "op", event.Op.String())
	w.pending[path] = struct{}{}
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	sort.Strings(changed)
	w.pending = make(map[string]struct{})

	slog.Debug("watcher.batch", "changed", len(changed))
	if err := w.handler(ctx, changed); err != nil {
		slog.Warn("watcher.handler_failed", "changed", len(changed), "error", err)
	}
}

// addTree watches dir and every directory below it that is not skipped
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.Root && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			slog.Warn("watcher.add_failed", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	r, err := filepath.Rel(w.opts.Root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) skipDir(path string) bool {
	r, ok := w.rel(path)
	if !ok {
		return true
	}
	for _, part := range strings.Split(r, "/") {
		if discover.SkipDir(part) || (!w.opts.IncludeTests && part == "__tests__") {
			return true
		}
	}
	return discover.Excluded(w.opts.Exclude, r)
}

// relevant applies the discovery filters to a file path
func (w *Watcher) relevant(path string) bool {
	if !discover.IsSource(path) {
		return false
	}
	r, ok := w.rel(path)
	if !ok {
		return false
	}
	if dir := filepath.Dir(path); dir != w.opts.Root && w.skipDir(dir) {
		return false
	}
	if !w.opts.IncludeTests && discover.IsTest(r) {
		return false
	}
	return !discover.Excluded(w.opts.Exclude, r)
}
