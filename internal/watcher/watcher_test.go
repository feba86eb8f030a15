package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

func createTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// startWatcher runs a watcher whose batches are sent on the returned channel
func startWatcher(t *testing.T, opts Options) <-chan []string {
	t.Helper()
	batches := make(chan []string, 16)
	w, err := New(opts, func(_ context.Context, changed []string) error {
		batches <- changed
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return batches
}

func nextBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
		return nil
	}
}

func assertQuiet(t *testing.T, batches <-chan []string) {
	t.Helper()
	select {
	case b := <-batches:
		t.Fatalf("unexpected batch %v", b)
	case <-time.After(5 * testDebounce):
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	a := createTestFile(t, root, "a.ts", "export const a = 1;")
	batches := startWatcher(t, Options{Root: root, Debounce: testDebounce})

	for i := range 5 {
		require.NoError(t, os.WriteFile(a, []byte{byte('0' + i)}, 0o644))
	}
	b := createTestFile(t, root, "src/b.go", "package src")

	srcDir := filepath.Dir(b)

	// src/b.go is reported by path, or via its new directory when the file
	// landed before the directory watch did
	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !(seen[a] && (seen[b] || seen[srcDir])) {
		select {
		case batch := <-batches:
			for _, p := range batch {
				seen[p] = true
			}
		case <-deadline:
			t.Fatalf("incomplete batches: %v", seen)
		}
	}
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "node_modules/pkg/index.js", "")
	createTestFile(t, root, "gen/x.ts", "")
	batches := startWatcher(t, Options{Root: root, Debounce: testDebounce, Exclude: []string{"gen/**"}})

	createTestFile(t, root, "README.md", "# hi")
	createTestFile(t, root, "a_test.go", "package a")
	createTestFile(t, root, "node_modules/pkg/index.js", "changed")
	createTestFile(t, root, "gen/x.ts", "changed")
	createTestFile(t, root, ".codeknow/swarm/checkpoint.json", "{}")

	assertQuiet(t, batches)
}

func TestWatcher_IncludeTests(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, Options{Root: root, Debounce: testDebounce, IncludeTests: true})

	path := createTestFile(t, root, "a_test.go", "package a")
	assert.Equal(t, []string{path}, nextBatch(t, batches))
}

func TestWatcher_Remove(t *testing.T) {
	root := t.TempDir()
	path := createTestFile(t, root, "a.ts", "")
	batches := startWatcher(t, Options{Root: root, Debounce: testDebounce})

	require.NoError(t, os.Remove(path))
	assert.Equal(t, []string{path}, nextBatch(t, batches))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Root: t.TempDir()}, nil)
	assert.Error(t, err)

	_, err = New(Options{Root: filepath.Join(t.TempDir(), "missing")}, func(context.Context, []string) error { return nil })
	assert.Error(t, err)
}

func TestRelevant(t *testing.T) {
	root := t.TempDir()
	fsw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsw.Close() })

	w := &Watcher{opts: Options{Root: root, Exclude: []string{"build/**"}}, fs: fsw, pending: map[string]struct{}{}}

	tests := []struct {
		rel  string
		want bool
	}{
		{"a.go", true},
		{"src/app.tsx", true},
		{"src/app.test.tsx", false},
		{"src/__tests__/x.ts", false},
		{"vendor/x/y.go", false},
		{".hidden/a.ts", false},
		{"build/out.js", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(filepath.Join(root, filepath.FromSlash(tt.rel))))
		})
	}

	assert.False(t, w.relevant(filepath.Join(filepath.Dir(root), "outside.go")))
}
