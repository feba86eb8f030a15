package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const lockSuffix = ".lock"

// FileManager keeps one zero-byte file per held lock. Existence means held
// and the file's mtime is the staleness clock. It works across processes
// sharing the directory.
type FileManager struct {
	dir        string
	staleAfter time.Duration
}

// NewFileManager returns a manager rooted at dir. A non-positive staleAfter
// selects DefaultStaleAfter.
func NewFileManager(dir string, staleAfter time.Duration) (*FileManager, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	return &FileManager{dir: dir, staleAfter: staleAfter}, nil
}

// Dir returns the directory holding the lock files
func (m *FileManager) Dir() string {
	return m.dir
}

func (m *FileManager) path(key string) string {
	return filepath.Join(m.dir, key+lockSuffix)
}

// Acquire creates the lock file exclusively. If the file already exists and
// is stale it is removed and the create is retried exactly once.
func (m *FileManager) Acquire(key string) (bool, error) {
	ok, err := m.create(key)
	if ok || err != nil {
		return ok, err
	}

	stale, err := m.IsStale(key, m.staleAfter)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	if err := os.Remove(m.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to reclaim stale lock: %w", err)
	}
	return m.create(key)
}

func (m *FileManager) create(key string) (bool, error) {
	f, err := os.OpenFile(m.path(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close lock: %w", err)
	}
	return true, nil
}

// Release removes the lock file
func (m *FileManager) Release(key string) error {
	if err := os.Remove(m.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsStale reports whether the lock file exists with an mtime older than threshold
func (m *FileManager) IsStale(key string, threshold time.Duration) (bool, error) {
	info, err := os.Stat(m.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat lock: %w", err)
	}
	return time.Since(info.ModTime()) > threshold, nil
}

// Clear removes every lock file in the directory
func (m *FileManager) Clear() error {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list locks: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), lockSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear locks: %w", errors.Join(errs...))
	}
	return nil
}
