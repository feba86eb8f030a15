// Package lock provides cooperative per-file locks so that at most one
// worker, in this process or any other, processes a given file at a time.
package lock

import "time"

// DefaultStaleAfter is how long a lock may be held before another worker
// is allowed to reclaim it.
const DefaultStaleAfter = 5 * time.Minute

// Manager hands out non-blocking locks keyed by an opaque string, normally
// fingerprint.Key of the target path.
type Manager interface {
	// Acquire attempts to take the lock without blocking. A lock older than
	// the manager's stale threshold is reclaimed once.
	Acquire(key string) (bool, error)
	// Release drops the lock. Releasing an unheld lock is not an error.
	Release(key string) error
	// IsStale reports whether the lock exists and is older than threshold.
	IsStale(key string, threshold time.Duration) (bool, error)
	// Clear drops every lock the manager knows about.
	Clear() error
}
