package lock

import (
	"sync"
	"sync/atomic"
	"time"
)

// tryLock is a non-blocking lock built on compare-and-swap
type tryLock struct {
	state    atomic.Int32 // 0 = unlocked, 1 = locked
	acquired atomic.Int64 // unix nanos of the last acquisition
}

func (l *tryLock) tryAcquire(now time.Time) bool {
	if !l.state.CompareAndSwap(0, 1) {
		return false
	}
	l.acquired.Store(now.UnixNano())
	return true
}

func (l *tryLock) held() bool {
	return l.state.Load() == 1
}

func (l *tryLock) release() {
	l.state.Store(0)
}

// MemoryManager is a Manager for workers sharing one address space. It has
// the same staleness and reclaim semantics as FileManager.
type MemoryManager struct {
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*tryLock
}

// NewMemoryManager returns an empty manager. A non-positive staleAfter
// selects DefaultStaleAfter.
func NewMemoryManager(staleAfter time.Duration) *MemoryManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &MemoryManager{
		staleAfter: staleAfter,
		now:        time.Now,
		locks:      make(map[string]*tryLock),
	}
}

// Acquire takes the lock for key, reclaiming it once if it is stale
func (m *MemoryManager) Acquire(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &tryLock{}
		m.locks[key] = l
	}

	now := m.now()
	if l.tryAcquire(now) {
		return true, nil
	}
	if now.Sub(time.Unix(0, l.acquired.Load())) <= m.staleAfter {
		return false, nil
	}
	l.acquired.Store(now.UnixNano())
	return true, nil
}

// Release drops the lock for key
func (m *MemoryManager) Release(key string) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	m.mu.Unlock()
	if ok {
		l.release()
	}
	return nil
}

// IsStale reports whether key is held and was acquired more than threshold ago
func (m *MemoryManager) IsStale(key string, threshold time.Duration) (bool, error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	m.mu.Unlock()
	if !ok || !l.held() {
		return false, nil
	}
	return m.now().Sub(time.Unix(0, l.acquired.Load())) > threshold, nil
}

// Clear drops every lock
func (m *MemoryManager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = make(map[string]*tryLock)
	return nil
}
