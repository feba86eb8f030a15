package indexer

import "sync"

// runSet tracks the roots with a run in flight. Acquisition never blocks.
type runSet struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// tryAcquire marks root as running. It reports false if it already was.
func (r *runSet) tryAcquire(root string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.active = make(map[string]struct{})
	}
	if _, busy := r.active[root]; busy {
		return false
	}
	r.active[root] = struct{}{}
	return true
}

// release clears root. It must only follow a successful tryAcquire.
func (r *runSet) release(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, root)
}

// Running reports whether root is being indexed by idx
func (idx *Indexer) Running(root string) bool {
	idx.runs.mu.Lock()
	defer idx.runs.mu.Unlock()
	_, busy := idx.runs.active[root]
	return busy
}
