package swarm

// Evicter is a pool of stateful per-extraction caches (parsers, file sets)
// that can be dropped wholesale to bound memory on very large runs
type Evicter interface {
	EvictAll()
}

// EvicterFunc adapts a function to Evicter
type EvicterFunc func()

// EvictAll calls f
func (f EvicterFunc) EvictAll() { f() }

// Evicters fans EvictAll out to several pools
type Evicters []Evicter

// EvictAll evicts every pool
func (e Evicters) EvictAll() {
	for _, ev := range e {
		if ev != nil {
			ev.EvictAll()
		}
	}
}
