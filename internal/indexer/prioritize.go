package indexer

import (
	"os"
	"sort"
	"time"
)

// Prioritizer orders discovered files before the pending set is built.
// Workers claim files in the returned order.
type Prioritizer interface {
	Prioritize(files []string) []string
}

// PrioritizerFunc adapts a function to Prioritizer
type PrioritizerFunc func(files []string) []string

// Prioritize calls f
func (f PrioritizerFunc) Prioritize(files []string) []string { return f(files) }

// RecentFirst orders files by modification time, newest first, ties and
// unreadable files broken by path. Unreadable files sort last.
type RecentFirst struct{}

// Prioritize implements Prioritizer
func (RecentFirst) Prioritize(files []string) []string {
	mtimes := make(map[string]time.Time, len(files))
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			mtimes[f] = info.ModTime()
		}
	}

	out := append([]string(nil), files...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, iok := mtimes[out[i]]
		tj, jok := mtimes[out[j]]
		if iok != jok {
			return iok
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i] < out[j]
	})
	return out
}
