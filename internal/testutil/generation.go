package testutil

import "sync"

// Generation is a thread-safe monotonic counter. The fake app bumps it on
// every re-render so element handles can tell whether they are stale.
type Generation struct {
	mu  sync.Mutex
	seq int64
}

// Next increments and returns the new generation. The first call returns 1.
func (g *Generation) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

// Current returns the generation without incrementing.
func (g *Generation) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}
