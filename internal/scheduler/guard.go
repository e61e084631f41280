package scheduler

import "sync/atomic"

// RunGuard admits at most one cycle at a time
type RunGuard struct {
	running atomic.Bool
}

// TryAcquire claims the guard. It never blocks.
func (g *RunGuard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release frees the guard
func (g *RunGuard) Release() {
	g.running.Store(false)
}

// Running reports whether a cycle holds the guard
func (g *RunGuard) Running() bool {
	return g.running.Load()
}
