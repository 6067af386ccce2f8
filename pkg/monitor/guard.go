package monitor

import "sync"

// RunGuard is an advisory in-process lock over sweep labels. Manual and
// scheduled sweeps acquire their own label; an exclusive acquire refuses to
// start while any other label is held.
type RunGuard struct {
	mu     sync.Mutex
	active map[string]int
}

// NewRunGuard creates an empty guard
func NewRunGuard() *RunGuard {
	return &RunGuard{active: make(map[string]int)}
}

// TryAcquire claims the label. With exclusive set, acquisition fails while
// any label (including this one) is held. The returned release function is
// safe to call exactly once.
func (g *RunGuard) TryAcquire(label string, exclusive bool) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if exclusive {
		for _, n := range g.active {
			if n > 0 {
				return nil, false
			}
		}
	} else if g.active[label] > 0 {
		return nil, false
	}

	g.active[label]++
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.active[label]--
		if g.active[label] <= 0 {
			delete(g.active, label)
		}
	}, true
}

// HasActive reports whether any label other than the excluded ones is held
func (g *RunGuard) HasActive(exclude ...string) bool {
	skip := make(map[string]bool, len(exclude))
	for _, label := range exclude {
		skip[label] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for label, n := range g.active {
		if n > 0 && !skip[label] {
			return true
		}
	}
	return false
}
