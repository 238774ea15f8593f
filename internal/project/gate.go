package project

import (
	"context"
	"sync"
)

// readinessGate is a one-time barrier that delays resolution until every
// externally-declared strategy id has registered or been cancelled.
//
// The gate starts open. Declaring ids arms it; satisfying or cancelling
// the last pending id releases it permanently. Declarations arriving after
// release are ignored.
type readinessGate struct {
	mu      sync.Mutex
	pending map[string]struct{}
	barrier chan struct{}
	armed   bool
	done    bool
}

func newReadinessGate() *readinessGate {
	open := make(chan struct{})
	close(open)
	return &readinessGate{
		pending: make(map[string]struct{}),
		barrier: open,
	}
}

// Expect adds declared strategy ids to the pending set, arming the gate
// on first use.
func (g *readinessGate) Expect(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return
	}
	if !g.armed {
		g.armed = true
		g.barrier = make(chan struct{})
	}
	for _, id := range ids {
		if id != "" {
			g.pending[id] = struct{}{}
		}
	}
	// Arming with no valid ids must not block forever.
	g.releaseLocked()
}

// Satisfy records that a declared id has registered.
func (g *readinessGate) Satisfy(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.pending, id)
	g.releaseLocked()
}

// Cancel drops a declared id whose declarer failed to activate.
func (g *readinessGate) Cancel(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.pending, id)
	g.releaseLocked()
}

// Await blocks until the gate releases or the context ends.
func (g *readinessGate) Await(ctx context.Context) error {
	g.mu.Lock()
	barrier := g.barrier
	g.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the ids still blocking the gate.
func (g *readinessGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}

// releaseLocked closes the barrier when armed and nothing is pending.
// Callers hold g.mu.
func (g *readinessGate) releaseLocked() {
	if g.armed && !g.done && len(g.pending) == 0 {
		g.done = true
		close(g.barrier)
	}
}
