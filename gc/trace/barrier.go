package trace

import (
	"sync"

	"github.com/peterzhu2118/gckit/gc/object"
)

// Barrier tracks write-barrier state across cycles: the remembered set of
// containers with recorded pointer stores, and the set of objects whose
// barrier tracking has been permanently disabled.
//
// The reference collector runs full cycles only, so the remembered set does
// not feed marking (a full mark rebuilds liveness from roots); it exists to
// honor the call contract, feed introspection, and serve a generational
// collector plugged into the same seam. It is cleared at every cycle start.
type Barrier struct {
	mu          sync.Mutex
	remembered  map[object.Ref]struct{}
	unprotected map[object.Ref]struct{}
}

// NewBarrier returns an empty barrier.
func NewBarrier() *Barrier {
	return &Barrier{
		remembered:  make(map[object.Ref]struct{}),
		unprotected: make(map[object.Ref]struct{}),
	}
}

// Record notes a pointer store into container. Unprotected containers are
// skipped: they opted out of tracking and are treated conservatively by the
// collector instead.
func (b *Barrier) Record(container object.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.unprotected[container]; ok {
		return
	}
	b.remembered[container] = struct{}{}
}

// Remember forces an object onto the remembered set without a concrete
// write having happened.
func (b *Barrier) Remember(ref object.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remembered[ref] = struct{}{}
}

// Remembered reports whether ref is on the remembered set.
func (b *Barrier) Remembered(ref object.Ref) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.remembered[ref]
	return ok
}

// RememberedCount returns the size of the remembered set.
func (b *Barrier) RememberedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.remembered)
}

// Unprotect permanently disables barrier tracking for ref. Once unprotected
// an object never re-enters the remembered set; a generational collector
// must rescan it every cycle instead.
func (b *Barrier) Unprotect(ref object.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unprotected[ref] = struct{}{}
	delete(b.remembered, ref)
}

// Unprotected reports whether barrier tracking is disabled for ref.
func (b *Barrier) Unprotected(ref object.Ref) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.unprotected[ref]
	return ok
}

// BeginCycle resets per-cycle barrier state. The remembered set is rebuilt
// by mutator writes after the cycle; the unprotected set persists.
func (b *Barrier) BeginCycle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.remembered)
}

// Drop removes a reclaimed object from all barrier sets so stale references
// cannot resurrect state if the slot is reused.
func (b *Barrier) Drop(ref object.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.remembered, ref)
	delete(b.unprotected, ref)
}
