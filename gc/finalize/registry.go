// Package finalize tracks objects that still need a cleanup callback: the
// free-candidate registry populated at allocation time and drained exactly
// once at backend shutdown. Ordinary reclamation during sweep consumes
// records through Take, so the invoke-once invariant holds on both paths
// structurally: a record leaves the registry before its callback runs.
package finalize

import (
	"fmt"
	"sort"
	"sync"

	"github.com/peterzhu2118/gckit/gc/object"
)

// Cleanup is a finalization callback. The context value travels with the
// record and is opaque to the backend.
type Cleanup func(ref object.Ref, ctx any)

// Record is a pending finalization: the object, its callback, and the
// callback's context.
type Record struct {
	Ref object.Ref
	Fn  Cleanup
	Ctx any

	// seq orders the shutdown drain by registration time. A slot that is
	// reclaimed and registered again re-enters at the tail, not at its old
	// position.
	seq int64
}

// Registry is the process-wide candidate set. Register is called from the
// allocation path of every mutator cache, so all operations synchronize
// internally.
type Registry struct {
	mu      sync.Mutex
	pending map[object.Ref]Record
	seq     int64
	drained bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[object.Ref]Record)}
}

// Register appends a record for ref. Registering the same object twice is a
// defect: the second record could double-run the cleanup.
func (r *Registry) Register(ref object.Ref, fn Cleanup, ctx any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drained {
		panic(fmt.Sprintf("gc: finalizer registered for %#x after shutdown drain", uint32(ref)))
	}
	if _, ok := r.pending[ref]; ok {
		panic(fmt.Sprintf("gc: duplicate finalizer registration for %#x", uint32(ref)))
	}
	r.seq++
	r.pending[ref] = Record{Ref: ref, Fn: fn, Ctx: ctx, seq: r.seq}
}

// Unregister withdraws the record for ref, reporting whether one existed.
func (r *Registry) Unregister(ref object.Ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[ref]; !ok {
		return false
	}
	delete(r.pending, ref)
	return true
}

// Take removes and returns the record for ref. Sweep uses this when
// reclaiming an unreachable object: once taken, the record cannot be drained
// again at shutdown.
func (r *Registry) Take(ref object.Ref) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pending[ref]
	if ok {
		delete(r.pending, ref)
	}
	return rec, ok
}

// Copy installs dst with the same cleanup as src, if src has one. Mirrors
// the runtime duplicating an object that carries a finalizer.
func (r *Registry) Copy(dst, src object.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pending[src]
	if !ok {
		return
	}
	if _, dup := r.pending[dst]; dup {
		panic(fmt.Sprintf("gc: duplicate finalizer registration for %#x", uint32(dst)))
	}
	r.seq++
	r.pending[dst] = Record{Ref: dst, Fn: rec.Fn, Ctx: rec.Ctx, seq: r.seq}
}

// Len returns the number of pending records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drain takes ownership of every pending record and invokes each cleanup at
// most once, in registration order, for records the eligibility check still
// accepts. A nil eligible accepts everything. The registry is empty
// afterwards; a second drain processes zero records.
//
// Callbacks run outside the registry lock and must not allocate through the
// backend; drain happens while the backend is shutting down.
func (r *Registry) Drain(eligible func(object.Ref) bool) int {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[object.Ref]Record)
	r.drained = true
	r.mu.Unlock()

	recs := make([]Record, 0, len(pending))
	for _, rec := range pending {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	invoked := 0
	for _, rec := range recs {
		if eligible != nil && !eligible(rec.Ref) {
			continue
		}
		rec.Fn(rec.Ref, rec.Ctx)
		invoked++
	}
	return invoked
}
