// Package mutator implements the per-execution-unit allocation cache. Each
// logical concurrent unit (thread, ractor, isolate) owns exactly one Cache;
// the backend creates it explicitly when the unit registers and destroys it
// when the unit terminates, never implicitly.
//
// The hot path pops a slot from a unit-local run and writes the header; only
// a refill crosses into the shared heap under its lock. A Cache is not safe
// for concurrent use; that is the point of having one per unit.
package mutator

import (
	"fmt"

	"github.com/peterzhu2118/gckit/gc/heap"
	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/gc/sizeclass"
)

// DefaultBatch is the refill batch size used when the backend config does
// not override cache.batch.
const DefaultBatch = 16

// Hooks are the backend callbacks a cache needs on its slow paths. All of
// them stay off the fast path except Allowed, which is a single atomic read
// in the backend.
type Hooks struct {
	// Allowed returns nil when allocation may proceed. It reports the
	// disabled state as an error and treats use after shutdown as a defect.
	Allowed func() error

	// BeforeRefill runs ahead of every central refill. The backend uses it
	// to force a collection in stress mode.
	BeforeRefill func()

	// OnExhausted runs when the central lists and bump region are empty.
	// The backend attempts a collection cycle; a non-nil error means no
	// cycle could run and the allocation fails over to the caller.
	OnExhausted func() error

	// NeedsFinalize registers a freshly allocated object as a shutdown
	// free candidate.
	NeedsFinalize func(ref object.Ref)

	// RecordAllocation and RecordRefill feed the statistics surface.
	RecordAllocation func(bytes int64)
	RecordRefill     func()
}

// Cache is one unit's allocation fast path: a run of free slots per size
// class, refilled in batches from the heap's central lists.
type Cache struct {
	h     *heap.Heap
	hooks Hooks
	batch int

	runs [sizeclass.NumClasses][]object.Ref

	destroyed bool
}

// New binds a cache to the heap. batch <= 0 selects DefaultBatch.
func New(h *heap.Heap, hooks Hooks, batch int) *Cache {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Cache{h: h, hooks: hooks, batch: batch}
}

// Allocate serves one allocation request: classify the payload size, pop a
// slot from the local run (refilling if exhausted), install the header, and
// register a finalization candidate when the object is not write-barrier
// protected. Requests above the largest size class are a caller defect and
// panic; the runtime pre-validates with sizeclass.Allocatable.
func (c *Cache) Allocate(hdr object.Header, size int64, wbProtected bool) (object.Ref, error) {
	if c.destroyed {
		panic("gc: allocation through a destroyed mutator cache")
	}
	if err := c.hooks.Allowed(); err != nil {
		return object.Nil, err
	}

	slotSize := sizeclass.Classify(size)
	idx := sizeclass.IndexFor(slotSize)

	run := c.runs[idx]
	if len(run) == 0 {
		var err error
		if run, err = c.refill(idx); err != nil {
			return object.Nil, err
		}
	}

	ref := run[len(run)-1]
	c.runs[idx] = run[:len(run)-1]

	hdr.EncodeInto(c.h.Arena(), ref, slotSize)

	if c.hooks.RecordAllocation != nil {
		c.hooks.RecordAllocation(slotSize)
	}
	if !wbProtected && c.hooks.NeedsFinalize != nil {
		c.hooks.NeedsFinalize(ref)
	}
	return ref, nil
}

// refill pulls a fresh batch for one size class. Exhaustion triggers a
// collection attempt through the backend; if the arena is still out of
// slots after a completed cycle the condition is unrecoverable.
func (c *Cache) refill(idx int) ([]object.Ref, error) {
	if c.hooks.BeforeRefill != nil {
		c.hooks.BeforeRefill()
	}
	if c.hooks.RecordRefill != nil {
		c.hooks.RecordRefill()
	}

	refs, err := c.h.AllocBatch(idx, c.batch)
	if err == nil {
		c.runs[idx] = refs
		return refs, nil
	}

	if c.hooks.OnExhausted != nil {
		if cerr := c.hooks.OnExhausted(); cerr != nil {
			return nil, fmt.Errorf("mutator: refill failed: %w", cerr)
		}
		if refs, err = c.h.AllocBatch(idx, c.batch); err == nil {
			c.runs[idx] = refs
			return refs, nil
		}
	}

	panic(fmt.Sprintf("gc: heap exhausted for size class %d after collection", sizeclass.SizeAt(idx)))
}

// Destroy releases the cache, returning its unused slots to the central
// free lists. The cache is invalid afterwards; any further allocation
// through it is a usage error.
func (c *Cache) Destroy() {
	if c.destroyed {
		panic("gc: mutator cache destroyed twice")
	}
	c.destroyed = true
	for idx := range c.runs {
		c.h.ReturnBatch(idx, c.runs[idx])
		c.runs[idx] = nil
	}
}

// Destroyed reports whether the cache has been released.
func (c *Cache) Destroyed() bool {
	return c.destroyed
}
