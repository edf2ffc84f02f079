// Package heap owns the physical memory behind the slot allocator: a single
// arena reserved at backend init, carved into size-classed slots on demand,
// with freed slots recycled through per-class central free lists.
//
// The arena never moves and never grows; the backend's answer to exhaustion
// is a collection cycle, not relocation. Mutator caches pull refill batches
// from the central lists under the heap lock; everything else on the
// allocation fast path is cache-local.
package heap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/gc/sizeclass"
	"github.com/peterzhu2118/gckit/internal/layout"
)

var (
	// ErrNoSpace indicates the arena is exhausted and no free slot of a
	// suitable class exists. The backend responds by collecting.
	ErrNoSpace = errors.New("heap: arena exhausted")

	// ErrArenaSize indicates an invalid arena size was requested.
	ErrArenaSize = errors.New("heap: invalid arena size")
)

// DefaultArenaSize is the arena reservation used when the backend config
// does not override heap.size.
const DefaultArenaSize = 64 << 20

// MaxArenaSize is the largest arena the slot allocator can address. Object
// references are 32-bit payload offsets, so every carved slot's payload must
// start within the 32-bit range.
const MaxArenaSize = 1<<32 - layout.WordSize

// Heap is the backing store shared by all mutator caches. All exported
// methods are safe for concurrent use; the fast path cost is one mutex
// acquisition per refill batch, not per allocation.
type Heap struct {
	mu      sync.Mutex
	arena   []byte
	release func() error

	// bump is the offset of the next never-carved byte. Slots below bump
	// form a contiguous sequence of header-prefixed cells.
	bump int64

	// free holds recycled slot references per size class.
	free [sizeclass.NumClasses][]object.Ref

	// starts marks the word index of every carved slot header, so that an
	// arbitrary reference can be validated in O(1) (PointerToHeap).
	starts []uint64

	// offHeap tracks runtime-reported memory charged against this heap but
	// allocated outside the arena (AdjustMemoryUsage).
	offHeap int64

	carved    int64 // total slots ever carved from the bump region
	freeSlots int64 // slots currently on central free lists
}

// New reserves an arena of the given size and returns an empty heap.
func New(size int64) (*Heap, error) {
	if size <= 0 || size > MaxArenaSize || !layout.Aligned(size) {
		return nil, fmt.Errorf("%w: %d", ErrArenaSize, size)
	}
	arena, release, err := reserve(size)
	if err != nil {
		return nil, fmt.Errorf("heap: reserving %d byte arena: %w", size, err)
	}
	return &Heap{
		arena:   arena,
		release: release,
		starts:  make([]uint64, (size/layout.WordSize+63)/64),
	}, nil
}

// Close releases the arena. The heap must not be used afterwards.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.arena == nil {
		return nil
	}
	h.arena = nil
	if h.release != nil {
		return h.release()
	}
	return nil
}

// Arena exposes the raw arena bytes. Object headers and payloads are read
// and written through the object package against this slice.
func (h *Heap) Arena() []byte {
	return h.arena
}

// Capacity returns the arena reservation in bytes.
func (h *Heap) Capacity() int64 {
	return int64(cap(h.arena))
}

// UsedBytes returns the number of arena bytes carved into slots so far.
func (h *Heap) UsedBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bump
}

// FreeSlots returns the number of slots currently on central free lists.
func (h *Heap) FreeSlots() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeSlots
}

// FreeSlotsByClass returns the central free-list occupancy per size class,
// indexed like sizeclass.Sizes().
func (h *Heap) FreeSlotsByClass() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, sizeclass.NumClasses)
	for i := range h.free {
		out[i] = int64(len(h.free[i]))
	}
	return out
}

// SlotFootprint returns the arena bytes one slot of the given class
// occupies, header included.
func SlotFootprint(classIdx int) int64 {
	return layout.SlotHeaderSize + sizeclass.SizeAt(classIdx)
}

// AllocBatch hands out up to n free slots of the given size class, first
// from the central free list and then by carving fresh cells from the bump
// region. Returns ErrNoSpace only when not a single slot could be produced;
// a short batch is not an error.
func (h *Heap) AllocBatch(classIdx, n int) ([]object.Ref, error) {
	slotSize := sizeclass.SizeAt(classIdx)
	footprint := layout.SlotHeaderSize + slotSize

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]object.Ref, 0, n)

	// Recycled slots first.
	list := h.free[classIdx]
	for len(out) < n && len(list) > 0 {
		out = append(out, list[len(list)-1])
		list = list[:len(list)-1]
	}
	h.freeSlots -= int64(len(out))
	h.free[classIdx] = list

	// Carve the remainder from the bump region.
	for len(out) < n && h.bump+footprint <= int64(len(h.arena)) {
		off := h.bump
		h.bump += footprint
		h.carved++
		h.starts[off/layout.WordSize/64] |= 1 << (uint(off/layout.WordSize) % 64)
		// Committed size is recorded immediately; the allocated bit is set
		// when the mutator installs the object header.
		layout.PutWord(h.arena, int(off), layout.PackSlotHeader(slotSize, false))
		out = append(out, object.Ref(off+layout.SlotHeaderSize))
	}

	if len(out) == 0 {
		return nil, ErrNoSpace
	}
	return out, nil
}

// ReturnBatch gives unused free slots back to the central list. Used when a
// mutator cache is destroyed with slots still in its local runs.
func (h *Heap) ReturnBatch(classIdx int, refs []object.Ref) {
	if len(refs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.free[classIdx] = append(h.free[classIdx], refs...)
	h.freeSlots += int64(len(refs))
}

// Contains reports whether ref names a carved, currently allocated slot.
// This backs the runtime's "is this a heap pointer" introspection and the
// conservative MarkMaybe path: references into the middle of a payload, into
// free slots, or outside the arena all answer false.
func (h *Heap) Contains(ref object.Ref) bool {
	off := int64(ref) - layout.SlotHeaderSize
	if off < 0 || !layout.Aligned(off) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= h.bump {
		return false
	}
	w := off / layout.WordSize
	if h.starts[w/64]&(1<<(uint(w)%64)) == 0 {
		return false
	}
	return layout.SlotAllocated(layout.ReadWord(h.arena, int(off)))
}

// EachObject walks every allocated slot in address order, invoking fn with
// each reference. Returning false from fn stops the walk. The heap lock is
// held for the duration; fn must not allocate or free.
func (h *Heap) EachObject(fn func(object.Ref) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for off := int64(0); off < h.bump; {
		w := layout.ReadWord(h.arena, int(off))
		size := layout.SlotSize(w)
		if layout.SlotAllocated(w) {
			if !fn(object.Ref(off + layout.SlotHeaderSize)) {
				return
			}
		}
		off += layout.SlotHeaderSize + size
	}
}

// Sweep reclaims every allocated slot the marker did not reach. For each
// dead slot the reclaim callback runs first (finalization, statistics), then
// the slot returns to its class's central free list. Marked and already-free
// slots are untouched, which keeps the "no slot freed twice" invariant
// structural. Returns the number of slots reclaimed.
func (h *Heap) Sweep(marked func(object.Ref) bool, reclaim func(object.Ref)) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var swept int64
	for off := int64(0); off < h.bump; {
		w := layout.ReadWord(h.arena, int(off))
		size := layout.SlotSize(w)
		ref := object.Ref(off + layout.SlotHeaderSize)
		if layout.SlotAllocated(w) && !marked(ref) {
			if reclaim != nil {
				reclaim(ref)
			}
			layout.PutWord(h.arena, int(off), layout.PackSlotHeader(size, false))
			idx := sizeclass.IndexFor(size)
			h.free[idx] = append(h.free[idx], ref)
			h.freeSlots++
			swept++
		}
		off += layout.SlotHeaderSize + size
	}
	return swept
}

// AdjustMemoryUsage records memory the runtime allocated outside the arena
// but wants charged against collection pacing (wrapped malloc buffers and
// the like). Negative diffs release the charge.
func (h *Heap) AdjustMemoryUsage(diff int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offHeap += diff
	if h.offHeap < 0 {
		h.offHeap = 0
	}
}

// OffHeapBytes returns the current off-arena charge.
func (h *Heap) OffHeapBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offHeap
}
