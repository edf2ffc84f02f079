package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/gc/sizeclass"
)

// newTestHeap returns a small heap sized to hold a handful of slots.
func newTestHeap(t *testing.T, size int64) *Heap {
	t.Helper()
	h, err := New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// allocOne carves a single slot of the given class and installs a minimal
// object header so the slot counts as allocated.
func allocOne(t *testing.T, h *Heap, classIdx int) object.Ref {
	t.Helper()
	refs, err := h.AllocBatch(classIdx, 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	object.Header{Klass: 1}.EncodeInto(h.Arena(), refs[0], sizeclass.SizeAt(classIdx))
	return refs[0]
}

func TestNewRejectsBadSizes(t *testing.T) {
	for _, size := range []int64{0, -8, 41, MaxArenaSize + 8} {
		_, err := New(size)
		assert.ErrorIs(t, err, ErrArenaSize, "size %d", size)
	}
}

func TestAllocBatchCarvesDisjointSlots(t *testing.T) {
	h := newTestHeap(t, 4096)

	refs, err := h.AllocBatch(sizeclass.IndexFor(40), 8)
	require.NoError(t, err)
	require.Len(t, refs, 8)

	// Slots are header-prefixed and contiguous, so consecutive refs differ
	// by exactly header + slot size.
	for i := 1; i < len(refs); i++ {
		assert.Equal(t, int64(48), int64(refs[i])-int64(refs[i-1]))
	}
	assert.Equal(t, int64(8*48), h.UsedBytes())
}

func TestAllocBatchShortBatchThenNoSpace(t *testing.T) {
	// Room for exactly two 640-byte slots (2 * 648 = 1296 <= 1296).
	h := newTestHeap(t, 1296)
	idx := sizeclass.IndexFor(640)

	refs, err := h.AllocBatch(idx, 5)
	require.NoError(t, err)
	assert.Len(t, refs, 2, "short batch, not an error")

	_, err = h.AllocBatch(idx, 1)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestSweepRecyclesDeadSlots(t *testing.T) {
	h := newTestHeap(t, 4096)
	idx := sizeclass.IndexFor(80)

	live := allocOne(t, h, idx)
	dead := allocOne(t, h, idx)

	var reclaimed []object.Ref
	swept := h.Sweep(
		func(r object.Ref) bool { return r == live },
		func(r object.Ref) { reclaimed = append(reclaimed, r) },
	)

	assert.Equal(t, int64(1), swept)
	assert.Equal(t, []object.Ref{dead}, reclaimed)
	assert.True(t, h.Contains(live))
	assert.False(t, h.Contains(dead), "dead slot no longer allocated")

	// The recycled slot is handed out again before any new carving.
	used := h.UsedBytes()
	refs, err := h.AllocBatch(idx, 1)
	require.NoError(t, err)
	assert.Equal(t, dead, refs[0])
	assert.Equal(t, used, h.UsedBytes(), "no fresh carve needed")
}

func TestSweepIgnoresFreeSlots(t *testing.T) {
	h := newTestHeap(t, 4096)
	idx := sizeclass.IndexFor(40)

	// Carved but never header-installed: still free, must not be swept or
	// double-inserted into the free list.
	_, err := h.AllocBatch(idx, 3)
	require.NoError(t, err)

	swept := h.Sweep(func(object.Ref) bool { return false }, nil)
	assert.Zero(t, swept)
	assert.Zero(t, h.FreeSlots())
}

func TestContainsRejectsNonObjects(t *testing.T) {
	h := newTestHeap(t, 4096)
	ref := allocOne(t, h, sizeclass.IndexFor(160))

	assert.True(t, h.Contains(ref))
	assert.False(t, h.Contains(object.Nil))
	assert.False(t, h.Contains(ref+8), "interior pointer")
	assert.False(t, h.Contains(ref+3), "unaligned")
	assert.False(t, h.Contains(object.Ref(h.Capacity())), "past bump")
}

func TestEachObjectVisitsAllocatedInOrder(t *testing.T) {
	h := newTestHeap(t, 4096)
	a := allocOne(t, h, sizeclass.IndexFor(40))
	b := allocOne(t, h, sizeclass.IndexFor(320))
	c := allocOne(t, h, sizeclass.IndexFor(40))

	var seen []object.Ref
	h.EachObject(func(r object.Ref) bool {
		seen = append(seen, r)
		return true
	})
	assert.Equal(t, []object.Ref{a, b, c}, seen)

	// Early termination.
	seen = nil
	h.EachObject(func(r object.Ref) bool {
		seen = append(seen, r)
		return false
	})
	assert.Equal(t, []object.Ref{a}, seen)
}

func TestReturnBatch(t *testing.T) {
	h := newTestHeap(t, 4096)
	idx := sizeclass.IndexFor(40)

	refs, err := h.AllocBatch(idx, 4)
	require.NoError(t, err)
	h.ReturnBatch(idx, refs[2:])
	assert.Equal(t, int64(2), h.FreeSlots())

	again, err := h.AllocBatch(idx, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, refs[2:], again)
}

func TestFreeSlotsByClass(t *testing.T) {
	h := newTestHeap(t, 4096)
	idx40 := sizeclass.IndexFor(40)
	idx80 := sizeclass.IndexFor(80)

	dead := allocOne(t, h, idx40)
	live := allocOne(t, h, idx80)
	h.Sweep(func(r object.Ref) bool { return r == live }, nil)

	free := h.FreeSlotsByClass()
	assert.Equal(t, int64(1), free[idx40])
	assert.Zero(t, free[idx80])
	assert.False(t, h.Contains(dead))

	assert.Equal(t, int64(48), SlotFootprint(idx40))
	assert.Equal(t, int64(648), SlotFootprint(sizeclass.IndexFor(640)))
}

func TestAdjustMemoryUsage(t *testing.T) {
	h := newTestHeap(t, 4096)
	h.AdjustMemoryUsage(1024)
	h.AdjustMemoryUsage(512)
	assert.Equal(t, int64(1536), h.OffHeapBytes())

	h.AdjustMemoryUsage(-2048)
	assert.Zero(t, h.OffHeapBytes(), "charge never goes negative")
}
