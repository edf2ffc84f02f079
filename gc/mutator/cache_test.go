package mutator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterzhu2118/gckit/gc/heap"
	"github.com/peterzhu2118/gckit/gc/object"
)

func newTestHeap(t *testing.T, size int64) *heap.Heap {
	t.Helper()
	h, err := heap.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func allowAll() error { return nil }

func TestAllocateInstallsHeader(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	c := New(h, Hooks{Allowed: allowAll}, 0)

	hdr := object.Header{Flags: 7, Klass: 42, Inline: []object.Word{1, 2, 3}}
	ref, err := c.Allocate(hdr, 24, true)
	require.NoError(t, err)

	arena := h.Arena()
	assert.Equal(t, int64(40), object.SlotSizeOf(arena, ref), "24 bytes rounds up to class 40")
	assert.Equal(t, object.Word(7), object.FlagsOf(arena, ref))
	assert.Equal(t, object.Word(42), object.KlassOf(arena, ref))
	assert.Equal(t, object.Word(2), object.InlineAt(arena, ref, 1))
	assert.True(t, h.Contains(ref))
}

func TestAllocateOversizeIsFatal(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	c := New(h, Hooks{Allowed: allowAll}, 0)

	// 640 is fine, 641 is a defect.
	_, err := c.Allocate(object.Header{}, 640, true)
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _ = c.Allocate(object.Header{}, 641, true)
	})
}

func TestRefillOnlyOnEmptyRun(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	refills := 0
	c := New(h, Hooks{
		Allowed:      allowAll,
		RecordRefill: func() { refills++ },
	}, 4)

	for range 4 {
		_, err := c.Allocate(object.Header{}, 40, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, refills, "one batch serves batch-many allocations")

	_, err := c.Allocate(object.Header{}, 40, true)
	require.NoError(t, err)
	assert.Equal(t, 2, refills)
}

func TestNeedsFinalizeHookFiresForUnprotected(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	var flagged []object.Ref
	c := New(h, Hooks{
		Allowed:       allowAll,
		NeedsFinalize: func(ref object.Ref) { flagged = append(flagged, ref) },
	}, 0)

	protected, err := c.Allocate(object.Header{}, 40, true)
	require.NoError(t, err)
	unprotected, err := c.Allocate(object.Header{}, 40, false)
	require.NoError(t, err)

	assert.NotContains(t, flagged, protected)
	assert.Equal(t, []object.Ref{unprotected}, flagged)
}

func TestExhaustionTriggersCollectionThenRetries(t *testing.T) {
	// Room for a single 640-class slot per batch request of 1.
	h := newTestHeap(t, 648)

	collections := 0
	c := New(h, Hooks{
		Allowed: allowAll,
		OnExhausted: func() error {
			collections++
			// Simulate a sweep freeing the one slot.
			h.Sweep(func(object.Ref) bool { return false }, nil)
			return nil
		},
	}, 1)

	first, err := c.Allocate(object.Header{}, 640, true)
	require.NoError(t, err)
	require.Zero(t, collections)

	second, err := c.Allocate(object.Header{}, 640, true)
	require.NoError(t, err)
	assert.Equal(t, 1, collections, "exhaustion collected before retrying")
	assert.Equal(t, first, second, "the reclaimed slot was reused")
}

func TestExhaustionWithoutRecoveryIsFatal(t *testing.T) {
	h := newTestHeap(t, 648)
	c := New(h, Hooks{
		Allowed:     allowAll,
		OnExhausted: func() error { return nil }, // collection frees nothing
	}, 1)

	_, err := c.Allocate(object.Header{}, 640, true)
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _ = c.Allocate(object.Header{}, 640, true)
	})
}

func TestAllocationBlockedByBackend(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	blocked := assert.AnError
	c := New(h, Hooks{Allowed: func() error { return blocked }}, 0)

	_, err := c.Allocate(object.Header{}, 40, true)
	assert.ErrorIs(t, err, blocked)
}

func TestDestroyReturnsSlotsAndInvalidatesCache(t *testing.T) {
	h := newTestHeap(t, 1<<16)
	c := New(h, Hooks{Allowed: allowAll}, 8)

	_, err := c.Allocate(object.Header{}, 40, true)
	require.NoError(t, err)
	require.Zero(t, h.FreeSlots(), "run is cache-local, not on the central list")

	c.Destroy()
	assert.Equal(t, int64(7), h.FreeSlots(), "unused run returned on destroy")
	assert.True(t, c.Destroyed())
	assert.Panics(t, func() { _, _ = c.Allocate(object.Header{}, 40, true) })
	assert.Panics(t, c.Destroy, "double destroy is a usage error")
}

// N independent units, each with its own cache, allocate M objects: all
// N×M references must be distinct and carry intact headers.
func TestConcurrentCachesProduceDisjointObjects(t *testing.T) {
	const units, per = 8, 100
	h := newTestHeap(t, 1<<20)

	var wg sync.WaitGroup
	results := make([][]object.Ref, units)
	for u := range units {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			c := New(h, Hooks{Allowed: allowAll}, 0)
			defer c.Destroy()
			for i := range per {
				ref, err := c.Allocate(object.Header{Klass: object.Word(u + 1), Inline: []object.Word{object.Word(i)}}, 40, true)
				if err != nil {
					t.Error(err)
					return
				}
				results[u] = append(results[u], ref)
			}
		}(u)
	}
	wg.Wait()

	seen := make(map[object.Ref]struct{}, units*per)
	arena := h.Arena()
	for u, refs := range results {
		require.Len(t, refs, per)
		for i, ref := range refs {
			_, dup := seen[ref]
			require.False(t, dup, "overlapping slots for ref %#x", uint32(ref))
			seen[ref] = struct{}{}
			// No lost or duplicated header writes.
			require.Equal(t, object.Word(u+1), object.KlassOf(arena, ref))
			require.Equal(t, object.Word(i), object.InlineAt(arena, ref, 0))
		}
	}
}
