package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterzhu2118/gckit/gc/object"
)

func TestMarkOnceAndGray(t *testing.T) {
	m := NewMarker(4096)
	m.Begin()

	ref := object.Ref(8)
	assert.True(t, m.Mark(ref), "first visit")
	assert.False(t, m.Mark(ref), "second visit is a no-op")
	assert.True(t, m.Marked(ref))

	got, ok := m.PopGray()
	require.True(t, ok)
	assert.Equal(t, ref, got)

	_, ok = m.PopGray()
	assert.False(t, ok, "gray stack holds each object once")
}

func TestMarkNilIsNoop(t *testing.T) {
	m := NewMarker(4096)
	m.Begin()
	assert.False(t, m.Mark(object.Nil))
	assert.False(t, m.Marked(object.Nil))
}

func TestBeginClearsPreviousCycle(t *testing.T) {
	m := NewMarker(4096)
	m.Begin()
	m.Pin(object.Ref(48))
	m.Begin()

	assert.False(t, m.Marked(object.Ref(48)))
	assert.False(t, m.Pinned(object.Ref(48)))
	_, ok := m.PopGray()
	assert.False(t, ok)
}

func TestPin(t *testing.T) {
	m := NewMarker(4096)
	m.Begin()
	m.Pin(object.Ref(96))
	assert.True(t, m.Marked(object.Ref(96)), "pinning implies marking")
	assert.True(t, m.Pinned(object.Ref(96)))
	assert.False(t, m.Pinned(object.Ref(8)))
}

func TestWeakSlotClearedWhenReferentDies(t *testing.T) {
	m := NewMarker(4096)
	m.Begin()

	live := object.Ref(8)
	dead := object.Ref(56)
	liveSlot, deadSlot := live, dead

	m.Mark(live)
	m.MarkWeak(&liveSlot)
	m.MarkWeak(&deadSlot)
	m.EndMarking()

	assert.Equal(t, 1, m.ClearDeadWeak())
	assert.Equal(t, live, liveSlot, "live referent survives")
	assert.Equal(t, object.Nil, deadSlot, "dead referent cleared")
}

func TestRemoveWeak(t *testing.T) {
	m := NewMarker(4096)
	m.Begin()

	slot := object.Ref(56) // never marked
	m.MarkWeak(&slot)
	m.RemoveWeak(&slot)
	m.EndMarking()

	assert.Zero(t, m.ClearDeadWeak())
	assert.Equal(t, object.Ref(56), slot, "withdrawn slot left untouched")
}

func TestBarrierRememberAndUnprotect(t *testing.T) {
	b := NewBarrier()
	a := object.Ref(8)

	b.Record(a)
	assert.True(t, b.Remembered(a))

	b.BeginCycle()
	assert.False(t, b.Remembered(a), "remembered set is per-cycle")

	b.Unprotect(a)
	b.Record(a)
	assert.False(t, b.Remembered(a), "unprotected objects are not tracked")
	assert.True(t, b.Unprotected(a))

	b.BeginCycle()
	assert.True(t, b.Unprotected(a), "unprotection is permanent")

	b.Remember(a)
	assert.True(t, b.Remembered(a), "Remember bypasses the write filter")

	b.Drop(a)
	assert.False(t, b.Remembered(a))
	assert.False(t, b.Unprotected(a))
}
