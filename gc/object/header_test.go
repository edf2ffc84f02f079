package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterzhu2118/gckit/gc/sizeclass"
	"github.com/peterzhu2118/gckit/internal/layout"
)

// newTestSlot lays out a single slot of the given class in a scratch arena
// and returns the arena plus the payload reference.
func newTestSlot(t *testing.T, slotSize int64) ([]byte, Ref) {
	t.Helper()
	arena := make([]byte, layout.SlotHeaderSize+slotSize)
	return arena, Ref(layout.SlotHeaderSize)
}

func TestEncodeAndReadBack(t *testing.T) {
	arena, ref := newTestSlot(t, 80)

	h := Header{
		Flags:  0x0F,
		Klass:  0xC1A55,
		Inline: []Word{11, 22, 33},
	}
	h.EncodeInto(arena, ref, 80)

	assert.Equal(t, int64(80), SlotSizeOf(arena, ref))
	assert.True(t, Allocated(arena, ref))
	assert.Equal(t, Word(0x0F), FlagsOf(arena, ref))
	assert.Equal(t, Word(0xC1A55), KlassOf(arena, ref))
	for i, want := range []Word{11, 22, 33} {
		assert.Equal(t, want, InlineAt(arena, ref, i))
	}
}

func TestSlotSizeMatchesChosenClass(t *testing.T) {
	for _, size := range sizeclass.Sizes()[:sizeclass.NumClasses] {
		arena, ref := newTestSlot(t, size)
		Header{Klass: 1}.EncodeInto(arena, ref, size)
		require.Equal(t, size, SlotSizeOf(arena, ref))
		require.Equal(t, sizeclass.IndexFor(size), ClassIndexOf(arena, ref))
	}
}

func TestValidateRejectsOverflow(t *testing.T) {
	h := Header{Inline: []Word{1, 2, 3, 4}}
	assert.Error(t, h.Validate(640), "four inline words never fit")

	arena, ref := newTestSlot(t, 640)
	assert.Panics(t, func() { h.EncodeInto(arena, ref, 640) })
}

func TestInlineCapacity(t *testing.T) {
	// Every class in the table is large enough for the full three words.
	for _, size := range sizeclass.Sizes()[:sizeclass.NumClasses] {
		assert.Equal(t, 3, InlineCapacity(size), "class %d", size)
	}
	// Degenerate sizes below the table still validate sanely.
	assert.Equal(t, 1, InlineCapacity(24))
	assert.Equal(t, 0, InlineCapacity(16))
	assert.Equal(t, 0, InlineCapacity(8))
}

func TestSetInlineAt(t *testing.T) {
	arena, ref := newTestSlot(t, 40)
	Header{Inline: []Word{1, 2, 3}}.EncodeInto(arena, ref, 40)

	SetInlineAt(arena, ref, 1, 99)
	assert.Equal(t, Word(1), InlineAt(arena, ref, 0))
	assert.Equal(t, Word(99), InlineAt(arena, ref, 1))
	assert.Equal(t, Word(3), InlineAt(arena, ref, 2))
}
