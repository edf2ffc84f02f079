// Package object defines the slot-level view of an allocated object: the
// opaque reference handed to the runtime, and the fixed-offset header both
// sides of the seam read without per-call negotiation.
//
// Slot layout (little-endian words):
//
//	Offset  Size  Description
//	-8      8     Header word. Committed slot size with the allocated bit in
//	              the low bits; the size can always be recovered from a raw
//	              reference without knowing the object's logical type.
//	0       8     Flags word.
//	8       8     Owning type reference (klass).
//	16      8×n   Zero to three inline value words, capacity depending on
//	              the slot's size class.
//
// References are offsets of the payload (flags word) relative to the arena
// base, so the header word always sits at ref-8.
package object

import (
	"fmt"

	"github.com/peterzhu2118/gckit/gc/sizeclass"
	"github.com/peterzhu2118/gckit/internal/layout"
)

// Ref is an opaque object reference: the payload offset of a slot relative
// to the arena base. Nil is never a valid object.
type Ref uint32

// Nil is the zero reference. The first slot's payload starts one header word
// into the arena, so offset zero can never name an object.
const Nil Ref = 0

// Word is a raw payload word (a flags value, type reference, or inline
// field). The backend never interprets payload words; only the runtime does.
type Word = uint64

// Header is the validated record installed at the front of every allocation.
// Inline carries up to three value words; the capacity check happens at
// construction time, not in the allocation path.
type Header struct {
	Flags  Word
	Klass  Word
	Inline []Word
}

// InlineCapacity returns how many inline value words a slot of the given
// size class can carry after the flags and klass words.
func InlineCapacity(slotSize int64) int {
	n := int(slotSize/layout.WordSize) - layout.FixedWords
	if n > layout.MaxInlineWords {
		n = layout.MaxInlineWords
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Validate checks that the header fits a slot of the given size class.
// A header that would overflow its class is a construction defect.
func (h Header) Validate(slotSize int64) error {
	if cap := InlineCapacity(slotSize); len(h.Inline) > cap {
		return fmt.Errorf("object: %d inline words overflow class %d (capacity %d)", len(h.Inline), slotSize, cap)
	}
	return nil
}

// EncodeInto writes the header word and payload fields for a freshly
// allocated slot. The slot size recorded in the header word is exactly the
// size class chosen at allocation time. Panics when the header overflows the
// class: by the time a slot has been carved, an oversized header is a defect.
func (h Header) EncodeInto(arena []byte, ref Ref, slotSize int64) {
	if err := h.Validate(slotSize); err != nil {
		panic("gc: " + err.Error())
	}
	base := int(ref)
	layout.PutWord(arena, base-layout.SlotHeaderSize, layout.PackSlotHeader(slotSize, true))
	layout.PutWord(arena, base+layout.FlagsWord*layout.WordSize, h.Flags)
	layout.PutWord(arena, base+layout.KlassWord*layout.WordSize, h.Klass)
	for i, v := range h.Inline {
		layout.PutWord(arena, base+(layout.InlineWord+i)*layout.WordSize, v)
	}
}

// SlotSizeOf reads the committed slot size back from an object's header
// word. O(1), independent of the object's logical type.
func SlotSizeOf(arena []byte, ref Ref) int64 {
	return layout.SlotSize(layout.ReadWord(arena, int(ref)-layout.SlotHeaderSize))
}

// Allocated reports whether the slot behind ref is currently allocated.
func Allocated(arena []byte, ref Ref) bool {
	return layout.SlotAllocated(layout.ReadWord(arena, int(ref)-layout.SlotHeaderSize))
}

// FlagsOf reads the flags word.
func FlagsOf(arena []byte, ref Ref) Word {
	return layout.ReadWord(arena, int(ref)+layout.FlagsWord*layout.WordSize)
}

// KlassOf reads the owning type reference.
func KlassOf(arena []byte, ref Ref) Word {
	return layout.ReadWord(arena, int(ref)+layout.KlassWord*layout.WordSize)
}

// InlineAt reads the i-th inline value word. The caller is responsible for
// staying within the capacity of the object's class; i is not range-checked
// against the class on this hot read path.
func InlineAt(arena []byte, ref Ref, i int) Word {
	return layout.ReadWord(arena, int(ref)+(layout.InlineWord+i)*layout.WordSize)
}

// SetInlineAt overwrites the i-th inline value word.
func SetInlineAt(arena []byte, ref Ref, i int, v Word) {
	layout.PutWord(arena, int(ref)+(layout.InlineWord+i)*layout.WordSize, v)
}

// ClassIndexOf maps an object's committed slot size back to its size-class
// index. Round-trip property: an object allocated with class C satisfies
// ClassIndexOf(obj) == sizeclass.IndexFor(C).
func ClassIndexOf(arena []byte, ref Ref) int {
	return sizeclass.IndexFor(SlotSizeOf(arena, ref))
}
