// Package layout houses the low-level slot encoding shared by the allocator
// and the collector. The goal is to keep the byte-level layout in one place,
// allocation-free, and independent from the public API so both sides of the
// runtime/backend seam agree on field positions without negotiation per call.
package layout

import "encoding/binary"

const (
	// WordSize is the size of a heap word in bytes. Every slot field (header,
	// flags, type reference, inline values) occupies exactly one word.
	WordSize = 8

	// SlotHeaderSize is the number of bytes used by the header word preceding
	// every slot payload. The header stores the committed slot size plus the
	// allocated bit.
	SlotHeaderSize = WordSize

	// WordAlignment is the required alignment of slots within the arena.
	WordAlignment = 8

	// WordAlignmentMask is the bitmask used for aligning to word boundaries.
	WordAlignmentMask = WordAlignment - 1

	// Payload word positions, relative to the start of the payload.
	FlagsWord  = 0 // object flags
	KlassWord  = 1 // owning type reference
	InlineWord = 2 // first of up to three inline value words

	// FixedWords is the number of payload words consumed before inline
	// values (flags + klass).
	FixedWords = 2

	// MaxInlineWords is the maximum number of inline value words a slot may
	// carry, regardless of how large its size class is.
	MaxInlineWords = 3
)

// allocatedBit is the low bit of the slot header word. Slot sizes are always
// word-aligned, so the low three bits of the size are free for flags.
const allocatedBit = 1

// ReadWord decodes a little-endian word at off.
func ReadWord(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+WordSize])
}

// PutWord encodes v as a little-endian word at off.
func PutWord(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+WordSize], v)
}

// PackSlotHeader builds the header word for a slot of the given committed
// size. The size must already be word-aligned.
func PackSlotHeader(size int64, allocated bool) uint64 {
	w := uint64(size)
	if allocated {
		w |= allocatedBit
	}
	return w
}

// SlotSize extracts the committed slot size from a header word.
func SlotSize(w uint64) int64 {
	return int64(w &^ uint64(WordAlignmentMask))
}

// SlotAllocated reports whether the header word marks the slot as allocated.
func SlotAllocated(w uint64) bool {
	return w&allocatedBit != 0
}
