package layout

// Alignment utilities for the slot arena. Every slot and every slot field is
// aligned to 8-byte word boundaries.

// AlignWord returns n aligned up to the next word boundary.
//
// Example:
//
//	AlignWord(1)  = 8
//	AlignWord(8)  = 8
//	AlignWord(9)  = 16
func AlignWord(n int64) int64 {
	return (n + WordAlignmentMask) & ^int64(WordAlignmentMask)
}

// Aligned reports whether n sits on a word boundary.
func Aligned(n int64) bool {
	return n&WordAlignmentMask == 0
}
