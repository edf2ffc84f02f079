package sizeclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRoundsUp(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{1, 40},
		{24, 40},
		{40, 40},
		{41, 80},
		{80, 80},
		{81, 160},
		{160, 160},
		{161, 320},
		{320, 320},
		{321, 640},
		{640, 640},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.in), "Classify(%d)", c.in)
	}
}

// Classify on every size up to the largest class must return the smallest
// table entry that fits.
func TestClassifyExhaustive(t *testing.T) {
	for n := int64(1); n <= Largest; n++ {
		got := Classify(n)
		require.GreaterOrEqual(t, got, n)
		// No smaller class fits.
		idx := IndexFor(got)
		if idx > 0 {
			require.Greater(t, n, SizeAt(idx-1), "size %d should not fit class %d", n, SizeAt(idx-1))
		}
	}
}

func TestClassifyTooLargeIsFatal(t *testing.T) {
	assert.Panics(t, func() { Classify(Largest + 1) })
	assert.Panics(t, func() { Classify(0) })
	assert.Panics(t, func() { Classify(-8) })
}

func TestIndexForRoundTrip(t *testing.T) {
	for i := range NumClasses {
		assert.Equal(t, i, IndexFor(SizeAt(i)))
	}
	assert.Panics(t, func() { IndexFor(Largest + 1) })
}

func TestAllocatable(t *testing.T) {
	assert.True(t, Allocatable(1))
	assert.True(t, Allocatable(Largest))
	assert.False(t, Allocatable(Largest+1))
	assert.False(t, Allocatable(0))
}

func TestSizesTerminatedBySentinel(t *testing.T) {
	s := Sizes()
	require.Len(t, s, NumClasses+1)
	assert.Zero(t, s[NumClasses])
	for i := 1; i < NumClasses; i++ {
		assert.Greater(t, s[i], s[i-1], "table must strictly increase")
	}
}
