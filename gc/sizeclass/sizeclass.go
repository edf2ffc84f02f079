// Package sizeclass defines the fixed table of allocation sizes served by the
// backend. Every allocation request is rounded up to the smallest class that
// fits; requests above the largest class are a caller defect, not a runtime
// error, because the runtime is expected to pre-validate with Allocatable.
package sizeclass

import "fmt"

// sizes is the ascending table of slot sizes in bytes. The terminal zero is
// the "unbounded" sentinel matching the wire form handed to the runtime; it
// is never a valid class.
var sizes = [...]int64{40, 80, 160, 320, 640, 0}

// NumClasses is the number of finite size classes.
const NumClasses = len(sizes) - 1

// Largest is the largest finite size class. Requests above it cannot be
// served by the slot allocator.
const Largest = 640

// Sizes returns the size table including the terminal sentinel. The runtime
// uses this to build its own per-class bookkeeping; callers must not mutate
// the returned slice.
func Sizes() []int64 {
	return sizes[:]
}

// Allocatable reports whether a request of n bytes can be served by any
// class. This is the soft pre-validation counterpart of Classify.
func Allocatable(n int64) bool {
	return n > 0 && n <= Largest
}

// Classify rounds a requested byte count up to the smallest class that can
// hold it. Panics when the request exceeds the largest class or is not
// positive: the slot allocator never serves such sizes and continuing would
// corrupt the heap.
func Classify(n int64) int64 {
	if n <= 0 || n > Largest {
		panic(fmt.Sprintf("sizeclass: unservable allocation size %d (largest class is %d)", n, Largest))
	}
	for _, s := range sizes[:NumClasses] {
		if n <= s {
			return s
		}
	}
	// Unreachable: n <= Largest guarantees a class above matched.
	panic(fmt.Sprintf("sizeclass: no class for size %d", n))
}

// IndexFor maps a concrete size back to its table position. Used by the heap
// and mutator caches to select per-class free lists. Panics on sizes the
// table does not cover.
func IndexFor(size int64) int {
	for i, s := range sizes[:NumClasses] {
		if size <= s {
			return i
		}
	}
	panic(fmt.Sprintf("sizeclass: size %d beyond largest class %d", size, Largest))
}

// SizeAt returns the slot size of the class at index i.
func SizeAt(i int) int64 {
	return sizes[i]
}
