// Package trace holds the collector-side state for a collection cycle: the
// mark bitmap, the gray stack, weak slot registrations, pins, and the write
// barrier's remembered set.
//
// The marker is only touched between Begin and the end of sweep, while the
// world is stopped, so it carries no locking. The barrier is driven by
// mutators at arbitrary times and synchronizes internally.
package trace

import (
	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/internal/layout"
)

// Marker tracks reachability for one collection cycle at a time. Mark bits
// live in a side bitmap indexed by payload word offset, so marking never
// writes into object headers.
type Marker struct {
	bitmap []uint64
	gray   []object.Ref
	weak   []*object.Ref
	pinned map[object.Ref]struct{}

	marking bool
	marked  int64
}

// NewMarker returns a marker sized for an arena of the given byte capacity.
func NewMarker(arenaBytes int64) *Marker {
	words := arenaBytes / layout.WordSize
	return &Marker{
		bitmap: make([]uint64, (words+63)/64),
		pinned: make(map[object.Ref]struct{}),
	}
}

// Begin resets the marker for a new cycle. Mark bits from the previous cycle
// are cleared; weak registrations and pins are per-cycle state.
func (m *Marker) Begin() {
	clear(m.bitmap)
	m.gray = m.gray[:0]
	m.weak = m.weak[:0]
	clear(m.pinned)
	m.marking = true
	m.marked = 0
}

// EndMarking transitions out of the marking phase. Weak slots must be
// cleared (ClearDeadWeak) before sweep recycles their referents.
func (m *Marker) EndMarking() {
	m.marking = false
}

// Marking reports whether a marking phase is in progress.
func (m *Marker) Marking() bool {
	return m.marking
}

func (m *Marker) bit(ref object.Ref) (int, uint64) {
	w := int64(ref) / layout.WordSize
	return int(w / 64), 1 << (uint(w) % 64)
}

// Mark records ref as reachable and, if this is the first visit, pushes it
// on the gray stack for child enumeration. Returns true on the first visit.
func (m *Marker) Mark(ref object.Ref) bool {
	if ref == object.Nil {
		return false
	}
	i, b := m.bit(ref)
	if m.bitmap[i]&b != 0 {
		return false
	}
	m.bitmap[i] |= b
	m.gray = append(m.gray, ref)
	m.marked++
	return true
}

// MarkedCount returns the number of objects reached so far this cycle.
func (m *Marker) MarkedCount() int64 {
	return m.marked
}

// Pin marks ref and additionally forbids the cycle from relocating it. The
// reference collector never moves objects, but pins are tracked so a moving
// collector plugged into the same seam can honor them.
func (m *Marker) Pin(ref object.Ref) {
	m.Mark(ref)
	m.pinned[ref] = struct{}{}
}

// Pinned reports whether ref was pinned during the current cycle.
func (m *Marker) Pinned(ref object.Ref) bool {
	_, ok := m.pinned[ref]
	return ok
}

// Marked reports whether ref was reached during the current cycle.
func (m *Marker) Marked(ref object.Ref) bool {
	if ref == object.Nil {
		return false
	}
	i, b := m.bit(ref)
	return m.bitmap[i]&b != 0
}

// PopGray removes and returns the next object awaiting child enumeration.
func (m *Marker) PopGray() (object.Ref, bool) {
	if len(m.gray) == 0 {
		return object.Nil, false
	}
	ref := m.gray[len(m.gray)-1]
	m.gray = m.gray[:len(m.gray)-1]
	return ref, true
}

// MarkWeak registers a slot whose referent must not be kept alive by this
// reference. If the referent dies this cycle, the slot is overwritten with
// Nil before sweep.
func (m *Marker) MarkWeak(slot *object.Ref) {
	m.weak = append(m.weak, slot)
}

// RemoveWeak withdraws a previously registered weak slot, typically because
// its owner is tearing the entry down mid-cycle.
func (m *Marker) RemoveWeak(slot *object.Ref) {
	for i, s := range m.weak {
		if s == slot {
			m.weak[i] = m.weak[len(m.weak)-1]
			m.weak = m.weak[:len(m.weak)-1]
			return
		}
	}
}

// ClearDeadWeak overwrites every registered weak slot whose referent was not
// marked. Must run after marking completes and before sweep recycles slots.
// Returns the number of slots cleared.
func (m *Marker) ClearDeadWeak() int {
	cleared := 0
	for _, slot := range m.weak {
		if *slot != object.Nil && !m.Marked(*slot) {
			*slot = object.Nil
			cleared++
		}
	}
	m.weak = m.weak[:0]
	return cleared
}
