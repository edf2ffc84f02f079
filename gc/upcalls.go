package gc

import (
	"fmt"

	"github.com/peterzhu2118/gckit/gc/object"
)

// Tracer is the view of the backend a runtime upcall receives during a
// collection cycle. The runtime marks roots and object children by calling
// back through it.
type Tracer interface {
	// Mark records obj as reachable.
	Mark(obj object.Ref)

	// MarkAndPin records obj as reachable and forbids relocating it this
	// cycle.
	MarkAndPin(obj object.Ref)

	// MarkAndMove records the referent of slot as reachable and rewrites
	// the slot if the object relocated. The slot holds the current
	// location when the call returns.
	MarkAndMove(slot *object.Ref)

	// MarkMaybe marks obj only if it is a valid heap object; arbitrary
	// words (tagged immediates, stale stack values) are ignored.
	MarkMaybe(obj object.Ref)

	// MarkWeak registers slot without keeping its referent alive. The
	// slot is cleared to object.Nil if the referent dies this cycle.
	MarkWeak(slot *object.Ref)
}

// Upcalls is the capability table the runtime binds into the backend: the
// Backend→Runtime half of the seam. Optional capabilities may be left nil;
// Bind verifies at bind time that every capability the backend will invoke
// is present, so an unset capability is a bind-time defect rather than a
// silent no-op at call time.
type Upcalls struct {
	// MarkRoots enumerates the runtime's root references by calling back
	// through the Tracer. Required: collection cannot run without it.
	MarkRoots func(t Tracer)

	// MarkObjectChildren enumerates obj's internal references. Required.
	MarkObjectChildren func(t Tracer, obj object.Ref)

	// ObjFree releases runtime-side resources of an object being
	// reclaimed. Required: it is the cleanup behind every allocation
	// flagged as needing finalization.
	ObjFree func(obj object.Ref)

	// ShutdownRequiresFinalize reports whether obj still needs its
	// cleanup to run during the shutdown drain. Optional; when unbound
	// every pending candidate is treated as eligible.
	ShutdownRequiresFinalize func(obj object.Ref) bool

	// VMLiveBytes reports runtime-tracked live bytes for the statistics
	// surface. Optional.
	VMLiveBytes func() uint64

	// IsMutator reports whether the calling thread is a registered
	// mutator. Optional; when bound, NewCache refuses callers the runtime
	// does not recognize.
	IsMutator func() bool
}

// validate checks that all required capabilities are bound.
func (u Upcalls) validate() error {
	required := []struct {
		name  string
		bound bool
	}{
		{"MarkRoots", u.MarkRoots != nil},
		{"MarkObjectChildren", u.MarkObjectChildren != nil},
		{"ObjFree", u.ObjFree != nil},
	}
	for _, r := range required {
		if !r.bound {
			return fmt.Errorf("%w: %s", ErrUpcallMissing, r.name)
		}
	}
	return nil
}
