// Package gc implements a pluggable garbage-collection backend behind the
// narrow seam a managed runtime drives: allocation, collection, write
// barriers, weak references, finalization, and introspection, with the
// runtime's own knowledge (roots, object layouts, resource teardown)
// injected as an upcall table rather than compiled in.
//
// # The seam
//
// The backend and the runtime meet at two call surfaces. Downcalls are the
// exported methods of Backend: the runtime allocates through per-mutator
// caches, requests cycles, toggles stress and pause-time measurement, and
// reads statistics. Upcalls are the capability table bound with Bind before
// Init: during a cycle the backend asks the runtime to enumerate roots
// (MarkRoots) and object children (MarkObjectChildren), and to release
// runtime-side resources of reclaimed objects (ObjFree). Required
// capabilities are verified at bind time, so a missing one is a boot
// failure rather than a crash mid-collection.
//
// # Heap shape
//
// Objects live in one contiguous arena reserved at Init. Every allocation
// is rounded up to a fixed size class (40, 80, 160, 320, or 640 bytes) and
// carries an eight-byte header word directly before its payload recording
// the committed slot size; the runtime reads it back through SlotSizeOf.
// The first payload words are fixed by contract: flags, class reference,
// then up to three inline value words depending on the slot size. A
// reference is the payload's byte offset into the arena, never a raw
// pointer, so references stay stable across process address-space layout
// and serialize trivially.
//
// # Allocation
//
// Each logical execution unit owns a Cache (NewCache) holding per-class
// runs of free slots. The fast path pops a slot from a run with no locking;
// an empty run refills in a batch from the heap's central free lists under
// the heap lock. When the heap cannot supply a batch the cache triggers a
// collection and retries once; exhaustion after a full cycle is fatal.
//
// # Collection
//
// The reference collector is a non-moving stop-the-world mark-sweep: the
// runtime brings its mutators to safe points and calls Start (or the
// backend collects on exhaustion). Marking drains a gray stack through the
// MarkObjectChildren upcall, weak slots registered during marking are
// cleared when their referents die, and sweep returns dead slots to the
// central lists, running any pending finalizer for each. ObjectMoved is
// always false and Location is the identity; the seam still carries pins
// and MarkAndMove so a compacting collector can replace this one without
// changing the runtime.
//
// # Lifecycle
//
// A Backend moves through bind, init, running, optional disabled windows
// (Disable/Enable), and a single shutdown. Shutdown drains the
// finalization registry exactly once, in registration order, filtered by
// the runtime's ShutdownRequiresFinalize capability when bound. Operations
// after shutdown, double init, and double shutdown are defects and panic;
// allocation while disabled is an ordinary ErrDisabled the runtime may
// retry.
package gc
