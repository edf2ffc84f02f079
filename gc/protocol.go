package gc

import (
	"time"

	"github.com/peterzhu2118/gckit/gc/finalize"
	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/gc/stats"
)

// The tracing protocol below is the Runtime→Backend half of the seam. Every
// operation is only legal while a collection cycle is marking; the runtime
// calls them from inside the MarkRoots and MarkObjectChildren upcalls.
// Invoking one outside a cycle is a defect, matching the bind-time-checked
// capability discipline on the other side of the seam.

// ensureMarking panics when a tracing operation arrives outside a marking
// phase.
func (b *Backend) ensureMarking(op string) {
	if b.marker == nil || !b.marker.Marking() {
		panic("gc: " + op + " outside a collection cycle")
	}
}

// Mark records obj as reachable this cycle.
func (b *Backend) Mark(obj object.Ref) {
	b.ensureMarking("Mark")
	b.marker.Mark(obj)
}

// MarkAndPin records obj as reachable and forbids relocation. The reference
// collector never moves objects, so the pin is bookkeeping for the contract
// and for introspection.
func (b *Backend) MarkAndPin(obj object.Ref) {
	b.ensureMarking("MarkAndPin")
	b.marker.Pin(obj)
}

// MarkAndMove records the referent of slot as reachable and rewrites the
// slot with the object's current location. Non-moving collector: the
// location is always the identity, so only the mark happens.
func (b *Backend) MarkAndMove(slot *object.Ref) {
	b.ensureMarking("MarkAndMove")
	b.marker.Mark(*slot)
}

// MarkMaybe marks obj only when it actually names an allocated heap slot.
// This is the conservative path for values that might be stale stack words
// or tagged immediates.
func (b *Backend) MarkMaybe(obj object.Ref) {
	b.ensureMarking("MarkMaybe")
	if b.h.Contains(obj) {
		b.marker.Mark(obj)
	}
}

// MarkWeak registers slot without keeping its referent alive; the slot is
// cleared before sweep if the referent dies this cycle.
func (b *Backend) MarkWeak(slot *object.Ref) {
	b.ensureMarking("MarkWeak")
	b.marker.MarkWeak(slot)
}

// RemoveWeak withdraws a weak slot registered earlier in this cycle,
// typically because owner is dismantling the entry holding it.
func (b *Backend) RemoveWeak(owner object.Ref, slot *object.Ref) {
	b.ensureMarking("RemoveWeak")
	b.marker.RemoveWeak(slot)
}

// ObjectMoved reports whether obj was relocated by a compacting cycle.
// Always false for the non-moving reference collector.
func (b *Backend) ObjectMoved(obj object.Ref) bool {
	b.ensureRunning("ObjectMoved")
	return false
}

// Location returns the current address of obj, following any relocation.
// Identity for the non-moving reference collector.
func (b *Backend) Location(obj object.Ref) object.Ref {
	b.ensureRunning("Location")
	return obj
}

// Pinned reports whether obj was pinned during the current or most recent
// cycle.
func (b *Backend) Pinned(obj object.Ref) bool {
	b.ensureRunning("Pinned")
	return b.marker.Pinned(obj)
}

// OnWrite is the write barrier, invoked on every pointer store of referent
// into container. During marking it grays a referent being hidden behind an
// already-marked container; otherwise it lands the container on the
// remembered set for a generational collector plugged into this seam.
func (b *Backend) OnWrite(container, referent object.Ref) {
	b.ensureLive("OnWrite")
	if b.marker != nil && b.marker.Marking() {
		if b.marker.Marked(container) && !b.marker.Marked(referent) {
			b.marker.Mark(referent)
		}
		return
	}
	b.barrier.Record(container)
}

// WriteBarrierUnprotect permanently disables barrier tracking for obj and
// flags it as a shutdown free candidate, mirroring an object that bypasses
// normal write discipline.
func (b *Backend) WriteBarrierUnprotect(obj object.Ref) {
	b.ensureLive("WriteBarrierUnprotect")
	b.barrier.Unprotect(obj)
}

// WriteBarrierRemember forces obj onto the remembered set without a
// concrete write.
func (b *Backend) WriteBarrierRemember(obj object.Ref) {
	b.ensureLive("WriteBarrierRemember")
	b.barrier.Remember(obj)
}

// Remembered reports whether obj currently sits on the remembered set.
func (b *Backend) Remembered(obj object.Ref) bool {
	return b.barrier.Remembered(obj)
}

// Unprotected reports whether barrier tracking is disabled for obj.
func (b *Backend) Unprotected(obj object.Ref) bool {
	return b.barrier.Unprotected(obj)
}

// ---------------------------------------------------------------------------
// Per-object introspection
// ---------------------------------------------------------------------------

// SlotSizeOf reads the committed slot size back from an object's header.
func (b *Backend) SlotSizeOf(obj object.Ref) int64 {
	b.ensureRunning("SlotSizeOf")
	return object.SlotSizeOf(b.h.Arena(), obj)
}

// PointerToHeap reports whether ref names an allocated slot in the arena.
func (b *Backend) PointerToHeap(ref object.Ref) bool {
	b.ensureRunning("PointerToHeap")
	return b.h.Contains(ref)
}

// EachObject walks every allocated object in address order.
func (b *Backend) EachObject(fn func(object.Ref) bool) {
	b.ensureRunning("EachObject")
	b.h.EachObject(fn)
}

// FreeSlotsByClass returns central free-list occupancy per size class,
// indexed like sizeclass.Sizes(). Embedders use it to pace allocation
// phases against what the arena can still serve.
func (b *Backend) FreeSlotsByClass() []int64 {
	b.ensureRunning("FreeSlotsByClass")
	return b.h.FreeSlotsByClass()
}

// AdjustMemoryUsage records off-arena memory charged against this backend.
func (b *Backend) AdjustMemoryUsage(diff int64) {
	b.ensureLive("AdjustMemoryUsage")
	b.h.AdjustMemoryUsage(diff)
}

// ---------------------------------------------------------------------------
// Finalizers
// ---------------------------------------------------------------------------

// DefineFinalizer attaches an explicit cleanup to obj, run at most once:
// either when sweep reclaims the object or during the shutdown drain.
func (b *Backend) DefineFinalizer(obj object.Ref, fn finalize.Cleanup, ctx any) {
	b.ensureRunning("DefineFinalizer")
	b.registry.Register(obj, fn, ctx)
}

// UndefineFinalizer withdraws obj's pending cleanup, reporting whether one
// existed.
func (b *Backend) UndefineFinalizer(obj object.Ref) bool {
	b.ensureRunning("UndefineFinalizer")
	return b.registry.Unregister(obj)
}

// CopyFinalizer gives dst the same cleanup as src, if src has one.
func (b *Backend) CopyFinalizer(dst, src object.Ref) {
	b.ensureRunning("CopyFinalizer")
	b.registry.Copy(dst, src)
}

// PendingFinalizers returns the number of registered free candidates.
func (b *Backend) PendingFinalizers() int {
	return b.registry.Len()
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// Stats exposes the backend's counters.
func (b *Backend) Stats() *stats.Stats {
	return b.st
}

// Count returns the number of collection cycles started.
func (b *Backend) Count() int64 {
	return b.st.Count()
}

// LatestGCInfo describes the most recent cycle.
func (b *Backend) LatestGCInfo() stats.GCInfo {
	return b.st.LatestGCInfo()
}

// SetMeasureTotalTime toggles pause-time accumulation for future cycles.
func (b *Backend) SetMeasureTotalTime(on bool) {
	b.ensureLive("SetMeasureTotalTime")
	b.st.SetMeasureTotalTime(on)
}

// MeasureTotalTime reports whether pause-time accumulation is enabled.
func (b *Backend) MeasureTotalTime() bool {
	return b.st.MeasureTotalTime()
}

// TotalTime returns the pause time accumulated while measurement was on.
func (b *Backend) TotalTime() time.Duration {
	return b.st.TotalTime()
}

// Snapshot returns the statistics map surfaced to the runtime, including
// the runtime's own live-byte count when that upcall is bound.
func (b *Backend) Snapshot() map[string]int64 {
	snap := b.st.Snapshot()
	if b.upcalls.VMLiveBytes != nil {
		snap["vm_live_bytes"] = int64(b.upcalls.VMLiveBytes())
	}
	if b.h != nil {
		snap["heap_used_bytes"] = b.h.UsedBytes()
		snap["heap_capacity_bytes"] = b.h.Capacity()
		snap["heap_free_slots"] = b.h.FreeSlots()
		snap["offheap_bytes"] = b.h.OffHeapBytes()
	}
	return snap
}

// MetricsCollector returns a Prometheus collector over this backend's
// statistics and heap gauges.
func (b *Backend) MetricsCollector() *stats.Collector {
	c := stats.NewCollector(b.st)
	c.HeapUsedBytes = func() int64 {
		if b.h == nil {
			return 0
		}
		return b.h.UsedBytes()
	}
	c.HeapCapacityBytes = func() int64 {
		if b.h == nil {
			return 0
		}
		return b.h.Capacity()
	}
	return c
}
