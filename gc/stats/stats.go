// Package stats is the read-only introspection surface of the backend:
// allocation and collection counters, per-cycle info, and an optional
// Prometheus collector over the same numbers. It observes; it never steers.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collection trigger reasons reported in GCInfo.
const (
	ReasonRequested  = "requested"
	ReasonExhaustion = "exhaustion"
	ReasonStress     = "stress"
	ReasonShutdown   = "shutdown"
)

// GCInfo describes the most recent collection cycle.
type GCInfo struct {
	Count       int64 // cycle ordinal, 1-based
	Reason      string
	Aborted     bool // sweep skipped by Disable(finishInProgress=false)
	Duration    time.Duration
	Marked      int64 // objects reached during marking
	Swept       int64 // slots reclaimed
	WeakCleared int64
}

// Stats accumulates backend counters. All counters are updated with atomics
// so the hot allocation path never takes a lock to account itself.
type Stats struct {
	objectsAllocated atomic.Int64
	bytesAllocated   atomic.Int64
	objectsFreed     atomic.Int64
	bytesFreed       atomic.Int64
	refills          atomic.Int64
	collections      atomic.Int64
	aborted          atomic.Int64

	measureTime atomic.Bool
	totalNanos  atomic.Int64

	mu     sync.Mutex
	latest GCInfo
}

// New returns zeroed statistics.
func New() *Stats {
	return &Stats{}
}

// RecordAllocation accounts one allocation of the given committed size.
func (s *Stats) RecordAllocation(bytes int64) {
	s.objectsAllocated.Add(1)
	s.bytesAllocated.Add(bytes)
}

// RecordFree accounts one reclaimed slot.
func (s *Stats) RecordFree(bytes int64) {
	s.objectsFreed.Add(1)
	s.bytesFreed.Add(bytes)
}

// RecordRefill accounts one central-list refill (the slow allocation path).
func (s *Stats) RecordRefill() {
	s.refills.Add(1)
}

// BeginCycle assigns the next cycle ordinal.
func (s *Stats) BeginCycle() int64 {
	return s.collections.Add(1)
}

// EndCycle records the outcome of a finished cycle. Duration is only
// accumulated into the total when measurement is enabled.
func (s *Stats) EndCycle(info GCInfo) {
	if info.Aborted {
		s.aborted.Add(1)
	}
	if s.measureTime.Load() {
		s.totalNanos.Add(int64(info.Duration))
	}
	s.mu.Lock()
	s.latest = info
	s.mu.Unlock()
}

// SetMeasureTotalTime toggles pause-time accumulation.
func (s *Stats) SetMeasureTotalTime(on bool) {
	s.measureTime.Store(on)
}

// MeasureTotalTime reports whether pause-time accumulation is enabled.
func (s *Stats) MeasureTotalTime() bool {
	return s.measureTime.Load()
}

// TotalTime returns the accumulated pause time.
func (s *Stats) TotalTime() time.Duration {
	return time.Duration(s.totalNanos.Load())
}

// Count returns the number of collection cycles started.
func (s *Stats) Count() int64 {
	return s.collections.Load()
}

// LiveObjects returns allocated minus freed objects.
func (s *Stats) LiveObjects() int64 {
	return s.objectsAllocated.Load() - s.objectsFreed.Load()
}

// LatestGCInfo returns a copy of the most recent cycle's info.
func (s *Stats) LatestGCInfo() GCInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Snapshot returns all counters as a string-keyed map, the shape the runtime
// surfaces to user code.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"count":             s.collections.Load(),
		"major_count":       s.collections.Load(),
		"minor_count":       0, // every cycle is a full collection
		"aborted_count":     s.aborted.Load(),
		"time_ns":           s.totalNanos.Load(),
		"objects_allocated": s.objectsAllocated.Load(),
		"bytes_allocated":   s.bytesAllocated.Load(),
		"objects_freed":     s.objectsFreed.Load(),
		"bytes_freed":       s.bytesFreed.Load(),
		"live_objects":      s.LiveObjects(),
		"cache_refills":     s.refills.Load(),
	}
}
