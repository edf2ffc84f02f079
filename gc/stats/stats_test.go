package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	s := New()
	s.RecordAllocation(40)
	s.RecordAllocation(640)
	s.RecordFree(40)
	s.RecordRefill()

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap["objects_allocated"])
	assert.Equal(t, int64(680), snap["bytes_allocated"])
	assert.Equal(t, int64(1), snap["objects_freed"])
	assert.Equal(t, int64(40), snap["bytes_freed"])
	assert.Equal(t, int64(1), snap["live_objects"])
	assert.Equal(t, int64(1), snap["cache_refills"])
}

func TestCycleInfoAndTimeMeasurement(t *testing.T) {
	s := New()

	// Measurement off: duration not accumulated.
	n := s.BeginCycle()
	s.EndCycle(GCInfo{Count: n, Reason: ReasonRequested, Duration: time.Millisecond})
	assert.Zero(t, s.TotalTime())

	s.SetMeasureTotalTime(true)
	n = s.BeginCycle()
	s.EndCycle(GCInfo{Count: n, Reason: ReasonExhaustion, Duration: 2 * time.Millisecond, Swept: 7})

	assert.Equal(t, 2*time.Millisecond, s.TotalTime())
	assert.Equal(t, int64(2), s.Count())

	latest := s.LatestGCInfo()
	assert.Equal(t, int64(2), latest.Count)
	assert.Equal(t, ReasonExhaustion, latest.Reason)
	assert.Equal(t, int64(7), latest.Swept)
}

func TestAbortedCycleCounted(t *testing.T) {
	s := New()
	s.EndCycle(GCInfo{Count: s.BeginCycle(), Aborted: true})
	assert.Equal(t, int64(1), s.Snapshot()["aborted_count"])
}

func TestCollectorRegistersAndGathers(t *testing.T) {
	s := New()
	s.RecordAllocation(80)

	c := NewCollector(s)
	c.HeapUsedBytes = func() int64 { return 88 }
	c.HeapCapacityBytes = func() int64 { return 4096 }

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, f := range families {
		byName[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue() +
			f.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, float64(1), byName["gckit_gc_objects_allocated_total"])
	assert.Equal(t, float64(80), byName["gckit_gc_allocated_bytes_total"])
	assert.Equal(t, float64(88), byName["gckit_gc_heap_used_bytes"])
	assert.Equal(t, float64(4096), byName["gckit_gc_heap_capacity_bytes"])
}
