package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes backend statistics as Prometheus metrics under the
// "gckit_gc_" prefix. It reads the live counters at scrape time, so it can
// be registered once and left alone; the heap callbacks are optional and
// report zero when unset.
type Collector struct {
	stats *Stats

	// Optional heap gauges supplied by the backend.
	HeapUsedBytes     func() int64
	HeapCapacityBytes func() int64

	descCollections *prometheus.Desc
	descAborted     *prometheus.Desc
	descPauseNanos  *prometheus.Desc
	descAllocated   *prometheus.Desc
	descAllocBytes  *prometheus.Desc
	descFreed       *prometheus.Desc
	descFreedBytes  *prometheus.Desc
	descLive        *prometheus.Desc
	descRefills     *prometheus.Desc
	descHeapUsed    *prometheus.Desc
	descHeapCap     *prometheus.Desc
}

// NewCollector wraps s in a prometheus.Collector.
func NewCollector(s *Stats) *Collector {
	return &Collector{
		stats: s,
		descCollections: prometheus.NewDesc("gckit_gc_collections_total",
			"Collection cycles started", nil, nil),
		descAborted: prometheus.NewDesc("gckit_gc_collections_aborted_total",
			"Collection cycles whose sweep was aborted", nil, nil),
		descPauseNanos: prometheus.NewDesc("gckit_gc_pause_nanoseconds_total",
			"Accumulated pause time (only while measurement is enabled)", nil, nil),
		descAllocated: prometheus.NewDesc("gckit_gc_objects_allocated_total",
			"Objects allocated", nil, nil),
		descAllocBytes: prometheus.NewDesc("gckit_gc_allocated_bytes_total",
			"Bytes committed to allocated slots", nil, nil),
		descFreed: prometheus.NewDesc("gckit_gc_objects_freed_total",
			"Slots reclaimed by sweep", nil, nil),
		descFreedBytes: prometheus.NewDesc("gckit_gc_freed_bytes_total",
			"Bytes reclaimed by sweep", nil, nil),
		descLive: prometheus.NewDesc("gckit_gc_live_objects",
			"Currently live objects", nil, nil),
		descRefills: prometheus.NewDesc("gckit_gc_cache_refills_total",
			"Mutator cache refills from the central free lists", nil, nil),
		descHeapUsed: prometheus.NewDesc("gckit_gc_heap_used_bytes",
			"Arena bytes carved into slots", nil, nil),
		descHeapCap: prometheus.NewDesc("gckit_gc_heap_capacity_bytes",
			"Arena reservation", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descCollections
	ch <- c.descAborted
	ch <- c.descPauseNanos
	ch <- c.descAllocated
	ch <- c.descAllocBytes
	ch <- c.descFreed
	ch <- c.descFreedBytes
	ch <- c.descLive
	ch <- c.descRefills
	ch <- c.descHeapUsed
	ch <- c.descHeapCap
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	counter := func(d *prometheus.Desc, key string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(snap[key]))
	}
	counter(c.descCollections, "count")
	counter(c.descAborted, "aborted_count")
	counter(c.descPauseNanos, "time_ns")
	counter(c.descAllocated, "objects_allocated")
	counter(c.descAllocBytes, "bytes_allocated")
	counter(c.descFreed, "objects_freed")
	counter(c.descFreedBytes, "bytes_freed")
	counter(c.descRefills, "cache_refills")
	ch <- prometheus.MustNewConstMetric(c.descLive, prometheus.GaugeValue, float64(snap["live_objects"]))

	var used, capacity int64
	if c.HeapUsedBytes != nil {
		used = c.HeapUsedBytes()
	}
	if c.HeapCapacityBytes != nil {
		capacity = c.HeapCapacityBytes()
	}
	ch <- prometheus.MustNewConstMetric(c.descHeapUsed, prometheus.GaugeValue, float64(used))
	ch <- prometheus.MustNewConstMetric(c.descHeapCap, prometheus.GaugeValue, float64(capacity))
}
