package main

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/peterzhu2118/gckit/cmd/gcstress/logger"
	"github.com/peterzhu2118/gckit/gc"
	"github.com/peterzhu2118/gckit/gc/heap"
	"github.com/peterzhu2118/gckit/gc/mutator"
	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/gc/sizeclass"
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().Int64("heap-size", 64<<20, "Arena size in bytes")
	cmd.Flags().Int("batch", mutator.DefaultBatch, "Mutator cache refill batch size")
	cmd.Flags().Int("rounds", 100, "Number of allocation rounds")
	cmd.Flags().Int("mutators", 4, "Concurrent mutator caches")
	cmd.Flags().Int("objects", 1000, "Objects allocated per round")
	cmd.Flags().Float64("survival", 0.2, "Fraction of each round's objects that join the live graph")
	cmd.Flags().Int("live-cap", 10000, "Maximum live roots before the oldest are abandoned")
	cmd.Flags().Bool("gc-stress", false, "Collect on every cache refill (forces a single mutator)")
	cmd.Flags().Bool("measure-time", true, "Accumulate total pause time")
	cmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	_ = viper.BindPFlags(cmd.Flags())
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic allocation workload against a backend",
		Long: `The run command allocates linked object graphs over a number of rounds.
Within a round, mutators allocate and link objects concurrently; between
rounds all mutators reach a safe point and a full collection cycle runs.
A fraction of each round's objects survives into the shared live graph,
the rest become garbage for the next cycle.

Each round is budgeted against what the arena can still serve, so
collections only ever run at the safe point between rounds; a mutator
that spends the budget parks until the next round.

Example:
  gcstress run --rounds 200 --mutators 8
  gcstress run --heap-size 134217728 --metrics-addr :9090
  gcstress run --gc-stress --rounds 20 --objects 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload()
		},
	}
}

// world is the synthetic runtime on the far side of the upcall table: a flat
// root set and a child adjacency map, mutated only at safe points or under
// its lock.
type world struct {
	mu       sync.Mutex
	roots    []object.Ref
	children map[object.Ref][]object.Ref
	freed    atomic.Int64
}

func newWorld() *world {
	return &world{children: make(map[object.Ref][]object.Ref)}
}

func (w *world) upcalls() gc.Upcalls {
	return gc.Upcalls{
		MarkRoots: func(t gc.Tracer) {
			w.mu.Lock()
			defer w.mu.Unlock()
			for _, r := range w.roots {
				t.Mark(r)
			}
		},
		MarkObjectChildren: func(t gc.Tracer, obj object.Ref) {
			w.mu.Lock()
			defer w.mu.Unlock()
			for _, c := range w.children[obj] {
				t.Mark(c)
			}
		},
		ObjFree: func(obj object.Ref) {
			w.mu.Lock()
			delete(w.children, obj)
			w.mu.Unlock()
			w.freed.Add(1)
		},
	}
}

// link adds an edge and reports it through the write barrier.
func (w *world) link(b *gc.Backend, parent, child object.Ref) {
	w.mu.Lock()
	w.children[parent] = append(w.children[parent], child)
	w.mu.Unlock()
	b.OnWrite(parent, child)
}

// adopt appends survivors to the root set, abandoning the oldest roots past
// the limit. Called at safe points only.
func (w *world) adopt(survivors []object.Ref, limit int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roots = append(w.roots, survivors...)
	if len(w.roots) > limit {
		w.roots = w.roots[len(w.roots)-limit:]
	}
}

// payloadSizes cycles through every size class the backend serves.
var payloadSizes = []int64{24, 72, 150, 300, 600}

// classOf maps payloadSizes positions to size-class indexes.
var classOf = func() []int {
	idx := make([]int, len(payloadSizes))
	for i, s := range payloadSizes {
		idx[i] = sizeclass.IndexFor(sizeclass.Classify(s))
	}
	return idx
}()

// roundBudget bounds one allocation phase to what the heap can serve without
// a refill hitting exhaustion. An exhaustion-triggered cycle inside a
// mutator would trace the graph while the other mutators are still
// allocating and linking, so collections must stay at the round barrier.
// Workers draw slots from the per-class free credit first, then from the
// shared carve headroom, and park for the round when both run out.
type roundBudget struct {
	bump    atomic.Int64
	byClass [sizeclass.NumClasses]atomic.Int64
}

// reset reloads the budget from the heap's exact state. Called at the round
// barrier only, with no mutator running.
func (rb *roundBudget) reset(b *gc.Backend, mutators, batch int) {
	for i, n := range b.FreeSlotsByClass() {
		rb.byClass[i].Store(n)
	}
	// Refills carve whole batches, so each cache can hold up to a batch of
	// slots per class beyond what take accounted for. Reserve that much of
	// the headroom.
	var slack int64
	for i := 0; i < sizeclass.NumClasses; i++ {
		slack += heap.SlotFootprint(i)
	}
	slack *= int64(mutators * batch)
	snap := b.Snapshot()
	rb.bump.Store(snap["heap_capacity_bytes"] - snap["heap_used_bytes"] - slack)
}

// take reserves one slot of the given class, reporting false when the round
// is out of budget.
func (rb *roundBudget) take(class int) bool {
	if rb.byClass[class].Add(-1) >= 0 {
		return true
	}
	rb.byClass[class].Add(1)
	return rb.bump.Add(-heap.SlotFootprint(class)) >= 0
}

func runWorkload() error {
	heapSize := viper.GetInt64("heap-size")
	batch := viper.GetInt("batch")
	rounds := viper.GetInt("rounds")
	mutators := viper.GetInt("mutators")
	objects := viper.GetInt("objects")
	survival := viper.GetFloat64("survival")
	liveCap := viper.GetInt("live-cap")
	stress := viper.GetBool("gc-stress")
	measure := viper.GetBool("measure-time")
	metricsAddr := viper.GetString("metrics-addr")

	if stress && mutators > 1 {
		logger.Warn("gc-stress forces a single mutator", "requested", mutators)
		mutators = 1
	}

	w := newWorld()
	b := gc.New()
	if err := b.SetConfig(map[string]string{
		gc.ConfigHeapSize:   strconv.FormatInt(heapSize, 10),
		gc.ConfigCacheBatch: strconv.Itoa(batch),
	}); err != nil {
		return fmt.Errorf("configuring backend: %w", err)
	}
	if err := b.Bind(w.upcalls()); err != nil {
		return fmt.Errorf("binding upcalls: %w", err)
	}
	if err := b.Init(); err != nil {
		return fmt.Errorf("initializing backend: %w", err)
	}
	b.SetMeasureTotalTime(measure)
	b.SetStress(stress)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(b.MetricsCollector())
		go func() {
			logger.Info("serving metrics", "addr", metricsAddr)
			err := http.ListenAndServe(metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Error("metrics server stopped", "error", err)
		}()
	}

	logger.Info("starting workload",
		"heap_size", heapSize, "rounds", rounds, "mutators", mutators,
		"objects_per_round", objects, "stress", stress)

	start := time.Now()
	perWorker := objects / mutators
	if perWorker == 0 {
		perWorker = 1
	}

	caches := make([]*mutator.Cache, mutators)
	for i := range caches {
		caches[i] = b.NewCache()
	}
	defer func() {
		for _, c := range caches {
			if !c.Destroyed() {
				c.Destroy()
			}
		}
	}()

	var budget roundBudget
	for round := 0; round < rounds; round++ {
		budget.reset(b, mutators, batch)
		if round == 0 && budget.bump.Load() <= 0 {
			logger.Warn("arena too small for the configured workload; mutators will park early",
				"heap_size", heapSize)
		}

		survivorLists := make([][]object.Ref, mutators)
		var wg sync.WaitGroup
		for i := 0; i < mutators; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				survivorLists[id] = mutate(b, w, caches[id], &budget, id, perWorker, survival)
			}(i)
		}
		wg.Wait()

		// Safe point: every mutator has parked, adopt survivors and run a
		// full cycle over the updated graph.
		for _, s := range survivorLists {
			w.adopt(s, liveCap)
		}
		if err := b.Start(); err != nil {
			return fmt.Errorf("collection in round %d: %w", round, err)
		}
		info := b.LatestGCInfo()
		logger.Debug("round complete", "round", round,
			"marked", info.Marked, "swept", info.Swept, "duration", info.Duration)
	}
	elapsed := time.Since(start)

	report(b, w, elapsed)

	for _, c := range caches {
		c.Destroy()
	}
	b.Shutdown()
	logger.Info("backend shut down", "objects_freed_total", w.freed.Load())
	return nil
}

// mutate is one mutator's share of a round: allocate linked nodes through
// the worker's cache, keep a sampled fraction as survivors, abandon the
// rest. Every allocation is drawn from the round budget first, so the cache
// never reaches the exhaustion path while other mutators are running.
func mutate(b *gc.Backend, w *world, cache *mutator.Cache, budget *roundBudget, id, count int, survival float64) []object.Ref {
	rng := rand.New(rand.NewPCG(uint64(id), uint64(count)))
	var survivors []object.Ref
	var prev object.Ref

	for i := 0; i < count; i++ {
		pick := rng.IntN(len(payloadSizes))
		size := payloadSizes[pick]
		if !budget.take(classOf[pick]) {
			logger.Debug("mutator parked: round budget spent",
				"mutator", id, "allocated", i)
			return survivors
		}
		hdr := object.Header{
			Flags: uint64(id),
			Klass: uint64(i),
		}
		// A sprinkling of unprotected allocations exercises the
		// finalization path.
		wbProtected := rng.IntN(16) != 0

		ref, err := cache.Allocate(hdr, size, wbProtected)
		if err != nil {
			logger.Error("allocation failed", "mutator", id, "error", err)
			return survivors
		}

		if prev != object.Nil && rng.IntN(2) == 0 {
			w.link(b, prev, ref)
		}
		prev = ref

		if rng.Float64() < survival {
			survivors = append(survivors, ref)
		}
	}
	return survivors
}

// report prints the final statistics with locale-aware number formatting.
func report(b *gc.Backend, w *world, elapsed time.Duration) {
	p := message.NewPrinter(language.English)
	snap := b.Snapshot()

	p.Printf("\nWorkload finished in %v\n", elapsed.Round(time.Millisecond))
	p.Printf("\nCollections:\n")
	p.Printf("  Cycles:            %d\n", snap["count"])
	p.Printf("  Aborted sweeps:    %d\n", snap["aborted_count"])
	if b.MeasureTotalTime() {
		p.Printf("  Total pause time:  %v\n", b.TotalTime().Round(time.Microsecond))
	}
	p.Printf("\nAllocation:\n")
	p.Printf("  Objects allocated: %d\n", snap["objects_allocated"])
	p.Printf("  Bytes allocated:   %d\n", snap["bytes_allocated"])
	p.Printf("  Objects freed:     %d\n", snap["objects_freed"])
	p.Printf("  Bytes freed:       %d\n", snap["bytes_freed"])
	p.Printf("  Live objects:      %d\n", snap["live_objects"])
	p.Printf("  Cache refills:     %d\n", snap["cache_refills"])
	p.Printf("\nHeap:\n")
	p.Printf("  Used bytes:        %d\n", snap["heap_used_bytes"])
	p.Printf("  Capacity:          %d\n", snap["heap_capacity_bytes"])
	p.Printf("  Free slots:        %d\n", snap["heap_free_slots"])
	p.Printf("  Runtime frees:     %d\n", w.freed.Load())
}
