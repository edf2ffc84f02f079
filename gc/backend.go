package gc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peterzhu2118/gckit/gc/finalize"
	"github.com/peterzhu2118/gckit/gc/heap"
	"github.com/peterzhu2118/gckit/gc/mutator"
	"github.com/peterzhu2118/gckit/gc/object"
	"github.com/peterzhu2118/gckit/gc/stats"
	"github.com/peterzhu2118/gckit/gc/trace"
)

// state is the backend lifecycle position. Transitions only happen through
// exported Backend operations, under the backend lock.
type state int32

const (
	stateUninitialized state = iota
	stateRunning
	stateDisabled
	stateShuttingDown
	stateTerminated
)

// Allocation gate values, mirrored from state into an atomic so the hot
// path never takes the backend lock.
const (
	gateOpen int32 = iota
	gateDisabled
	gateShutdown
)

// Backend is one pluggable collector instance: all of its state is explicit
// here rather than process-global, so independent backends (production and
// test, or one per embedded runtime) can coexist.
type Backend struct {
	mu   sync.Mutex
	cond *sync.Cond

	state      state
	collecting bool
	abortSweep bool

	gate   atomic.Int32
	stress atomic.Bool

	heapSize   int64
	cacheBatch int

	upcalls Upcalls
	bound   bool

	h        *heap.Heap
	marker   *trace.Marker
	barrier  *trace.Barrier
	registry *finalize.Registry
	st       *stats.Stats
}

// New returns an unbound, uninitialized backend with default configuration.
func New() *Backend {
	heapSize, cacheBatch := defaultConfig()
	b := &Backend{
		heapSize:   heapSize,
		cacheBatch: cacheBatch,
		barrier:    trace.NewBarrier(),
		registry:   finalize.NewRegistry(),
		st:         stats.New(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Bind installs the runtime's upcall table. Must happen before Init so that
// a missing required capability surfaces at boot, not mid-collection.
func (b *Backend) Bind(u Upcalls) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateUninitialized {
		panic("gc: Bind after Init")
	}
	if err := u.validate(); err != nil {
		return err
	}
	b.upcalls = u
	b.bound = true
	return nil
}

// Init reserves the arena and transitions the backend into the running
// state. Initializing twice, or without a bound upcall table, is a defect.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateUninitialized {
		panic("gc: backend initialized twice")
	}
	if !b.bound {
		panic("gc: Init before Bind")
	}
	h, err := heap.New(b.heapSize)
	if err != nil {
		return err
	}
	b.h = h
	b.marker = trace.NewMarker(h.Capacity())
	b.state = stateRunning
	b.gate.Store(gateOpen)
	return nil
}

// ensureLive panics when the backend has begun shutting down. Every
// operation that is a defect after shutdown funnels through here.
func (b *Backend) ensureLive(op string) {
	if s := b.stateSnapshot(); s == stateShuttingDown || s == stateTerminated {
		panic(fmt.Sprintf("gc: %s after shutdown", op))
	}
}

func (b *Backend) stateSnapshot() state {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ensureRunning additionally rejects use before Init.
func (b *Backend) ensureRunning(op string) {
	s := b.stateSnapshot()
	if s == stateUninitialized {
		panic(fmt.Sprintf("gc: %s before Init", op))
	}
	if s == stateShuttingDown || s == stateTerminated {
		panic(fmt.Sprintf("gc: %s after shutdown", op))
	}
}

// NewCache registers a logical execution unit and returns its allocation
// cache. The cache must be destroyed when the unit terminates; the backend
// never creates or destroys caches implicitly.
func (b *Backend) NewCache() *mutator.Cache {
	b.ensureRunning("NewCache")
	if b.upcalls.IsMutator != nil && !b.upcalls.IsMutator() {
		panic("gc: NewCache from a thread the runtime does not consider a mutator")
	}
	b.mu.Lock()
	batch := b.cacheBatch
	b.mu.Unlock()
	return mutator.New(b.h, mutator.Hooks{
		Allowed:          b.allocAllowed,
		BeforeRefill:     b.stressHook,
		OnExhausted:      func() error { return b.collect(stats.ReasonExhaustion) },
		NeedsFinalize:    b.flagFreeCandidate,
		RecordAllocation: b.st.RecordAllocation,
		RecordRefill:     b.st.RecordRefill,
	}, batch)
}

// allocAllowed is the per-allocation gate: a single atomic read on the fast
// path. Allocation after shutdown is a defect; while disabled it is an
// ordinary error the runtime may retry after Enable.
func (b *Backend) allocAllowed() error {
	switch b.gate.Load() {
	case gateOpen:
		return nil
	case gateDisabled:
		return ErrDisabled
	default:
		panic("gc: allocation after shutdown")
	}
}

func (b *Backend) stressHook() {
	if b.stress.Load() {
		// Stress mode collects on every refill; a failure here only means
		// the backend is disabled, which the gate already surfaced.
		_ = b.collect(stats.ReasonStress)
	}
}

// flagFreeCandidate registers an allocation that is not write-barrier
// protected: barrier tracking is disabled for it, and it becomes a shutdown
// free candidate whose cleanup is the runtime's ObjFree upcall.
func (b *Backend) flagFreeCandidate(ref object.Ref) {
	b.barrier.Unprotect(ref)
	b.registry.Register(ref, func(r object.Ref, _ any) {
		b.upcalls.ObjFree(r)
	}, nil)
}

// Enable re-opens allocation and collection.
func (b *Backend) Enable() {
	b.ensureRunning("Enable")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateDisabled {
		b.state = stateRunning
		b.gate.Store(gateOpen)
	}
}

// Disable stops allocation and collection. When a cycle is in progress:
// finishInProgress=true waits for it to complete in full, while false
// requests the sweep be skipped; marking still finishes, so the heap stays
// consistent, merely ungarbage-collected. Disable returns only once no
// cycle is running.
func (b *Backend) Disable(finishInProgress bool) {
	b.ensureRunning("Disable")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.collecting && !finishInProgress {
		b.abortSweep = true
	}
	for b.collecting {
		b.cond.Wait()
	}
	if b.state == stateRunning {
		b.state = stateDisabled
		b.gate.Store(gateDisabled)
	}
}

// Enabled reports whether allocation and collection may proceed.
func (b *Backend) Enabled() bool {
	return b.gate.Load() == gateOpen
}

// SetStress toggles stress mode: every mutator cache refill forces a full
// collection cycle, surfacing lifetime bugs that normally need heap
// pressure to reproduce. Toggling leaves no residue in allocation behavior.
func (b *Backend) SetStress(on bool) {
	b.ensureLive("SetStress")
	b.stress.Store(on)
}

// Stress reports whether stress mode is active.
func (b *Backend) Stress() bool {
	return b.stress.Load()
}

// Start runs a collection cycle on the caller's goroutine. The runtime must
// have its mutators at safe points; the backend stops nothing itself.
func (b *Backend) Start() error {
	b.ensureRunning("Start")
	return b.collect(stats.ReasonRequested)
}

// DuringGC reports whether a collection cycle is in progress.
func (b *Backend) DuringGC() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collecting
}

// collect runs one full stop-the-world mark-sweep cycle. Concurrent callers
// coalesce: a second collector waits for the running cycle and returns
// without starting another.
func (b *Backend) collect(reason string) error {
	b.mu.Lock()
	if b.state != stateRunning {
		b.mu.Unlock()
		return ErrDisabled
	}
	if b.collecting {
		for b.collecting {
			b.cond.Wait()
		}
		b.mu.Unlock()
		return nil
	}
	b.collecting = true
	b.abortSweep = false
	b.mu.Unlock()

	start := time.Now()
	n := b.st.BeginCycle()

	b.barrier.BeginCycle()
	b.marker.Begin()
	b.upcalls.MarkRoots(b)
	b.drainGray()
	b.marker.EndMarking()
	weakCleared := b.marker.ClearDeadWeak()

	b.mu.Lock()
	aborted := b.abortSweep
	b.mu.Unlock()

	var swept int64
	if !aborted {
		arena := b.h.Arena()
		swept = b.h.Sweep(b.marker.Marked, func(ref object.Ref) {
			if rec, ok := b.registry.Take(ref); ok {
				rec.Fn(rec.Ref, rec.Ctx)
			}
			b.barrier.Drop(ref)
			b.st.RecordFree(object.SlotSizeOf(arena, ref))
		})
	}

	info := stats.GCInfo{
		Count:       n,
		Reason:      reason,
		Aborted:     aborted,
		Duration:    time.Since(start),
		Marked:      b.marker.MarkedCount(),
		Swept:       swept,
		WeakCleared: int64(weakCleared),
	}
	b.st.EndCycle(info)

	if debugGC || logGC {
		debugLogf("#%d reason=%s marked=%d swept=%d weak_cleared=%d aborted=%v dur=%v",
			info.Count, info.Reason, info.Marked, info.Swept,
			info.WeakCleared, info.Aborted, info.Duration)
	}

	b.mu.Lock()
	b.collecting = false
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

// drainGray enumerates children of every gray object until the graph is
// fully traced. Child enumeration is a runtime upcall that marks back
// through the Tracer, so the stack refills as it drains.
func (b *Backend) drainGray() {
	for {
		ref, ok := b.marker.PopGray()
		if !ok {
			return
		}
		b.upcalls.MarkObjectChildren(b, ref)
	}
}

// Shutdown drains the finalization registry exactly once and tears the
// backend down. No allocation may succeed once shutdown begins; a second
// Shutdown is a defect.
func (b *Backend) Shutdown() {
	b.mu.Lock()
	if b.state == stateShuttingDown || b.state == stateTerminated {
		b.mu.Unlock()
		panic("gc: backend shut down twice")
	}
	if b.state == stateUninitialized {
		b.mu.Unlock()
		panic("gc: Shutdown before Init")
	}
	b.state = stateShuttingDown
	b.gate.Store(gateShutdown)
	for b.collecting {
		b.cond.Wait()
	}
	b.mu.Unlock()

	var eligible func(object.Ref) bool
	if b.upcalls.ShutdownRequiresFinalize != nil {
		eligible = b.upcalls.ShutdownRequiresFinalize
	}
	b.registry.Drain(eligible)

	_ = b.h.Close()

	b.mu.Lock()
	b.state = stateTerminated
	b.mu.Unlock()
}

// Terminated reports whether Shutdown has completed.
func (b *Backend) Terminated() bool {
	return b.stateSnapshot() == stateTerminated
}
