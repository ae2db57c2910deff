package gc

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// cycleState is the collector's top-level state machine (spec.md §4
// "IDLE -> MARK -> SWEEP -> IDLE"), grounded on authorNari/ruby's
// objspace->flags.state transitions in gc_ms.c.
type cycleState uint8

const (
	stateIdle cycleState = iota
	stateMark
	stateSweep
)

// defaultSlotSize, defaultInitialPages, and defaultMallocLimit are applied
// whenever the corresponding Config field is left at its zero value.
const (
	defaultSlotSize     = 64 // header (32 bytes) plus a modest fixed payload, close to sizeof(RVALUE) on a 64-bit host
	defaultInitialPages = 4
	defaultMallocLimit  = 8 << 20
)

// Config configures a Collector at construction time. There is no file or
// flag parsing layer (spec.md §6 Non-goals); a host embeds the collector by
// constructing a Config directly.
type Config struct {
	// SlotSize is the fixed size in bytes of every slot, header included.
	// It must be large enough to hold the largest Kind's payload the host
	// ever stores directly in a slot; larger payloads belong in auxiliary
	// storage obtained through Xmalloc.
	SlotSize int

	// InitialPages is the number of pages mmap'd at construction time.
	InitialPages int

	// InitialMallocLimit is the starting malloc_increase threshold, in
	// bytes, before the accountant recalibrates it after each cycle.
	InitialMallocLimit int64

	// Parallel enables the work-stealing parallel mark scheduler. When
	// false, marking always runs on the calling goroutine.
	Parallel bool

	// Workers overrides the CPU count fed to the worker-count formula
	// (workerCount in scheduler.go); up to 8 it is the pool size itself.
	// Zero means use runtime.GOMAXPROCS(0).
	Workers int

	// Logger receives structured diagnostics: panics discarded from
	// finalizers, and the records written by ProfilerReport. Cycle
	// start/end and heap growth are not logged.
	Logger zerolog.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.SlotSize <= 0 {
		cfg.SlotSize = defaultSlotSize
	}
	if cfg.InitialPages <= 0 {
		// mirrors gc_ms_heap.c's initial_heap_min_slots floor: grow by
		// enough pages to cover it rather than an arbitrary page count.
		slotsPerPage := (pageAlign - int(pageHeaderSize)) / cfg.SlotSize
		cfg.InitialPages = defaultInitialPages
		if slotsPerPage > 0 {
			if n := (initialHeapMinSlots + slotsPerPage - 1) / slotsPerPage; n > cfg.InitialPages {
				cfg.InitialPages = n
			}
		}
	}
	if cfg.InitialMallocLimit <= 0 {
		cfg.InitialMallocLimit = defaultMallocLimit
	}
}

// Collector is a complete tracing garbage collector instance: one heap, one
// root set, one finalizer table, and the mark/sweep/alloc machinery tying
// them together. A process normally constructs exactly one.
type Collector struct {
	mu sync.Mutex

	tracer   Tracer
	cfg      Config
	slotSize int

	heap       *heap
	roots      rootRegistry
	finalizers *finalizerTable
	alloc      *allocAccountant
	profiler   *profiler

	// children/shared hold the type-directed reachable-set side tables
	// enumerateChildren (object.go) reads: the real backing storage for an
	// Array's elements, a Hash's key/value pairs, a Struct's slots, and so
	// on is always a separate allocation from the object header itself, so
	// it is tracked here rather than packed into the slot's fixed payload.
	// Entries are cleared when a slot is reallocated; freeing a slot leaves
	// its entries in place until then.
	children map[SlotRef][]SlotRef
	shared   map[SlotRef]SlotRef

	state   cycleState
	sweep   sweepState
	enabled bool
	cycles  int
}

// NewCollector constructs a Collector backed by tracer, which supplies the
// host language's Data mark callback, teardown, and root sources (child
// enumeration for every other Kind is collector code, enumerateChildren).
// The heap is pre-grown to cfg.InitialPages pages.
func NewCollector(tracer Tracer, cfg Config) (*Collector, error) {
	cfg.setDefaults()
	c := &Collector{
		tracer:   tracer,
		cfg:      cfg,
		slotSize: cfg.SlotSize,
		enabled:  true,
	}
	c.heap = newHeap(cfg.SlotSize)
	c.alloc = newAllocAccountant(cfg.InitialMallocLimit)
	c.profiler = newProfiler()
	c.finalizers = newFinalizerTable(c)
	c.children = make(map[SlotRef][]SlotRef)
	c.shared = make(map[SlotRef]SlotRef)

	for i := 0; i < cfg.InitialPages; i++ {
		if _, err := c.heap.addPage(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Enable turns on malloc/allocation-triggered automatic collection,
// reporting whether collection was previously disabled (GC.enable).
// Explicit Collect calls always run regardless.
func (c *Collector) Enable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := !c.enabled
	c.enabled = true
	return prev
}

// Disable turns off malloc/allocation-triggered automatic collection,
// reporting whether collection was previously disabled (GC.disable).
func (c *Collector) Disable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := !c.enabled
	c.enabled = false
	return prev
}

// Stress enables or disables stress mode: every allocation runs a full
// collection first (ObjectSpace.stress=).
func (c *Collector) Stress(on bool) {
	c.mu.Lock()
	c.alloc.stress = on
	c.mu.Unlock()
}

// StressMode reports the current stress-mode setting.
func (c *Collector) StressMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alloc.stress
}

// EnableProfiler turns cycle-by-cycle profiling on or off.
func (c *Collector) EnableProfiler(on bool) {
	c.mu.Lock()
	c.profiler.Enable(on)
	c.mu.Unlock()
}

// ProfilerReport logs every recorded cycle through cfg.Logger.
func (c *Collector) ProfilerReport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiler.Report(c.cfg.Logger)
}

// ProfilerTotalTime returns the summed duration of every recorded cycle.
func (c *Collector) ProfilerTotalTime() (total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.profiler.TotalTime())
}

// ProfilerClear discards every recorded cycle.
func (c *Collector) ProfilerClear() {
	c.mu.Lock()
	c.profiler.Clear()
	c.mu.Unlock()
}

// ProfilerRecords returns a copy of every cycle recorded so far.
func (c *Collector) ProfilerRecords() []ProfileRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProfileRecord, len(c.profiler.Records()))
	copy(out, c.profiler.Records())
	return out
}

// RegisterRoot registers addr as a root: every cycle dereferences it and
// marks whatever SlotRef it currently holds (rb_gc_register_address).
func (c *Collector) RegisterRoot(addr *SlotRef) {
	c.mu.Lock()
	c.roots.RegisterAddress(addr)
	c.mu.Unlock()
}

// UnregisterRoot removes a previously registered root address.
func (c *Collector) UnregisterRoot(addr *SlotRef) {
	c.mu.Lock()
	c.roots.UnregisterAddress(addr)
	c.mu.Unlock()
}

// RegisterMarkObject pins ref alive for the remainder of the process
// (rb_gc_register_mark_object).
func (c *Collector) RegisterMarkObject(ref SlotRef) {
	c.mu.Lock()
	c.roots.Pin(ref)
	c.mu.Unlock()
}

// UnregisterMarkObject removes one pin previously added for ref.
func (c *Collector) UnregisterMarkObject(ref SlotRef) {
	c.mu.Lock()
	c.roots.Unpin(ref)
	c.mu.Unlock()
}

// DefineFinalizer registers cb to run once ref's object is collected.
func (c *Collector) DefineFinalizer(ref SlotRef, cb func(id uintptr)) {
	c.mu.Lock()
	c.finalizers.Define(ref, cb)
	c.mu.Unlock()
}

// UndefineFinalizer removes every finalizer registered on ref.
func (c *Collector) UndefineFinalizer(ref SlotRef) {
	c.mu.Lock()
	c.finalizers.Undefine(ref)
	c.mu.Unlock()
}

// CopyFinalizer copies src's registered finalizers onto dst; src keeps its
// own registration.
func (c *Collector) CopyFinalizer(dst, src SlotRef) {
	c.mu.Lock()
	c.finalizers.CopyFinalizer(dst, src)
	c.mu.Unlock()
}

// objectID returns the address-derived id for a live slot reference.
// Non-moving storage means the address is stable for the object's entire
// lifetime, so it doubles as a stable identity token.
func (c *Collector) objectID(ref SlotRef) uintptr {
	return uintptr(ref)
}

// ObjectID returns ref's object id.
func (c *Collector) ObjectID(ref SlotRef) uintptr {
	return c.objectID(ref)
}

// IDToRef resolves an id produced by ObjectID back to a live slot
// reference, failing if id was never a heap address (ErrNotAnID) or named
// a slot that has since been recycled (ErrDeadReference).
func (c *Collector) IDToRef(id uintptr) (SlotRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.heap.index.IsPointerToHeap(id) {
		return 0, ErrNotAnID
	}
	ref := c.heap.index.slotAt(id)
	if ref.header().kind == KindFree {
		return 0, ErrDeadReference
	}
	return ref, nil
}

// SymbolObjectID computes the id namespace reserved for interned symbols,
// which are host-owned and never backed by a slot: symbolID*slotSize+4,
// the same formula and +4 tag authorNari/ruby's rb_id2sym uses so a symbol
// id can never collide with a real (page-aligned, slot-sized-stride) heap
// address.
func SymbolObjectID(symbolID int, slotSize int) uintptr {
	return uintptr(symbolID)*uintptr(slotSize) + 4
}

// NewObject allocates a fresh slot of the given kind, taking one already
// scheduled growth increment, running lazy sweep steps, a mark phase with
// lazy sweeping, or a heap growth pass — in that order — if no slot is
// immediately free (spec.md §4.2/§4.6).
func (c *Collector) NewObject(kind Kind) (Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newObjectLocked(kind)
}

func (c *Collector) newObjectLocked(kind Kind) (Object, error) {
	if c.state == stateMark {
		panic(newInvariantError("allocation during mark phase"))
	}
	if c.alloc.stress {
		c.collectLocked()
	}

	ref, ok := c.heap.allocateSlot()
	if !ok && c.heap.pagesPending > 0 {
		// a growth increment scheduled by an earlier cycle is consumed
		// before any other decision, one page per allocation.
		added, err := c.heap.growStep()
		if err != nil {
			return Object{}, err
		}
		if added {
			ref, ok = c.heap.allocateSlot()
		}
	}
	if !ok && c.sweep.active {
		// a previous cycle's sweep is still in progress: advance it page by
		// page until it frees a slot, closing out the cycle if it finishes.
		if c.lazySweepForAllocation() {
			ref, ok = c.heap.allocateSlot()
		}
		if !c.sweep.active {
			c.endCycleLocked()
		}
	}
	if !ok && c.enabled && c.state == stateIdle {
		// no free slot and no sweep to resume: mark now, then sweep only as
		// far as the first page that yields a free slot; the rest of the
		// sweep round interleaves with the allocations that follow.
		c.beginCycleLocked()
		if c.lazySweepForAllocation() {
			ref, ok = c.heap.allocateSlot()
		}
		if !c.sweep.active {
			c.endCycleLocked()
			if !ok {
				ref, ok = c.heap.allocateSlot()
			}
		}
	}
	if !ok {
		c.heap.scheduleGrowth()
		added, err := c.heap.growStep()
		if err != nil {
			return Object{}, err
		}
		if added {
			ref, ok = c.heap.allocateSlot()
		}
	}
	if !ok {
		return Object{}, ErrOutOfMemory
	}

	hdr := ref.header()
	hdr.flags = 0
	hdr.kind = kind
	hdr.class = 0
	hdr.aux = 0
	hdr.link = 0
	c.clearChildren(ref)
	return Object{ref: ref, space: c}, nil
}

// clearChildren drops ref's entries from the children/shared side tables.
// It is called at allocation time, so a reused address never inherits a
// stale object's reachable set; freeing a slot does not call it.
func (c *Collector) clearChildren(ref SlotRef) {
	delete(c.children, ref)
	delete(c.shared, ref)
}

// Collect runs one full stop-the-world mark/sweep cycle synchronously.
func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectLocked()
}

func (c *Collector) collectLocked() {
	c.restSweepLocked()
	c.beginCycleLocked()
	c.finishSweep()
	c.endCycleLocked()
}

// restSweepLocked completes a lazy sweep round left over from a previous
// cycle, so no page is ever mid-sweep when the next mark phase begins (I3;
// rest_sweep in gc_ms.c).
func (c *Collector) restSweepLocked() {
	if !c.sweep.active {
		return
	}
	c.finishSweep()
	c.endCycleLocked()
}

// beginCycleLocked runs the mark phase and opens the sweep phase. The caller
// chooses how the sweep round completes: finishSweep for a synchronous
// cycle, or lazySweepForAllocation steps interleaved with allocation.
func (c *Collector) beginCycleLocked() {
	c.profiler.begin()
	c.state = stateMark
	c.profiler.beginMark()
	c.runMark()
	c.profiler.endMark()

	c.state = stateSweep
	c.profiler.beginSweep()
	c.beginSweep()
}

// endCycleLocked closes out a cycle whose sweep round has just completed:
// drains the zombie queue, recalibrates the heap-growth and malloc triggers,
// and records the cycle's profile.
func (c *Collector) endCycleLocked() {
	c.profiler.endSweep()
	hadFinalize := c.finalizers.zombieHead != 0
	c.runPendingFinalizers()

	if c.heap.needsGrowth(c.heap.freeSlotCount()) {
		c.heap.scheduleGrowth()
		_, _ = c.heap.growStep()
	}
	c.alloc.afterCollection(int64(c.heap.totalSlots-c.heap.freeSlotCount())*int64(c.slotSize), c.cfg.InitialMallocLimit)

	c.state = stateIdle
	c.cycles++
	c.profiler.end(c.heap, c.slotSize, hadFinalize, c.alloc.increase, c.alloc.limit)
}

// runMark performs one mark phase, serial or parallel per Config.Parallel.
// Bitmap clearing is implicit: sweep already cleared every page's bitmap at
// the end of the previous cycle (I2).
func (c *Collector) runMark() {
	if c.cfg.Parallel {
		workers := c.cfg.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		newScheduler(c, workers).run()
		return
	}
	newMarker(c).run()
}

// Cycles returns the number of completed GC cycles.
func (c *Collector) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// EachObject calls fn once for every live (non-free, non-zombie-pending)
// slot across every page, in page/slot order, stopping early if fn returns
// false. Any in-progress lazy sweep round is completed first so that no page
// changes state mid-traversal; beyond that it does not run a collection, so
// recently-died but not-yet-swept objects may still be visited
// (ObjectSpace.each_object).
func (c *Collector) EachObject(fn func(Object) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restSweepLocked()
	for pd := c.heap.liveHead; pd != nil; pd = pd.next {
		for i := 0; i < pd.slots; i++ {
			ref := pd.slotAt(i)
			if ref.header().kind == KindFree {
				continue
			}
			if !fn(Object{ref: ref, space: c}) {
				return
			}
		}
	}
}

// CountObjects returns the number of live slots per Kind
// (ObjectSpace.count_objects).
func (c *Collector) CountObjects() map[Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Kind]int, int(numKinds))
	for pd := c.heap.liveHead; pd != nil; pd = pd.next {
		for i := 0; i < pd.slots; i++ {
			hdr := pd.slotAt(i).header()
			if hdr.kind == KindFree {
				continue
			}
			out[hdr.kind]++
		}
	}
	return out
}

// Stat returns a snapshot of heap-wide counters (GC.stat), using the exact
// key set spec.md §6 documents (plus the slot-count variants call sites
// already depended on) so P7 (heap_live_num + heap_free_num + heap_final_num
// == heap_used * slots_per_page) is checkable against this API.
func (c *Collector) Stat() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	free := c.heap.freeSlotCount()
	final := c.finalizers.pendingCount()
	live := c.heap.totalSlots - free - final

	return map[string]int64{
		"count":            int64(c.cycles),
		"heap_used":        int64(c.heap.pages),
		"heap_length":      int64(c.heap.pages),
		"heap_increment":   int64(c.heap.pagesPending),
		"heap_live_num":    int64(live),
		"heap_free_num":    int64(free),
		"heap_final_num":   int64(final),
		"heap_free_slots":  int64(free),
		"heap_live_slots":  int64(live),
		"heap_total_slots": int64(c.heap.totalSlots),
		"heap_total_pages": int64(c.heap.pages),
		"malloc_increase":  c.alloc.increase,
		"malloc_limit":     c.alloc.limit,
	}
}

// Shutdown runs every remaining finalizer to a fixed point and should be
// called once, at process exit (rb_objspace_call_finalizer in gc.c).
func (c *Collector) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restSweepLocked()
	c.runAllAtExit()
}
