package gc

import "math"

// heap owns the collector's set of pages: the live list walked by sweep,
// the free list allocation pulls from, the sorted index stack scanning
// queries, and the growth arithmetic that decides when to mmap more pages.
// Grounded on authorNari/ruby's objspace->heap bookkeeping and
// heaps_increment/set_heaps_increment in gc_ms_heap.c.
type heap struct {
	pool  *pagePool
	index pageIndex

	liveHead, liveTail *pageDescriptor // doubly linked, sweep order
	freeHead           *pageDescriptor // singly linked via freeListNext
	pages              int
	totalSlots         int
	pagesPending       int // growth increments scheduled but not yet taken
	lastSweepLive      int
}

// setLastSweepLive records how many slots were found still marked by the
// most recently completed sweep round, for profiling.
func (h *heap) setLastSweepLive(n int) { h.lastSweepLive = n }

// liveSlotsLastSweep returns the live-slot count from the most recently
// completed sweep round.
func (h *heap) liveSlotsLastSweep() int { return h.lastSweepLive }

func newHeap(slotSize int) *heap {
	return &heap{pool: newPagePool(slotSize)}
}

func (h *heap) slotsPerPage() int { return h.pool.slotsPerPage() }

// addPage mmaps one fresh page and links it into every structure the heap
// maintains (live list tail, sorted index, free list).
func (h *heap) addPage() (*pageDescriptor, error) {
	pd, err := h.pool.allocPage()
	if err != nil {
		return nil, err
	}
	if h.liveTail != nil {
		h.liveTail.next = pd
		pd.prev = h.liveTail
	} else {
		h.liveHead = pd
	}
	h.liveTail = pd
	h.index.insert(pd)
	h.pushFree(pd)
	h.pages++
	h.totalSlots += pd.slots
	return pd, nil
}

func (h *heap) pushFree(pd *pageDescriptor) {
	if pd.inFreeList {
		return
	}
	pd.inFreeList = true
	pd.freeListNext = h.freeHead
	h.freeHead = pd
}

func (h *heap) popFreeIfEmpty(pd *pageDescriptor) {
	if pd.freeHead != 0 || !pd.inFreeList {
		return
	}
	pd.inFreeList = false
	// unlink pd from the singly linked free list.
	if h.freeHead == pd {
		h.freeHead = pd.freeListNext
		pd.freeListNext = nil
		return
	}
	for cur := h.freeHead; cur != nil; cur = cur.freeListNext {
		if cur.freeListNext == pd {
			cur.freeListNext = pd.freeListNext
			pd.freeListNext = nil
			return
		}
	}
}

// unlinkLive removes pd from the live sweep-order list without touching the
// sorted index or free list; used when a page enters the freeing state
// (I7) and must stop being visited by sweep while its storage persists.
func (h *heap) unlinkLive(pd *pageDescriptor) {
	if pd.prev != nil {
		pd.prev.next = pd.next
	} else {
		h.liveHead = pd.next
	}
	if pd.next != nil {
		pd.next.prev = pd.prev
	} else {
		h.liveTail = pd.prev
	}
	pd.prev, pd.next = nil, nil
}

// releasePage returns a freeing page's storage to the OS once its last
// zombie has finalized (I7). Caller must have already unlinked it from the
// live list via unlinkLive.
func (h *heap) releasePage(pd *pageDescriptor) error {
	h.index.remove(pd)
	h.popFreeIfEmpty(pd) // in case it still had free slots when retired
	if pd.inFreeList {
		pd.inFreeList = false
		h.removeFromFreeList(pd)
	}
	h.pages--
	h.totalSlots -= pd.slots
	return h.pool.freePage(pd)
}

func (h *heap) removeFromFreeList(pd *pageDescriptor) {
	if h.freeHead == pd {
		h.freeHead = pd.freeListNext
		pd.freeListNext = nil
		return
	}
	for cur := h.freeHead; cur != nil; cur = cur.freeListNext {
		if cur.freeListNext == pd {
			cur.freeListNext = pd.freeListNext
			pd.freeListNext = nil
			return
		}
	}
}

// allocateSlot pops one slot from the head of the free-page list, reporting
// ok=false when the heap has no free slot at all (the caller must grow the
// heap and retry).
func (h *heap) allocateSlot() (ref SlotRef, ok bool) {
	pd := h.freeHead
	if pd == nil {
		return 0, false
	}
	ref = pd.freeHead
	pd.freeHead = SlotRef(ref.header().link)
	h.popFreeIfEmpty(pd)
	return ref, true
}

// freeSlot returns a reclaimed slot to its page's local free-list, zeroing
// its header to the canonical free shape (I4), and re-registers the page on
// the heap's free list if it was fully occupied before.
func (h *heap) freeSlot(ref SlotRef) {
	pd := descriptorOf(uintptr(ref))
	hdr := ref.header()
	hdr.flags = 0
	hdr.kind = KindFree
	hdr.class = 0
	hdr.aux = 0
	hdr.link = uintptr(pd.freeHead)
	pd.freeHead = ref
	h.pushFree(pd)
}

// Growth policy constants, recovered from authorNari/ruby's gc_ms_heap.c
// (HEAP_FREE_MIN, HEAP_MIN_SLOTS, and heaps_increment's target computation):
// the collector grows the heap whenever fewer than 20% of all slots are
// free after a sweep, and when it grows it targets 1.8x the current page
// count (at least one more page). do_heap_free gates the separate decision
// of whether an emptied page may enter the freeing-page state (I7) instead
// of simply rejoining the live list (spec.md §4.3/§4.6).
const (
	freeMinFraction    = 0.2
	doHeapFreeFraction = 0.65
	growthTargetFactor = 1.8

	// initialFreeMin / initialHeapMinSlots are the floors free_min and the
	// initial heap size are never allowed below, mirroring gc.c's default
	// GC tunables (RUBY_GC_HEAP_FREE_SLOTS / RUBY_GC_HEAP_INIT_SLOTS),
	// scaled down for this collector's much smaller test-sized pages.
	initialFreeMin      = 64
	initialHeapMinSlots = 512
)

// freeMin is max(0.2*total_slots, initialFreeMin): the growth-trigger
// threshold checked after every sweep round (spec.md §4.3 "Growth policy").
func (h *heap) freeMin() int {
	m := int(freeMinFraction * float64(h.totalSlots))
	if m < initialFreeMin {
		m = initialFreeMin
	}
	return m
}

// doHeapFree is the free-slot count an emptied page's retirement decision
// is compared against (spec.md §4.6): only once more than this many slots
// are already free heap-wide is a newly empty page allowed to leave the
// live list early rather than simply rejoining it with its slots freed.
func (h *heap) doHeapFree() int {
	return int(doHeapFreeFraction * float64(h.totalSlots))
}

// needsGrowth reports whether, given freeSlots free slots out of the
// heap's current total, the heap should grow before the next allocation
// wave (spec.md §4.2 "Heap growth").
func (h *heap) needsGrowth(freeSlots int) bool {
	if h.totalSlots == 0 {
		return true
	}
	return freeSlots < h.freeMin()
}

// growthTarget returns the total page count the heap should reach, given
// its current page count.
func (h *heap) growthTarget() int {
	target := int(math.Ceil(growthTargetFactor * float64(h.pages)))
	if target <= h.pages {
		target = h.pages + 1
	}
	return target
}

// scheduleGrowth records how many pages the heap still needs to reach its
// growth target (set_heaps_increment in gc_ms_heap.c). The pages themselves
// are added one at a time by growStep, interleaved with allocation, so a
// lazy-sweep step between increments can still observe and reuse a freshly
// swept page instead of minting a new one.
func (h *heap) scheduleGrowth() {
	if pending := h.growthTarget() - h.pages; pending > h.pagesPending {
		h.pagesPending = pending
	}
}

// growStep consumes one scheduled increment, mmapping exactly one page per
// call and reporting whether it did (heaps_increment in gc_ms_heap.c: one
// page per call, consumed before the next allocation decision).
func (h *heap) growStep() (bool, error) {
	if h.pagesPending <= 0 {
		return false, nil
	}
	if _, err := h.addPage(); err != nil {
		return false, err
	}
	h.pagesPending--
	return true, nil
}

// freeSlotCount walks every live page and sums free-list lengths; used by
// sweepPage's page-retirement check (so once per swept page, lazy sweep
// included), endCycleLocked, Stat, the profiler, and tests.
func (h *heap) freeSlotCount() int {
	n := 0
	for pd := h.liveHead; pd != nil; pd = pd.next {
		for s := pd.freeHead; s != 0; s = SlotRef(s.header().link) {
			n++
		}
	}
	return n
}
