package gc

// sweepState is the collector's incremental sweep cursor, live between
// sweepStep calls so sweeping can interleave with allocation instead of
// completing in one stop-the-world pass (spec.md §4.6 "lazy sweep",
// grounded on authorNari/ruby's lazy_sweep/gc_lazy_sweep in gc_ms.c).
type sweepState struct {
	cursor     *pageDescriptor
	active     bool
	liveSlots  int
	freedSlots int
}

// beginSweep points the cursor at the first live page and resets the
// round's counters (before_gc_sweep in gc_ms.c). Called once, immediately
// after mark completes.
func (c *Collector) beginSweep() {
	c.tracer.SweepMethodEntries()
	c.sweep.cursor = c.heap.liveHead
	c.sweep.active = true
	c.sweep.liveSlots = 0
	c.sweep.freedSlots = 0
}

// sweepStep sweeps at most one page and advances the cursor, returning
// false once every live page has been swept this round. Both the
// synchronous full-sweep path and the allocation-triggered lazy path call
// this in a loop.
func (c *Collector) sweepStep() bool {
	pd := c.sweep.cursor
	if pd == nil {
		c.sweep.active = false
		c.heap.setLastSweepLive(c.sweep.liveSlots)
		return false
	}
	next := pd.next
	c.sweepPage(pd)
	c.sweep.cursor = next
	return true
}

// sweepPage reclaims every unmarked slot on pd, runs type teardown on each,
// defers zombie-state slots to the finalizer table, and clears pd's mark
// bitmap for the next cycle (slot_sweep in gc_ms.c).
func (c *Collector) sweepPage(pd *pageDescriptor) {
	var freedHere, liveHere, zombiesHere int
	for i := 0; i < pd.slots; i++ {
		ref := pd.slotAt(i)
		hdr := ref.header()
		if hdr.kind == KindFree {
			continue
		}
		if pd.bitmap.IsMarked(i) {
			liveHere++
			continue
		}
		if hdr.kind == kindCallable {
			// internal finalizer-callable wrapper (finalizer.go): never
			// exposed to the host Tracer, so it bypasses FreeTeardown and
			// the zombie/finalizer machinery entirely. Once unreachable and
			// no longer registered, its callable is no longer needed.
			if c.finalizers.wrapperInUse(ref) {
				liveHere++
				continue
			}
			delete(c.finalizers.callables, ref)
			c.heap.freeSlot(ref)
			freedHere++
			continue
		}
		obj := Object{ref: ref, space: c}
		deferred := c.tracer.FreeTeardown(obj)
		hasFinalizer := hdr.flags&FlagFinalizer != 0
		if deferred || hasFinalizer {
			c.finalizers.enterZombie(obj, deferred)
			zombiesHere++
			continue
		}
		c.heap.freeSlot(ref)
		freedHere++
	}
	pd.bitmap.Clear()
	c.sweep.freedSlots += freedHere
	c.sweep.liveSlots += liveHere

	// A page with no live slots left is only moved into the freeing state
	// (I7) once the heap already has more than do_heap_free slots free
	// heap-wide (spec.md §4.6): otherwise it stays on the live list with
	// its slots simply freed, so the next allocation wave can reuse them
	// instead of the heap immediately growing again.
	if liveHere == 0 && c.heap.freeSlotCount() > c.heap.doHeapFree() {
		pd.outstanding = zombiesHere
		c.retirePage(pd)
	}
}

// retirePage moves an emptied page into the freeing state (I7): it is
// unlinked from the live list so mark/sweep stop visiting it, but its
// storage persists until every zombie it still owns has finalized.
func (c *Collector) retirePage(pd *pageDescriptor) {
	pd.freeing = true
	c.heap.unlinkLive(pd)
	if pd.outstanding == 0 {
		_ = c.heap.releasePage(pd)
	}
}

// finalizerZombieReleased is called by the finalizer table once a single
// zombie has finished finalizing. If that zombie's page was already in the
// freeing state and this was its last outstanding zombie, the page's
// storage is released now.
func (c *Collector) finalizerZombieReleased(pd *pageDescriptor) {
	if !pd.freeing {
		return
	}
	pd.outstanding--
	if pd.outstanding <= 0 {
		_ = c.heap.releasePage(pd)
	}
}

// finishSweep runs sweepStep to completion synchronously: used by a full
// (non-lazy) GC cycle and by Shutdown's final collection.
func (c *Collector) finishSweep() {
	for c.sweepStep() {
	}
}

// lazySweepForAllocation is the allocator's fallback when the free list is
// empty: sweep pages one at a time until either a slot becomes free or the
// sweep round itself completes (gc_lazy_sweep in gc_ms.c).
func (c *Collector) lazySweepForAllocation() bool {
	for c.sweep.active {
		pd := c.sweep.cursor
		if !c.sweepStep() {
			break
		}
		if pd.freeHead != 0 {
			return true
		}
	}
	return false
}
