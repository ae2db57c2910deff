package gc

import "github.com/pkg/errors"

// finalizerFunc is one registered finalizer's Go-side callback. It is
// late-bound to an object id rather than an object reference, so invoking
// it never itself keeps its target alive (spec.md §4.7,
// ObjectSpace#define_finalizer).
type finalizerFunc func(id uintptr)

// finalizerTable owns the registered-finalizer map and the zombie queue:
// slots that have been swept but still need user code run before their
// storage can be reused (I6). The zombie queue is threaded through the
// slot headers' own link field, the same field a free slot uses to chain
// onto its page's free list — avoiding a second allocation per zombie, the
// way authorNari/ruby's gc.c chains its deferred-finalizer list through
// the RVALUE itself.
//
// Each registered callable is wrapped in its own tiny internal managed
// object (kindCallable) rather than kept as a bare Go closure: spec.md
// §4.5 root source #2 is "entries of the finalizer table, values are
// managed objects", and marking only works on SlotRefs. The wrapper is
// what mark.go/scheduler.go actually mark each cycle; the Go closure it
// carries lives in the callables side table, keyed by the wrapper's ref,
// and is dropped once the wrapper itself is swept as garbage (sweep.go).
type finalizerTable struct {
	c          *Collector
	entries    map[SlotRef][]SlotRef     // target object -> wrapper refs
	callables  map[SlotRef]finalizerFunc // wrapper ref -> Go callback
	zombieHead SlotRef
	zombieTail SlotRef
}

func newFinalizerTable(c *Collector) *finalizerTable {
	return &finalizerTable{
		c:         c,
		entries:   make(map[SlotRef][]SlotRef),
		callables: make(map[SlotRef]finalizerFunc),
	}
}

// newWrapper allocates the internal managed object backing one registered
// callable. define_final in gc.c has no failure path of its own to report
// an allocation failure through, so a wrapper allocation failure here
// panics the same way an impossible type tag does elsewhere in this
// package, rather than threading an error return through every caller.
func (t *finalizerTable) newWrapper(cb finalizerFunc) SlotRef {
	obj, err := t.c.newObjectLocked(kindCallable)
	if err != nil {
		panic(errors.Wrap(err, "gc: failed to allocate finalizer callable"))
	}
	t.callables[obj.Ref()] = cb
	return obj.Ref()
}

// Define registers cb to run when ref's object is collected. Multiple
// finalizers may be registered on the same object; they run in
// registration order (define_final in gc.c).
func (t *finalizerTable) Define(ref SlotRef, cb finalizerFunc) {
	t.entries[ref] = append(t.entries[ref], t.newWrapper(cb))
	ref.header().flags |= FlagFinalizer
}

// Undefine removes every finalizer registered on ref (undefine_final). The
// wrapper objects it held are not reachable from ref any more, but this
// leaves them for ordinary sweep reclamation rather than special-casing
// their teardown here, same as dropping any other field.
func (t *finalizerTable) Undefine(ref SlotRef) {
	delete(t.entries, ref)
	ref.header().flags &^= FlagFinalizer
}

// CopyFinalizer copies src's registered finalizers onto dst, used when the
// host duplicates an object and wants the copy to run the same finalizers
// (rb_gc_copy_finalizer in gc.c). src keeps its own registration. dst and
// src end up referencing the identical wrapper objects — "callables shared",
// per spec.md §4.7 — not copies of them.
func (t *finalizerTable) CopyFinalizer(dst, src SlotRef) {
	wrappers, ok := t.entries[src]
	if !ok {
		return
	}
	t.entries[dst] = append([]SlotRef(nil), wrappers...)
	dst.header().flags |= FlagFinalizer
}

// wrapperInUse reports whether w still backs at least one live finalizer
// registration. Sweep consults this before reclaiming an unmarked wrapper: a
// registration's callable must survive until its target's finalizer has run,
// even across a sweep round that never marked (the at-exit force pass).
func (t *finalizerTable) wrapperInUse(w SlotRef) bool {
	for _, wrappers := range t.entries {
		for _, x := range wrappers {
			if x == w {
				return true
			}
		}
	}
	return false
}

// pendingCount returns how many zombies are queued for finalization but
// have not yet run (spec.md §6 gc_stat's heap_final_num).
func (t *finalizerTable) pendingCount() int {
	n := 0
	for ref := t.zombieHead; ref != 0; ref = SlotRef(ref.header().link) {
		n++
	}
	return n
}

// markRoots marks every still-registered callable wrapper — spec.md §4.5
// root source #2 ("entries of the finalizer table, values are managed
// objects"). Target objects (the table's keys) are deliberately not
// marked here: their survival is ordinary reachability, or the zombie
// transition sweep.go gives them if they are not reachable.
func (t *finalizerTable) markRoots(mark func(SlotRef)) {
	for _, wrappers := range t.entries {
		for _, w := range wrappers {
			mark(w)
		}
	}
}

// enterZombie transitions obj from swept-but-pending to the zombie state
// (I6) and appends it to the FIFO finalization queue. hadDeferredFree
// records whether FreeTeardown reported that obj's native teardown itself
// still needs to run, independent of whether any finalizer was registered.
func (t *finalizerTable) enterZombie(obj Object, hadDeferredFree bool) {
	hdr := obj.ref.header()
	hdr.flags |= FlagZombie
	if hadDeferredFree {
		hdr.flags |= FlagDeferredFree
	}
	hdr.kind = KindZombie
	hdr.link = 0
	if t.zombieTail == 0 {
		t.zombieHead = obj.ref
	} else {
		t.zombieTail.header().link = uintptr(obj.ref)
	}
	t.zombieTail = obj.ref
}

// runPendingFinalizers drains every zombie queued so far, outside the GC
// critical section (spec.md §4.7: finalizers never run while mark/sweep
// holds the heap invariant). Each zombie's deferred native teardown (if
// any) runs first, then every registered finalizer in registration order,
// then its slot returns to its page's free list.
func (c *Collector) runPendingFinalizers() {
	t := c.finalizers
	for t.zombieHead != 0 {
		ref := t.zombieHead
		hdr := ref.header()
		next := SlotRef(hdr.link)
		t.zombieHead = next
		if t.zombieHead == 0 {
			t.zombieTail = 0
		}

		obj := Object{ref: ref, space: c}
		if hdr.flags&FlagDeferredFree != 0 {
			c.tracer.RunDeferredFree(obj)
		}
		if wrappers, ok := t.entries[ref]; ok {
			id := c.objectID(ref)
			for _, w := range wrappers {
				if cb, ok := t.callables[w]; ok {
					c.runProtected(id, cb)
				}
			}
			delete(t.entries, ref)
		}

		pd := descriptorOf(uintptr(ref))
		c.heap.freeSlot(ref)
		c.finalizerZombieReleased(pd)
	}
}

// runProtected invokes a single finalizer callable under a protected call
// boundary: a panicking finalizer is logged and silently discarded rather
// than propagated, matching spec.md §4.7/§7 ("FinalizerException ... caught
// silently within the protected-call harness; not propagated") — the same
// contract authorNari/ruby's run_final gives each callable via rb_protect.
func (c *Collector) runProtected(id uintptr, cb finalizerFunc) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("finalizer panic: %v", r)
			c.cfg.Logger.Warn().Err(err).Uint64("object_id", uint64(id)).Msg("gc: finalizer raised, ignoring")
		}
	}()
	cb(id)
}

// runAllAtExit runs every remaining finalizer at process shutdown, to a
// fixed point (rb_objspace_call_finalizer in gc.c): repeatedly (a) drain
// whatever is already zombied, (b) re-mark the finalizer table so a
// callable wrapper whose finalizer hasn't fired yet survives the pass
// (keeping it alive against itself), and (c) run a fresh mark/sweep round
// to collect anything newly reachable only through such a wrapper — until
// a round reclaims nothing further. Whatever is still registered after
// that is force-finalized regardless of reachability, and a last heap walk
// runs the native teardown of every surviving Data/File object that was
// never in the table at all.
func (c *Collector) runAllAtExit() {
	for {
		before := len(c.finalizers.entries)
		c.runPendingFinalizers()
		if len(c.finalizers.entries) == 0 {
			break
		}

		for pd := c.heap.liveHead; pd != nil; pd = pd.next {
			pd.bitmap.Clear()
		}
		m := newMarker(c)
		m.c.finalizers.markRoots(m.markRoot)
		m.drain()
		c.beginSweep()
		c.finishSweep()
		c.runPendingFinalizers()

		if len(c.finalizers.entries) == before && c.finalizers.zombieHead == 0 {
			break
		}
	}

	for ref := range c.finalizers.entries {
		c.finalizers.enterZombie(Object{ref: ref, space: c}, false)
	}
	c.runPendingFinalizers()
	c.finalDataTeardown()
}

// finalDataTeardown walks every live page and runs the deferred native
// teardown on each remaining Data/File object, reachable or not — the last
// step of rb_objspace_call_finalizer. Objects flagged FlagVMInternal
// (threads, fibers, mutexes) are skipped: their native state must outlive
// this pass, through VM teardown proper.
func (c *Collector) finalDataTeardown() {
	for pd := c.heap.liveHead; pd != nil; pd = pd.next {
		for i := 0; i < pd.slots; i++ {
			ref := pd.slotAt(i)
			hdr := ref.header()
			if hdr.kind != KindData && hdr.kind != KindFile {
				continue
			}
			if hdr.flags&FlagVMInternal != 0 {
				continue
			}
			c.tracer.RunDeferredFree(Object{ref: ref, space: c})
			c.heap.freeSlot(ref)
		}
	}
}
