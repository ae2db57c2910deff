package gc

// markRecursionLimit bounds native call-stack depth during marking. Beyond
// this many nested calls, children are deferred onto an explicit overflow
// stack instead of recursed into directly — authorNari/ruby's gc_mark_children
// does the same thing (gc_ms.c), switching to gc_mark_stacked_objects once
// objspace->mark_stack accumulates enough of a backlog.
const markRecursionLimit = 256

// marker performs one serial mark phase: conservative stack scan, global
// and registered root enumeration, and depth-first traversal of the object
// graph through enumerateChildren (object.go).
type marker struct {
	c        *Collector
	overflow []SlotRef // objects deferred once markRecursionLimit is hit
}

func newMarker(c *Collector) *marker {
	return &marker{c: c}
}

// markCandidateWord validates a conservative stack word against the page
// index and the slot's liveness before treating it as a root (spec.md
// §4.5 item 3: must be a known page, slot-aligned, not a free slot, and
// have a non-nil class pointer).
func (m *marker) markCandidateWord(word uintptr) {
	if !m.c.heap.index.IsPointerToHeap(word) {
		return
	}
	ref := m.c.heap.index.slotAt(word)
	hdr := ref.header()
	if hdr.kind == KindFree || hdr.class == 0 {
		return
	}
	m.mark(ref, 0)
}

// markRoot marks a root SlotRef known to already be a live, addressable
// object (registered addresses, pinned objects, and the host's global
// roots are all trusted without the stack-word validation above).
func (m *marker) markRoot(ref SlotRef) {
	m.mark(ref, 0)
}

// mark marks ref and, the first time it is marked this cycle, traces its
// children. depth counts nested recursive calls since the last deferral;
// once it reaches markRecursionLimit, further children are pushed onto the
// overflow stack instead, bounding native stack usage independent of
// object-graph depth.
func (m *marker) mark(ref SlotRef, depth int) {
	if ref == 0 {
		return
	}
	pd := descriptorOf(uintptr(ref))
	idx := pd.slotIndex(ref)
	if hdr := ref.header(); hdr.kind >= numKinds {
		panic(newInvariantError("mark: slot has impossible type tag"))
	}
	if !pd.bitmap.Mark(idx) {
		return
	}
	if depth >= markRecursionLimit {
		m.overflow = append(m.overflow, ref)
		return
	}
	obj := Object{ref: ref, space: m.c}
	m.c.enumerateChildren(obj, func(child SlotRef) {
		m.mark(child, depth+1)
	})
}

// drain processes the overflow stack to completion, including any further
// objects it defers along the way.
func (m *marker) drain() {
	for len(m.overflow) > 0 {
		n := len(m.overflow)
		ref := m.overflow[n-1]
		m.overflow = m.overflow[:n-1]
		obj := Object{ref: ref, space: m.c}
		m.c.enumerateChildren(obj, func(child SlotRef) {
			m.mark(child, 0)
		})
	}
}

// run executes one complete serial mark phase, in the root-enumeration
// order spec.md §4.5 lists: conservative stack first, then every other
// root source, then the object graph reachable from them.
func (m *marker) run() {
	m.c.tracer.ScanStack(m.markCandidateWord)
	m.c.tracer.GlobalRoots(m.markRoot)
	m.c.roots.Enumerate(m.markRoot)
	m.c.finalizers.markRoots(m.markRoot)
	m.drain()
}
