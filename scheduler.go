package gc

import (
	"math/rand"
	"sync"

	"go.uber.org/atomic"
)

// workerCount computes min(cpus, 8+(cpus-8)*5/8), the parallel mark
// worker-pool size spec.md §5 specifies. DESIGN.md records the decision to
// keep this real-valued formula rather than the integer-truncation bug
// latent in authorNari/ruby's parallel_worker_threads (gc_parallel.c), where
// the same expression computed in integer arithmetic always rounds the
// second term to zero.
func workerCount(cpus int) int {
	if cpus < 1 {
		return 1
	}
	if cpus <= 8 {
		return cpus
	}
	n := 8 + int(float64(cpus-8)*5.0/8.0)
	if n > cpus {
		n = cpus
	}
	return n
}

// worker is one parallel-mark goroutine's private state: a chunk deque for
// ordinary mark work, an array-continue deque for large-array suffixes this
// worker has deferred (peers may steal them), and the chunk currently being filled
// by pushMarked before it is published (spec.md §4.8).
type worker struct {
	id      int
	deque   *workDeque
	arr     arrayDeque
	current *markChunk
	sched   *scheduler
}

// scheduler runs the optional parallel mark phase: workerCount(cpus)
// goroutines, each owning a workDeque, sharing one overflowStack for
// chunk-granularity spill, coordinated by a non-blocking termination
// protocol (spec.md §5, grounded on gc_parallel.c's worker pool and
// "all workers simultaneously out of work" termination check).
type scheduler struct {
	c        *Collector
	workers  []*worker
	overflow overflowStack
	chunks   chunkPool
	idle     atomic.Int32
}

func newScheduler(c *Collector, cpus int) *scheduler {
	n := workerCount(cpus)
	s := &scheduler{c: c}
	s.workers = make([]*worker, n)
	for i := range s.workers {
		s.workers[i] = &worker{id: i, deque: newWorkDeque(), sched: s}
	}
	return s
}

// tryMark marks ref in its page's bitmap, reporting whether this call was
// the one that actually marked it (i.e. whether its children still need
// tracing).
func (s *scheduler) tryMark(ref SlotRef) bool {
	if ref == 0 {
		return false
	}
	pd := descriptorOf(uintptr(ref))
	return pd.bitmap.Mark(pd.slotIndex(ref))
}

// collectRoots runs the full root enumeration serially — conservative stack
// scan, host global roots, and the registered/pinned root registry — before
// any worker goroutine starts, matching spec.md §5's "root discovery is not
// itself parallelized".
func (s *scheduler) collectRoots() []SlotRef {
	var roots []SlotRef
	add := func(ref SlotRef) {
		if s.tryMark(ref) {
			roots = append(roots, ref)
		}
	}
	s.c.tracer.ScanStack(func(word uintptr) {
		if !s.c.heap.index.IsPointerToHeap(word) {
			return
		}
		ref := s.c.heap.index.slotAt(word)
		hdr := ref.header()
		if hdr.kind == KindFree || hdr.class == 0 {
			return
		}
		add(ref)
	})
	s.c.tracer.GlobalRoots(add)
	s.c.roots.Enumerate(add)
	s.c.finalizers.markRoots(add)
	return roots
}

// run executes one parallel mark phase to completion.
func (s *scheduler) run() {
	roots := s.collectRoots()
	if len(s.workers) <= 1 || len(roots) == 0 {
		s.runSerial(roots)
		return
	}

	// every root is handed to worker 0; the rest of the pool starts empty
	// and fills itself by stealing (spec.md §5, "initial roots are not
	// pre-distributed across workers").
	w0 := s.workers[0]
	for _, r := range roots {
		w0.pushMarked(r)
	}
	w0.flush()

	var wg sync.WaitGroup
	wg.Add(len(s.workers))
	for _, w := range s.workers {
		w := w
		go func() {
			defer wg.Done()
			w.run()
		}()
	}
	wg.Wait()
}

// runSerial handles the degenerate cases (a single worker, or nothing
// discovered as a root) without spinning up goroutines at all.
func (s *scheduler) runSerial(roots []SlotRef) {
	stack := append([]SlotRef(nil), roots...)
	for len(stack) > 0 {
		n := len(stack)
		ref := stack[n-1]
		stack = stack[:n-1]
		obj := Object{ref: ref, space: s.c}
		s.c.enumerateChildren(obj, func(child SlotRef) {
			if s.tryMark(child) {
				stack = append(stack, child)
			}
		})
	}
}

// pushMarked appends ref to w's currently-filling chunk, publishing it and
// pulling a fresh one from the collector's chunk pool once full (spec.md
// §4.8 "chunked mark stacks").
func (w *worker) pushMarked(ref SlotRef) {
	if w.current == nil {
		w.current = w.sched.chunks.get()
	}
	if !w.current.push(ref) {
		w.flush()
		w.current = w.sched.chunks.get()
		w.current.push(ref)
	}
}

// flush publishes w's currently-filling chunk (if any) so another worker
// can see and steal it, spilling to the shared overflow stack if w's own
// deque is already full.
func (w *worker) flush() {
	if w.current == nil || w.current.n == 0 {
		return
	}
	c := w.current
	w.current = nil
	if !w.deque.pushBottom(c) {
		w.sched.overflow.push(c)
	}
}

// markArraySlice marks obj.Children()[start:start+arrayContinueStride] (or
// through the end, whichever comes first) and, if elements remain beyond
// the slice just marked, pushes the remainder onto w's array-continue
// deque for a stealer to pick up (spec.md §4.8 "array-continue deque").
func (w *worker) markArraySlice(obj Object, start int) {
	children := obj.Children()
	end := start + arrayContinueStride
	if end > len(children) {
		end = len(children)
	}
	for _, child := range children[start:end] {
		if w.sched.tryMark(child) {
			w.pushMarked(child)
		}
	}
	if end < len(children) {
		w.arr.push(arrayTask{obj: obj.ref, start: end})
	}
}

func (w *worker) process(ref SlotRef) {
	obj := Object{ref: ref, space: w.sched.c}
	if obj.Kind() == KindArray {
		if target, ok := obj.Shared(); ok {
			if w.sched.tryMark(target) {
				w.pushMarked(target)
			}
			return
		}
		w.markArraySlice(obj, 0)
		return
	}
	w.sched.c.enumerateChildren(obj, func(child SlotRef) {
		if w.sched.tryMark(child) {
			w.pushMarked(child)
		}
	})
}

func (w *worker) drainChunk(c *markChunk) {
	for {
		ref, ok := c.pop()
		if !ok {
			break
		}
		w.process(ref)
	}
	w.sched.chunks.put(c)
}

// trySteal looks for work on a peer, trying every peer's array-continue
// deque first and only then every peer's chunk deque (spec.md §4.8
// "stealing ... alternates between the array-continue pool and the chunk
// pool, array-continue first"), starting from a random offset so that
// under contention workers do not all converge on the same victim. It does
// the stolen work itself and reports whether it found any.
func (w *worker) trySteal() bool {
	n := len(w.sched.workers)
	if n <= 1 {
		return false
	}
	start := rand.Intn(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if idx == w.id {
			continue
		}
		peer := w.sched.workers[idx]
		if t, ok := peer.arr.pop(); ok {
			w.markArraySlice(Object{ref: t.obj, space: w.sched.c}, t.start)
			return true
		}
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if idx == w.id {
			continue
		}
		if c, ok := w.sched.workers[idx].deque.popTop(); ok {
			w.drainChunk(c)
			return true
		}
	}
	return false
}

// run drains w's own array-continue deque, then its chunk deque, then the
// shared overflow stack, then attempts to steal from a peer, repeating
// until every worker has simultaneously found nothing left anywhere — the
// non-blocking termination protocol spec.md §5 calls for in place of a
// barrier. Any chunk w is still filling is flushed before it is allowed to
// declare itself idle, so a peer can steal the remainder.
func (w *worker) run() {
	s := w.sched
	for {
		if t, ok := w.arr.pop(); ok {
			w.markArraySlice(Object{ref: t.obj, space: s.c}, t.start)
			continue
		}
		if c, ok := w.deque.popBottom(); ok {
			w.drainChunk(c)
			continue
		}
		if c := s.overflow.pop(); c != nil {
			w.drainChunk(c)
			continue
		}
		if w.trySteal() {
			continue
		}
		w.flush()
		if !w.deque.empty() || !w.arr.empty() {
			continue
		}
		if s.allIdle(w) {
			return
		}
	}
}

// allIdle is a simplified non-blocking termination check: a worker that
// just came up empty announces itself idle, double-checks every peer's
// chunk deque, array-continue deque, and the overflow stack one more time,
// and declares the whole mark phase done only if every worker is
// simultaneously idle and nothing remains anywhere. Any peer that still has
// work retracts the idle announcement.
func (s *scheduler) allIdle(self *worker) bool {
	s.idle.Inc()
	for i, peer := range s.workers {
		if i == self.id {
			continue
		}
		if !peer.deque.empty() || !peer.arr.empty() {
			s.idle.Dec()
			return false
		}
	}
	if !s.overflow.empty() {
		s.idle.Dec()
		return false
	}
	if int(s.idle.Load()) == len(s.workers) {
		return true
	}
	s.idle.Dec()
	return false
}
