package gc

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"
)

// dequeLog32 / dequeLog64 size a worker's local work-stealing deque as a
// fixed ring of 2^k pointer-sized slots (spec.md §4.8): k=14 on a 32-bit
// host, k=17 on a 64-bit one, matching gc_parallel.c's MARK_STACK_DEQUE_SIZE
// sizing. Unlike a Go slice, this ring never grows: once full, pushBottom
// reports failure and the caller spills the chunk onto the shared
// overflowStack instead.
const (
	dequeLog32 = 14
	dequeLog64 = 17
)

func dequeCapacity() int {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return 1 << dequeLog64
	}
	return 1 << dequeLog32
}

// workDeque is a bounded Chase-Lev work-stealing double-ended queue of
// mark-chunk pointers: the owning worker pushes and pops from the bottom
// without contention; any other worker may steal from the top concurrently
// (spec.md §4.8). It holds *markChunk, not individual SlotRefs — a worker
// accumulates discovered objects into a private 63-ref chunk
// (worker.pushMarked) and only publishes the chunk pointer here once full,
// the same chunked handoff gc_parallel.c uses to keep cross-goroutine
// traffic coarse-grained.
type workDeque struct {
	top    atomic.Int64
	bottom atomic.Int64
	buf    []*markChunk
}

func newWorkDeque() *workDeque {
	return &workDeque{buf: make([]*markChunk, dequeCapacity())}
}

// pushBottom is called only by the owning worker. It reports false without
// modifying the deque if the ring is already full; the caller is expected
// to push c onto the shared overflowStack instead.
func (d *workDeque) pushBottom(c *markChunk) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if int(b-t) >= len(d.buf) {
		return false
	}
	d.buf[b%int64(len(d.buf))] = c
	d.bottom.Store(b + 1)
	return true
}

// popBottom is called only by the owning worker. It returns ok=false once
// the deque is empty, including the single-element race against a
// concurrent popTop resolved via the top CAS below.
func (d *workDeque) popBottom() (c *markChunk, ok bool) {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	t := d.top.Load()
	if t > b {
		d.bottom.Store(t)
		return nil, false
	}
	c = d.buf[b%int64(len(d.buf))]
	if t == b {
		if !d.top.CompareAndSwap(t, t+1) {
			c, ok = nil, false
		} else {
			ok = true
		}
		d.bottom.Store(b + 1)
		return c, ok
	}
	return c, true
}

// popTop is the steal operation, safe to call concurrently from any worker
// other than the owner.
func (d *workDeque) popTop() (c *markChunk, ok bool) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return nil, false
	}
	c = d.buf[t%int64(len(d.buf))]
	if !d.top.CompareAndSwap(t, t+1) {
		return nil, false
	}
	return c, true
}

func (d *workDeque) empty() bool {
	return d.top.Load() >= d.bottom.Load()
}

// arrayContinueStride is the element-count granularity at which a worker
// marking a large array publishes the remainder for another worker to pick
// up, rather than marking the whole array itself (spec.md §4.8
// "array-continue deque").
const arrayContinueStride = 512

// arrayTask names a suffix of an array still needing its elements marked:
// obj's elements starting at index start through the end of its Children.
type arrayTask struct {
	obj   SlotRef
	start int
}

// arrayDeque is a worker's private pool of pending array-continue tasks.
// Spec.md §4.8 describes it as a deque alongside the chunk deque, but
// array-continue tasks are produced and consumed far less often than
// ordinary mark work, so a mutex-protected LIFO slice is used here instead
// of a second lock-free ring.
type arrayDeque struct {
	mu    sync.Mutex
	tasks []arrayTask
}

func (d *arrayDeque) push(t arrayTask) {
	d.mu.Lock()
	d.tasks = append(d.tasks, t)
	d.mu.Unlock()
}

func (d *arrayDeque) pop() (arrayTask, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.tasks)
	if n == 0 {
		return arrayTask{}, false
	}
	t := d.tasks[n-1]
	d.tasks = d.tasks[:n-1]
	return t, true
}

func (d *arrayDeque) empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks) == 0
}

// markChunkCapacity / chunkCacheLimit size the chunks all parallel mark work
// travels in: a worker batches discovered objects into fixed 63-slot chunks
// (worker.pushMarked) before publishing them to its deque, or to the shared
// overflowStack when that deque is full, as gc_parallel.c does. The chunk
// pool keeps at most 4 empty chunks around for reuse and releases the rest
// to the allocator.
const (
	markChunkCapacity = 63
	chunkCacheLimit   = 4
)

type markChunk struct {
	refs [markChunkCapacity]SlotRef
	n    int
	next *markChunk
}

func (c *markChunk) push(ref SlotRef) bool {
	if c.n >= markChunkCapacity {
		return false
	}
	c.refs[c.n] = ref
	c.n++
	return true
}

func (c *markChunk) pop() (SlotRef, bool) {
	if c.n == 0 {
		return 0, false
	}
	c.n--
	return c.refs[c.n], true
}

// chunkPool caches empty markChunks for reuse, bounded so it cannot grow
// without limit once a mark phase quiets down.
type chunkPool struct {
	mu    sync.Mutex
	free  *markChunk
	count int
}

func (p *chunkPool) get() *markChunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free == nil {
		return &markChunk{}
	}
	c := p.free
	p.free = c.next
	p.count--
	c.next, c.n = nil, 0
	return c
}

func (p *chunkPool) put(c *markChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count >= chunkCacheLimit {
		return
	}
	c.next = p.free
	p.free = c
	p.count++
}

// overflowStack is the single global spill stack every worker shares: full
// chunks are pushed here when the publishing worker's own deque is full, and
// popped by any idle worker
// before it resorts to stealing from a peer's deque (spec.md §5, "workers
// additionally share one overflow stack for chunk-granularity spill").
type overflowStack struct {
	mu   sync.Mutex
	head *markChunk
}

func (o *overflowStack) push(c *markChunk) {
	o.mu.Lock()
	c.next = o.head
	o.head = c
	o.mu.Unlock()
}

func (o *overflowStack) pop() *markChunk {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.head
	if c != nil {
		o.head = c.next
		c.next = nil
	}
	return c
}

func (o *overflowStack) empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.head == nil
}
