package gc

// allocAccountant tracks host-owned auxiliary allocations (container
// backing storage, string buffers — anything outside a slot) against a
// byte threshold, and reports when a request brings the total to that
// threshold so that request triggers a GC cycle first (spec.md §4.8 "malloc-triggered
// collection", grounded on authorNari/ruby's malloc_increase/malloc_limit
// pair in gc_alloc.c).
type allocAccountant struct {
	increase int64
	limit    int64
	stress   bool
}

func newAllocAccountant(initialLimit int64) *allocAccountant {
	return &allocAccountant{limit: initialLimit}
}

// noteAlloc records n newly allocated bytes and reports whether the
// accountant now wants a collection before the caller's allocation
// completes.
func (a *allocAccountant) noteAlloc(n int64) bool {
	a.increase += n
	if a.stress {
		return true
	}
	return a.increase >= a.limit
}

// noteFree records bytes released outside of GC (an explicit Xfree).
func (a *allocAccountant) noteFree(n int64) {
	a.increase -= n
	if a.increase < 0 {
		a.increase = 0
	}
}

// afterCollection recalibrates the limit once a cycle completes: still
// running close to the old limit grows it, running well under it relaxes
// the limit back toward defaultLimit, so one large transient allocation
// cannot pin the collector into running every few bytes indefinitely.
func (a *allocAccountant) afterCollection(liveBytes, defaultLimit int64) {
	if liveBytes*2 > a.limit {
		a.limit = liveBytes * 2
	} else if a.limit > defaultLimit {
		a.limit = (a.limit + defaultLimit) / 2
	}
	a.increase = 0
}

// Xmalloc allocates n bytes of host-owned auxiliary storage outside any
// slot, accounting it against the malloc-triggered threshold and running a
// collection first if this request brings the accountant to its limit and
// automatic collection is enabled (vm_malloc_prepare / vm_malloc_fixup in
// gc_alloc.c).
func (c *Collector) Xmalloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, argError("gc: negative allocation size %d", n)
	}
	if c.alloc.noteAlloc(int64(n)) && c.enabled {
		c.Collect()
	}
	return make([]byte, n), nil
}

// Xcalloc allocates count*size zeroed bytes, rejecting the request instead
// of wrapping on overflow (xmalloc2_size in gc_alloc.c).
func (c *Collector) Xcalloc(count, size int) ([]byte, error) {
	if count < 0 || size < 0 {
		return nil, argError("gc: negative xcalloc argument (count=%d, size=%d)", count, size)
	}
	total := count * size
	if size != 0 && total/size != count {
		return nil, argError("gc: xcalloc size overflow (count=%d, size=%d)", count, size)
	}
	return c.Xmalloc(total)
}

// Xrealloc resizes buf to n bytes, preserving its contents up to
// min(len(buf), n), and accounts for the net change in outstanding bytes
// (vm_xrealloc in gc_alloc.c).
func (c *Collector) Xrealloc(buf []byte, n int) ([]byte, error) {
	if n < 0 {
		return nil, argError("gc: negative reallocation size %d", n)
	}
	delta := int64(n - len(buf))
	switch {
	case delta > 0 && c.alloc.noteAlloc(delta) && c.enabled:
		c.Collect()
	case delta < 0:
		c.alloc.noteFree(-delta)
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

// Xfree releases host-owned auxiliary storage obtained from Xmalloc,
// Xcalloc, or Xrealloc, crediting its size back to the accountant
// (vm_xfree in gc_alloc.c).
func (c *Collector) Xfree(buf []byte) {
	c.alloc.noteFree(int64(len(buf)))
}
