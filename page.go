package gc

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SlotRef is a reference to a managed object's slot: the address of that
// slot's header inside a collector-owned page. It is the collector's
// analogue of authorNari/ruby's RVALUE* — every live managed object
// occupies exactly one slot, addressed this way (I1).
type SlotRef uintptr

// slotHeader is the fixed prologue written at the start of every slot.
// Its layout extends spec.md §3's "{flags=0, next_free}" free-slot shape
// with the fields the zombie state (I6) and class-pointer tracing (§4.5)
// need; the rest of the slot is payload the host language owns.
type slotHeader struct {
	flags Flag
	kind  Kind
	_     [3]byte
	class SlotRef  // class/module pointer while live
	aux   uintptr  // zombie: opaque dfree user-data token; otherwise unused
	link  uintptr  // free-list next slot, or zombie deferred-chain next slot
}

const slotHeaderSize = unsafe.Sizeof(slotHeader{})

func (r SlotRef) header() *slotHeader {
	return (*slotHeader)(unsafe.Pointer(uintptr(r)))
}

// Payload returns the host-owned bytes following the slot header.
func (r SlotRef) Payload(slotSize int) []byte {
	base := uintptr(r) + slotHeaderSize
	n := slotSize - int(slotHeaderSize)
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), n)
}

// pageAlignLog / pageAlign mirror authorNari/ruby's HEAP_ALIGN_LOG / HEAP_ALIGN
// (gc_ms_heap.c): pages are 2^K bytes aligned to 2^K, default K=14 (16 KiB).
const (
	pageAlignLog = 14
	pageAlign    = 1 << pageAlignLog
)

// pageHeaderSize is the fixed prologue at offset 0 of every page: a single
// back-pointer to the page's descriptor, permitting
// descriptorOf(ptr) = *(**pageDescriptor)(ptr &^ (pageAlign-1)).
const pageHeaderSize = unsafe.Sizeof(uintptr(0))

// pageDescriptor is the heap-allocated (ordinary Go-GC'd) record describing
// one aligned page. Its address is written into the page header so that any
// slot address can be mapped back to its owning descriptor in O(1)
// (spec.md §3 "Page descriptor").
type pageDescriptor struct {
	raw      []byte // the full (over-allocated) mmap region, needed to munmap
	base     uintptr
	slotBase uintptr
	slotSize int
	slots    int

	bitmap   *markBitmap
	freeHead SlotRef // local LIFO free-list head, 0 = empty

	// live-pages / sweep-list intrusive doubly linked list.
	prev, next *pageDescriptor

	// free-pages singly linked list (pages with at least one free slot).
	freeListNext *pageDescriptor
	inFreeList   bool

	// freeing-page bookkeeping (I7): once every non-zombie slot has been
	// reclaimed, the page is unlinked from the live list but its storage
	// is kept until outstanding reaches zero.
	freeing     bool
	outstanding int
}

// descriptorOf recovers the owning page descriptor for any slot address.
// The descriptor pointer stored in the page header is kept alive
// independently by the collector's sorted page index, so converting the
// stored uintptr back to a live *pageDescriptor here is safe as long as Go's
// allocator does not relocate heap objects (true of every Go runtime to
// date).
func descriptorOf(ptr uintptr) *pageDescriptor {
	base := ptr &^ uintptr(pageAlign-1)
	stored := *(*uintptr)(unsafe.Pointer(base))
	return (*pageDescriptor)(unsafe.Pointer(stored))
}

// pagePool allocates and releases aligned pages via anonymous mmap, and
// recycles mark-bitmap buffers through a free-bitmap pool to avoid
// malloc/free churn as pages churn (spec.md §4.1).
type pagePool struct {
	bitmaps  bitmapPool
	slotSize int
}

func newPagePool(slotSize int) *pagePool {
	return &pagePool{slotSize: slotSize}
}

// slotsPerPage returns floor((page_size - header_size) / slot_size).
func (p *pagePool) slotsPerPage() int {
	return (pageAlign - int(pageHeaderSize)) / p.slotSize
}

// allocPage obtains a fresh aligned page, installs its header back-pointer,
// builds its mark bitmap (from the free-bitmap pool when available), and
// threads every slot onto the page's local free-list (spec.md §4.1, and
// authorNari/ruby's assign_heap_slot in gc_ms_heap.c).
func (p *pagePool) allocPage() (*pageDescriptor, error) {
	// mmap does not guarantee alignment beyond the OS page size, so we
	// over-allocate by one page and slice out the aligned sub-region, the
	// same trick aligned_malloc performs in gc_ms_heap.c.
	raw, err := unix.Mmap(-1, 0, pageAlign*2, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "gc: mmap page")
	}
	rawBase := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (rawBase + pageAlign - 1) &^ uintptr(pageAlign-1)

	slots := p.slotsPerPage()
	pd := &pageDescriptor{
		raw:      raw,
		base:     aligned,
		slotBase: aligned + pageHeaderSize,
		slotSize: p.slotSize,
		slots:    slots,
		bitmap:   p.bitmaps.get(slots),
	}

	// write the header back-pointer at the page's base address.
	*(*uintptr)(unsafe.Pointer(aligned)) = uintptr(unsafe.Pointer(pd))

	// thread every slot onto the local free-list, flags zeroed (I4).
	for i := slots - 1; i >= 0; i-- {
		s := SlotRef(pd.slotBase + uintptr(i*p.slotSize))
		h := s.header()
		h.flags = 0
		h.kind = KindFree
		h.class = 0
		h.aux = 0
		h.link = uintptr(pd.freeHead)
		pd.freeHead = s
	}
	return pd, nil
}

// freePage returns a page's storage to the OS and its bitmap buffer to the
// free-bitmap pool, mirroring free_unused_heaps in gc_ms_heap.c.
func (p *pagePool) freePage(pd *pageDescriptor) error {
	p.bitmaps.put(pd.bitmap)
	pd.bitmap = nil
	if err := unix.Munmap(pd.raw); err != nil {
		return errors.Wrap(err, "gc: munmap page")
	}
	return nil
}

// slotIndex returns the 0-based index of a slot reference within its page,
// used for mark-bitmap addressing (spec.md §4.4).
func (pd *pageDescriptor) slotIndex(ref SlotRef) int {
	return int((uintptr(ref) - pd.slotBase) / uintptr(pd.slotSize))
}

// slotAt returns the slot reference for index i within the page.
func (pd *pageDescriptor) slotAt(i int) SlotRef {
	return SlotRef(pd.slotBase + uintptr(i*pd.slotSize))
}

func (pd *pageDescriptor) start() uintptr { return pd.slotBase }
func (pd *pageDescriptor) end() uintptr   { return pd.slotBase + uintptr(pd.slots*pd.slotSize) }
