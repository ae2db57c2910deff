package gc

import "sort"

// pageIndex is the sorted-by-base-address index of every page currently
// owned by the collector (live or freeing), used to answer "is this word a
// pointer into the heap?" in O(log n) during conservative stack scanning
// (spec.md §4.5 item 3, grounded on authorNari/ruby's is_pointer_to_heap in
// gc_ms_heap.c, which does the same sorted-array binary search over
// objspace->heap.sorted).
type pageIndex struct {
	pages []*pageDescriptor // sorted ascending by base
}

func (x *pageIndex) search(base uintptr) int {
	return sort.Search(len(x.pages), func(i int) bool {
		return x.pages[i].base >= base
	})
}

// insert adds pd to the index, keeping it sorted by base address.
func (x *pageIndex) insert(pd *pageDescriptor) {
	i := x.search(pd.base)
	x.pages = append(x.pages, nil)
	copy(x.pages[i+1:], x.pages[i:])
	x.pages[i] = pd
}

// remove drops pd from the index. No-op if pd is not present.
func (x *pageIndex) remove(pd *pageDescriptor) {
	i := x.search(pd.base)
	if i >= len(x.pages) || x.pages[i] != pd {
		return
	}
	copy(x.pages[i:], x.pages[i+1:])
	x.pages = x.pages[:len(x.pages)-1]
}

// find returns the page containing addr, or nil if addr falls in no known
// page's range.
func (x *pageIndex) find(addr uintptr) *pageDescriptor {
	i := x.search(addr + 1) // first page with base > addr
	if i == 0 {
		return nil
	}
	pd := x.pages[i-1]
	if addr < pd.base || addr >= pd.base+pageAlign {
		return nil
	}
	return pd
}

// IsPointerToHeap reports whether addr both falls within a page the
// collector owns and is aligned to that page's slot grid — the two checks
// authorNari/ruby's is_pointer_to_heap performs before a conservative stack
// word is accepted as a root candidate.
func (x *pageIndex) IsPointerToHeap(addr uintptr) bool {
	pd := x.find(addr)
	if pd == nil {
		return false
	}
	if addr < pd.slotBase || addr >= pd.end() {
		return false
	}
	return (addr-pd.slotBase)%uintptr(pd.slotSize) == 0
}

// slotAt returns the slot reference containing addr, assuming
// IsPointerToHeap(addr) already reported true.
func (x *pageIndex) slotAt(addr uintptr) SlotRef {
	pd := x.find(addr)
	idx := pd.slotIndex(SlotRef(addr))
	return pd.slotAt(idx)
}
