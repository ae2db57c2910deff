package gc

// rootRegistry holds the two host-registered root sources spec.md §4.5 adds
// on top of the conservative stack scan: addresses of C-level globals
// holding a SlotRef (rb_gc_register_address), and objects pinned for the
// remainder of the process by value (rb_gc_register_mark_object). Grounded
// on gc.c's Global_List / mark_object_registry.
type rootRegistry struct {
	addresses []*SlotRef // registered variable addresses, re-read every mark
	pinned    []SlotRef  // objects kept alive by value, never re-read
}

// RegisterAddress adds addr to the set of locations the collector treats
// as a root: every mark phase dereferences addr and marks whatever SlotRef
// it currently holds. Used for long-lived globals whose referent may be
// reassigned over time.
func (r *rootRegistry) RegisterAddress(addr *SlotRef) {
	r.addresses = append(r.addresses, addr)
}

// UnregisterAddress removes a previously registered address. No-op if addr
// was never registered.
func (r *rootRegistry) UnregisterAddress(addr *SlotRef) {
	for i, a := range r.addresses {
		if a == addr {
			r.addresses[i] = r.addresses[len(r.addresses)-1]
			r.addresses = r.addresses[:len(r.addresses)-1]
			return
		}
	}
}

// Pin appends ref to the pinned set, keeping it alive for the remainder of
// the process (or until explicitly unpinned). Unlike RegisterAddress this
// captures ref's value once; reassigning the original variable has no
// effect on the pin.
func (r *rootRegistry) Pin(ref SlotRef) {
	r.pinned = append(r.pinned, ref)
}

// Unpin removes one occurrence of ref from the pinned set. No-op if ref was
// never pinned.
func (r *rootRegistry) Unpin(ref SlotRef) {
	for i, p := range r.pinned {
		if p == ref {
			r.pinned[i] = r.pinned[len(r.pinned)-1]
			r.pinned = r.pinned[:len(r.pinned)-1]
			return
		}
	}
}

// Enumerate calls mark once for every currently live root in both sets
// (spec.md §4.5 items 2 and 5).
func (r *rootRegistry) Enumerate(mark func(SlotRef)) {
	for _, addr := range r.addresses {
		if ref := *addr; ref != 0 {
			mark(ref)
		}
	}
	for _, ref := range r.pinned {
		if ref != 0 {
			mark(ref)
		}
	}
}
