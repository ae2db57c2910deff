package gc

// Kind is the primitive type tag of a managed object, analogous to
// authorNari/ruby's BUILTIN_TYPE. It is read directly out of the slot
// header, never dispatched through the class pointer.
type Kind uint8

const (
	KindFree Kind = iota
	KindObject
	KindClass
	KindModule
	KindIClass
	KindArray
	KindHash
	KindString
	KindRegexp
	KindFile
	KindMatch
	KindStruct
	KindRational
	KindComplex
	KindData
	KindBignum
	KindFloat
	KindNode
	KindZombie

	// kindCallable tags the internal wrapper objects the finalizer table
	// allocates to represent a registered Go callback as a managed object
	// (finalizer.go): spec.md §4.5 root source #2 requires finalizer-table
	// values to be markable SlotRefs, and this Kind is how they carry no
	// children of their own through enumerateChildren. It is never
	// produced by or exposed to the host Tracer.
	kindCallable
	numKinds
)

func (k Kind) String() string {
	names := [...]string{
		"Free", "Object", "Class", "Module", "IClass", "Array", "Hash",
		"String", "Regexp", "File", "Match", "Struct", "Rational",
		"Complex", "Data", "Bignum", "Float", "Node", "Zombie", "Callable",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Flag is a bitset of per-object flags stored alongside Kind in the slot
// header. Most bits are opaque to the collector; the ones the collector
// itself reads or writes are named below (spec.md §3 "Object flags").
type Flag uint32

const (
	// FlagFinalizer marks an object with at least one registered finalizer.
	FlagFinalizer Flag = 1 << iota
	// FlagExternalIvars marks an object whose instance variables live in
	// a side table rather than embedded in the slot.
	FlagExternalIvars
	// FlagZombie marks a slot that has entered the zombie state (I6):
	// unreachable, finalizer pending, storage not yet reclaimed.
	FlagZombie
	// FlagFreeingPage marks a zombie whose owning page has been logically
	// removed from the live list and is waiting for every zombie on it to
	// finalize before its storage is released (I7).
	FlagFreeingPage
	// FlagShared marks a container (Array/String) whose backing storage is
	// shared with another object rather than owned.
	FlagShared
	// FlagDeferredFree marks a zombie whose FreeTeardown reported that its
	// native teardown (the T_DATA/T_FILE dfree case) still needs to run,
	// independent of any ObjectSpace finalizer registered on it.
	FlagDeferredFree
	// FlagVMInternal marks a Data/File object whose native state must
	// survive until VM teardown (threads, fibers, mutexes). The at-exit
	// finalization walk skips it.
	FlagVMInternal

	flagFirstUser Flag = 1 << 16
)

// Object is the narrow view of a managed value's identity the collector
// needs. The host language's real object representation lives in the slot
// payload (see SlotRef.Payload); Object is only ever obtained by wrapping a
// SlotRef, never stored independently of one.
type Object struct {
	ref   SlotRef
	space *Collector
}

// Ref returns the slot this object occupies.
func (o Object) Ref() SlotRef { return o.ref }

// Kind returns the object's primitive type tag.
func (o Object) Kind() Kind { return o.ref.header().kind }

// Flags returns the object's flag word.
func (o Object) Flags() Flag { return o.ref.header().flags }

// HasFlag reports whether every bit in f is set.
func (o Object) HasFlag(f Flag) bool { return o.ref.header().flags&f == f }

// SetFlag sets the given bits in the object's flag word.
func (o Object) SetFlag(f Flag) { o.ref.header().flags |= f }

// ClearFlag clears the given bits in the object's flag word.
func (o Object) ClearFlag(f Flag) { o.ref.header().flags &^= f }

// Class returns the object's class/module slot reference, or zero if unset.
func (o Object) Class() SlotRef { return o.ref.header().class }

// SetClass sets the object's class/module slot reference.
func (o Object) SetClass(c SlotRef) { o.ref.header().class = c }

// Payload returns the host-owned memory following the slot header, sized to
// Config.SlotSize - headerSize bytes.
func (o Object) Payload() []byte { return o.ref.Payload(o.space.slotSize) }

// SetChildren records the set of SlotRefs obj directly references, for the
// Kinds whose reachable set doesn't fit in the fixed slot payload: Array
// elements, Hash key/value pairs, Struct slots, Class/Module method/ivar/
// constant tables, parse-tree node fields, and so on (spec.md §4.5). The
// backing storage for these is always a separate allocation from the slot
// itself, so it is tracked in the collector's side table rather than
// packed into Payload — storing a Go slice's backing pointer as a bare
// uintptr inside the slot would not keep it alive against Go's own GC.
func (o Object) SetChildren(children []SlotRef) {
	o.space.children[o.ref] = children
}

// Children returns the SlotRefs most recently recorded via SetChildren, or
// nil if none have been.
func (o Object) Children() []SlotRef { return o.space.children[o.ref] }

// SetShared marks obj as sharing another object's backing storage (Array
// or String's "shared if tainted/frozen copy" representation) and records
// which object it shares with. enumerateChildren marks only the shared
// target, not obj's own (nonexistent) element/byte storage.
func (o Object) SetShared(target SlotRef) {
	o.SetFlag(FlagShared)
	o.space.shared[o.ref] = target
}

// Shared returns the object obj shares backing storage with, if any.
func (o Object) Shared() (SlotRef, bool) {
	ref, ok := o.space.shared[o.ref]
	return ref, ok
}

// Tracer is implemented by the host language embedding the collector. It
// supplies the handful of hooks that reach outside the collection critical
// section (the "out of scope" collaborators named in §1: the object model
// beyond type tag/class/flags, and thread/VM integration). Type-directed
// child enumeration itself (spec.md §4.5) is collector logic, implemented
// once in enumerateChildren below against the Kind tag every object
// already carries; MarkData is the sole remaining case genuinely owned by
// the host, since a Data object's payload and mark callback are opaque to
// the collector by definition.
type Tracer interface {
	// MarkData invokes obj's user-supplied mark callback, for the one Kind
	// (KindData) whose children the collector cannot enumerate itself: the
	// host stores an arbitrary user pointer and callback pair, and only the
	// host knows how to walk whatever it points to (spec.md §4.5 "Data").
	MarkData(obj Object, mark func(SlotRef))

	// FreeTeardown runs the type-specific teardown for obj during sweep
	// (the collector's analogue of obj_free). It returns true if obj's
	// finalization must be deferred outside the GC critical section (the
	// T_DATA/T_FILE dfree case) even though obj has no registered
	// ObjectSpace finalizer.
	FreeTeardown(obj Object) (deferred bool)

	// RunDeferredFree performs the native teardown FreeTeardown reported
	// as deferred, once obj has reached the front of the zombie queue
	// outside the GC critical section.
	RunDeferredFree(obj Object)

	// ScanStack conservatively scans the current machine stack and any
	// saved callee-saved registers, calling push once per candidate word.
	// The collector validates each candidate independently (IsPointerToHeap
	// plus the slot-aligned/non-zero-flags/non-nil-class check of §4.5
	// item 3) before treating it as a root.
	ScanStack(push func(word uintptr))

	// GlobalRoots enumerates every other root source named in §4.5 (items
	// 1, 4, 6, 7, 8, 9): the VM self object, interned symbols and encoding
	// registries, end-of-process procs, the global binding table, the
	// class table, generic-ivar table, parser state, and unlinked-but-
	// referenced method entries.
	GlobalRoots(mark func(SlotRef))

	// SweepMethodEntries runs the external "sweep unlinked method entries"
	// hook invoked at the start of each sweep phase (spec.md §4.6).
	SweepMethodEntries()
}

// enumerateChildren calls mark once for every SlotRef directly reachable
// from obj, switching on obj.Kind() the way authorNari/ruby's
// gc_mark_children does in gc_ms.c — deliberate static dispatch, not
// virtual dispatch (spec.md §9). This is the C5 type-directed child
// enumeration table from spec.md §4.5 in full; every Kind the collector
// itself defines is handled here, not pushed onto the host Tracer.
func (c *Collector) enumerateChildren(obj Object, mark func(SlotRef)) {
	switch obj.Kind() {
	case KindObject:
		// class pointer, plus the embedded/heap instance-variable buffer.
		if class := obj.Class(); class != 0 {
			mark(class)
		}
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindClass, KindModule, KindIClass:
		// method table, instance-variable table, constant table, plus the
		// superclass chain threaded through the class pointer.
		if super := obj.Class(); super != 0 {
			mark(super)
		}
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindArray:
		// shared-backing pointer if this array shares another's storage,
		// otherwise every element.
		if target, ok := obj.Shared(); ok {
			mark(target)
			return
		}
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindHash:
		// every key, every value, and the default/ifnone value, all held
		// in the same flattened Children list.
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindString:
		// a String only ever has a shared-source pointer to mark; an
		// unshared string's bytes carry no SlotRefs.
		if target, ok := obj.Shared(); ok {
			mark(target)
		}

	case KindRegexp:
		// the source string it was compiled from.
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindFile:
		// path, tied-stream, write-lock, and conversion-state strings.
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindMatch:
		// the regexp it matched against, plus the source string.
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindStruct:
		// every slot.
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindRational, KindComplex:
		// both halves (numerator/denominator, real/imaginary).
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case KindData:
		// opaque to the collector: the host's mark callback walks whatever
		// its user pointer references and calls back into mark itself.
		c.tracer.MarkData(obj, mark)

	case KindNode:
		// parse-tree node: per-node-kind field set, recorded the same way
		// as any other multi-child Kind.
		for _, ref := range obj.Children() {
			mark(ref)
		}

	case kindCallable:
		// finalizer-table wrapper: carries a Go closure, not a SlotRef.

	case KindBignum, KindFloat, KindZombie:
		// no references of their own.

	case KindFree:
		panic(newInvariantError("enumerateChildren: slot is free"))

	default:
		panic(newInvariantError("enumerateChildren: slot has impossible type tag"))
	}
}
