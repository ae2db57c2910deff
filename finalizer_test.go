package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalizersRunInRegistrationOrder(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)

	var order []int
	c.DefineFinalizer(obj.Ref(), func(id uintptr) { order = append(order, 1) })
	c.DefineFinalizer(obj.Ref(), func(id uintptr) { order = append(order, 2) })

	c.Collect()
	require.Equal(t, []int{1, 2}, order)
}

func TestUndefineFinalizerPreventsInvocation(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)

	ran := false
	c.DefineFinalizer(obj.Ref(), func(id uintptr) { ran = true })
	c.UndefineFinalizer(obj.Ref())
	require.False(t, obj.Ref().header().flags&FlagFinalizer != 0)

	c.Collect()
	require.False(t, ran)
}

func TestCopyFinalizerSharesCallables(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	src, err := c.NewObject(KindObject)
	require.NoError(t, err)
	dst, err := c.NewObject(KindObject)
	require.NoError(t, err)

	ran := ""
	c.DefineFinalizer(src.Ref(), func(id uintptr) { ran = "src" })
	c.CopyFinalizer(dst.Ref(), src.Ref())

	// drop the source's own registration; the copy on dst must still fire.
	c.UndefineFinalizer(src.Ref())

	c.Collect()
	require.Equal(t, "src", ran, "dst must carry its own copy of src's callables")
}

func TestFinalizerPanicIsCaughtSilently(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)

	after := false
	c.DefineFinalizer(obj.Ref(), func(id uintptr) { panic("boom") })
	c.DefineFinalizer(obj.Ref(), func(id uintptr) { after = true })

	require.NotPanics(t, func() { c.Collect() })
	require.True(t, after, "a panicking finalizer must not prevent the next one from running")
}

func TestShutdownRunsFinalizersOfUnrootedObjects(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	a, err := c.NewObject(KindObject)
	require.NoError(t, err)
	b, err := c.NewObject(KindObject)
	require.NoError(t, err)

	var ranA, ranB bool
	c.DefineFinalizer(a.Ref(), func(id uintptr) { ranA = true })
	c.DefineFinalizer(b.Ref(), func(id uintptr) { ranB = true })
	// neither object is rooted.

	c.Shutdown()
	require.True(t, ranA)
	require.True(t, ranB)
}

func TestShutdownTearsDownUnregisteredDataObjects(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	data, err := c.NewObject(KindData)
	require.NoError(t, err)
	file, err := c.NewObject(KindFile)
	require.NoError(t, err)
	internal, err := c.NewObject(KindData)
	require.NoError(t, err)
	internal.SetFlag(FlagVMInternal)

	// all three stay rooted, so no ordinary collection ever zombies them;
	// only the at-exit heap walk may tear the first two down.
	tracer.roots = []SlotRef{data.Ref(), file.Ref(), internal.Ref()}

	c.Shutdown()

	require.Contains(t, tracer.deferredRan, data.Ref())
	require.Contains(t, tracer.deferredRan, file.Ref())
	require.NotContains(t, tracer.deferredRan, internal.Ref(),
		"an object flagged as VM-internal must survive the at-exit walk")
}
