package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkerMarksDeepChainWithoutStackOverflow(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)
	// the chain is longer than one page and not rooted until fully built, so
	// an allocation-triggered cycle mid-build would reclaim it out from
	// under the test.
	c.Disable()

	const depth = markRecursionLimit*2 + 10
	var refs []SlotRef
	var prev SlotRef
	for i := 0; i < depth; i++ {
		obj, err := c.NewObject(KindObject)
		require.NoError(t, err)
		if prev != 0 {
			link(obj, prev, 0)
		}
		prev = obj.Ref()
		refs = append(refs, prev)
	}
	tracer.roots = []SlotRef{prev}

	m := newMarker(c)
	m.run()

	for _, ref := range refs {
		pd := descriptorOf(uintptr(ref))
		require.True(t, pd.bitmap.IsMarked(pd.slotIndex(ref)), "every object in the chain must be marked")
	}
}

func TestMarkerMarksObjectSharedByTwoRoots(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	shared, err := c.NewObject(KindObject)
	require.NoError(t, err)
	a, err := c.NewObject(KindObject)
	require.NoError(t, err)
	b, err := c.NewObject(KindObject)
	require.NoError(t, err)
	link(a, shared.Ref(), 0)
	link(b, shared.Ref(), 0)
	tracer.roots = []SlotRef{a.Ref(), b.Ref()}

	m := newMarker(c)
	m.run()

	pd := descriptorOf(uintptr(shared.Ref()))
	require.True(t, pd.bitmap.IsMarked(pd.slotIndex(shared.Ref())))
}

func TestMarkCandidateWordRejectsFreeSlot(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)
	ref := obj.Ref()
	c.heap.freeSlot(ref)

	m := newMarker(c)
	m.markCandidateWord(uintptr(ref))

	pd := descriptorOf(uintptr(ref))
	require.False(t, pd.bitmap.IsMarked(pd.slotIndex(ref)), "a free slot must never be marked")
}
