package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXmallocRejectsNegativeSize(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	_, err := c.Xmalloc(-1)
	require.Error(t, err)
}

func TestXmallocTriggersCollectionPastLimit(t *testing.T) {
	tracer := &fakeTracer{}
	c, err := NewCollector(tracer, Config{SlotSize: 64, InitialPages: 1, InitialMallocLimit: 16})
	require.NoError(t, err)

	_, err = c.Xmalloc(8)
	require.NoError(t, err)
	require.Equal(t, 0, c.Cycles(), "a small allocation under the limit must not trigger a cycle")

	_, err = c.Xmalloc(32)
	require.NoError(t, err)
	require.Equal(t, 1, c.Cycles(), "crossing malloc_limit must trigger exactly one collection")
}

func TestXcallocRejectsOverflow(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	_, err := c.Xcalloc(1<<62, 1<<62)
	require.Error(t, err, "count*size overflow must be rejected, not wrapped")
}

func TestXcallocZeroesRequestedBytes(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	buf, err := c.Xcalloc(4, 8)
	require.NoError(t, err)
	require.Len(t, buf, 32)
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestXreallocPreservesContentsAndAccountsDelta(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	buf, err := c.Xmalloc(4)
	require.NoError(t, err)
	copy(buf, []byte{1, 2, 3, 4})

	grown, err := c.Xrealloc(buf, 8)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, grown)
	require.Equal(t, int64(8), c.alloc.increase, "growth should leave the accountant tracking the larger size")

	shrunk, err := c.Xrealloc(grown, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, shrunk)
	require.Equal(t, int64(2), c.alloc.increase)
}

func TestXfreeCreditsAccountant(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	buf, err := c.Xmalloc(16)
	require.NoError(t, err)
	require.Equal(t, int64(16), c.alloc.increase)

	c.Xfree(buf)
	require.Zero(t, c.alloc.increase)
}

func TestAllocAccountantNeverGoesNegative(t *testing.T) {
	var a allocAccountant
	a.noteFree(100)
	require.Zero(t, a.increase, "freeing more than was ever allocated must clamp at zero")
}
