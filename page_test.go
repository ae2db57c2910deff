package gc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestPagePoolAllocPageIsAligned(t *testing.T) {
	pool := newPagePool(40)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	require.Zero(t, pd.base%pageAlign, "page base must be aligned to pageAlign")
	require.Equal(t, pd.base+pageHeaderSize, pd.slotBase)
	require.Equal(t, pool.slotsPerPage(), pd.slots)
}

func TestPagePoolThreadsFreeList(t *testing.T) {
	pool := newPagePool(40)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	seen := make(map[SlotRef]bool)
	n := 0
	for s := pd.freeHead; s != 0; s = SlotRef(s.header().link) {
		require.False(t, seen[s], "free list must not contain cycles")
		seen[s] = true
		require.Equal(t, KindFree, s.header().kind)
		n++
	}
	require.Equal(t, pd.slots, n)
}

func TestDescriptorOfRoundTrips(t *testing.T) {
	pool := newPagePool(40)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	mid := pd.slotAt(pd.slots / 2)
	got := descriptorOf(uintptr(mid))
	require.Same(t, pd, got)
}

func TestSlotIndexAndSlotAtAreInverse(t *testing.T) {
	pool := newPagePool(40)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	for i := 0; i < pd.slots; i += 7 {
		ref := pd.slotAt(i)
		require.Equal(t, i, pd.slotIndex(ref))
	}
}

func TestSlotRefPayloadIsDisjointFromHeader(t *testing.T) {
	pool := newPagePool(64)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	ref := pd.slotAt(0)
	payload := ref.Payload(64)
	require.Len(t, payload, 64-int(slotHeaderSize))

	payloadStart := uintptr(unsafe.Pointer(&payload[0]))
	require.Equal(t, uintptr(ref)+slotHeaderSize, payloadStart)
}
