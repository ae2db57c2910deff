package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageIndexInsertFindRemove(t *testing.T) {
	pool := newPagePool(40)
	var idx pageIndex

	var pages []*pageDescriptor
	for i := 0; i < 5; i++ {
		pd, err := pool.allocPage()
		require.NoError(t, err)
		pages = append(pages, pd)
		idx.insert(pd)
	}
	defer func() {
		for _, pd := range pages {
			pool.freePage(pd)
		}
	}()

	for _, pd := range pages {
		require.True(t, idx.IsPointerToHeap(uintptr(pd.slotAt(0))))
		require.True(t, idx.IsPointerToHeap(uintptr(pd.slotAt(pd.slots-1))))
	}

	idx.remove(pages[2])
	require.False(t, idx.IsPointerToHeap(uintptr(pages[2].slotAt(0))))
	for i, pd := range pages {
		if i == 2 {
			continue
		}
		require.True(t, idx.IsPointerToHeap(uintptr(pd.slotAt(0))))
	}
}

func TestPageIndexRejectsUnalignedAndOutOfRangeAddresses(t *testing.T) {
	pool := newPagePool(40)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	var idx pageIndex
	idx.insert(pd)

	require.False(t, idx.IsPointerToHeap(uintptr(pd.slotBase)+1), "mid-slot address must not validate")
	require.False(t, idx.IsPointerToHeap(pd.base), "page header address is not a slot")
	require.False(t, idx.IsPointerToHeap(pd.end()), "one past the last slot must not validate")
	require.False(t, idx.IsPointerToHeap(0), "nil must never validate")
}

func TestPageIndexSlotAt(t *testing.T) {
	pool := newPagePool(40)
	pd, err := pool.allocPage()
	require.NoError(t, err)
	defer pool.freePage(pd)

	var idx pageIndex
	idx.insert(pd)

	want := pd.slotAt(3)
	got := idx.slotAt(uintptr(want))
	require.Equal(t, want, got)
}
