package gc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func chunkOf(ref SlotRef) *markChunk {
	c := &markChunk{}
	c.push(ref)
	return c
}

func TestWorkDequePushPopOwnerOnly(t *testing.T) {
	d := newWorkDeque()
	require.True(t, d.empty())

	chunks := make([]*markChunk, 10)
	for i := 1; i <= 10; i++ {
		chunks[i-1] = chunkOf(SlotRef(i))
		require.True(t, d.pushBottom(chunks[i-1]))
	}
	require.False(t, d.empty())

	for i := 10; i >= 1; i-- {
		c, ok := d.popBottom()
		require.True(t, ok)
		require.Same(t, chunks[i-1], c)
	}
	_, ok := d.popBottom()
	require.False(t, ok)
}

func TestWorkDequeRejectsPushPastCapacity(t *testing.T) {
	d := newWorkDeque()
	for i := 0; i < dequeCapacity(); i++ {
		require.True(t, d.pushBottom(chunkOf(SlotRef(i+1))), "ring must accept up to its fixed capacity")
	}
	require.False(t, d.pushBottom(chunkOf(SlotRef(999))), "ring must reject pushes once full rather than growing")
}

func TestWorkDequeStealFromTop(t *testing.T) {
	d := newWorkDeque()
	first := chunkOf(SlotRef(1))
	d.pushBottom(first)
	for i := 2; i <= 5; i++ {
		d.pushBottom(chunkOf(SlotRef(i)))
	}
	c, ok := d.popTop()
	require.True(t, ok)
	require.Same(t, first, c, "steal must take from the opposite end as pop")
}

func TestWorkDequeConcurrentStealDoesNotDuplicate(t *testing.T) {
	d := newWorkDeque()
	const n = 2000
	chunks := make([]*markChunk, n)
	for i := 1; i <= n; i++ {
		chunks[i-1] = chunkOf(SlotRef(i))
		d.pushBottom(chunks[i-1])
	}

	seen := make(chan *markChunk, n)
	var wg sync.WaitGroup
	stealers := 4
	wg.Add(stealers)
	for i := 0; i < stealers; i++ {
		go func() {
			defer wg.Done()
			for {
				c, ok := d.popTop()
				if !ok {
					if d.empty() {
						return
					}
					continue
				}
				seen <- c
			}
		}()
	}

	var owner []*markChunk
	for {
		c, ok := d.popBottom()
		if !ok {
			break
		}
		owner = append(owner, c)
	}
	wg.Wait()
	close(seen)

	total := len(owner)
	unique := make(map[*markChunk]bool)
	for _, c := range owner {
		require.False(t, unique[c])
		unique[c] = true
	}
	for c := range seen {
		require.False(t, unique[c], "stolen item must not also have been popped by owner")
		unique[c] = true
		total++
	}
	require.Equal(t, n, total)
}

func TestArrayDequePushPopIsLIFO(t *testing.T) {
	var d arrayDeque
	require.True(t, d.empty())

	d.push(arrayTask{obj: 1, start: 0})
	d.push(arrayTask{obj: 1, start: 512})
	require.False(t, d.empty())

	t2, ok := d.pop()
	require.True(t, ok)
	require.Equal(t, 512, t2.start)

	t1, ok := d.pop()
	require.True(t, ok)
	require.Equal(t, 0, t1.start)

	_, ok = d.pop()
	require.False(t, ok)
}

func TestMarkChunkPushPop(t *testing.T) {
	c := &markChunk{}
	for i := 0; i < markChunkCapacity; i++ {
		require.True(t, c.push(SlotRef(i+1)))
	}
	require.False(t, c.push(SlotRef(999)), "chunk must reject pushes past capacity")

	for i := markChunkCapacity; i >= 1; i-- {
		ref, ok := c.pop()
		require.True(t, ok)
		require.Equal(t, SlotRef(i), ref)
	}
	_, ok := c.pop()
	require.False(t, ok)
}

func TestChunkPoolCacheLimit(t *testing.T) {
	var pool chunkPool
	chunks := make([]*markChunk, chunkCacheLimit+2)
	for i := range chunks {
		chunks[i] = pool.get()
	}
	for _, c := range chunks {
		pool.put(c)
	}
	require.Equal(t, chunkCacheLimit, pool.count)
}

func TestOverflowStackPushPop(t *testing.T) {
	var o overflowStack
	require.True(t, o.empty())
	c1, c2 := &markChunk{}, &markChunk{}
	o.push(c1)
	o.push(c2)
	require.False(t, o.empty())
	require.Same(t, c2, o.pop())
	require.Same(t, c1, o.pop())
	require.True(t, o.empty())
}
