package gc

import (
	"math/bits"

	"go.uber.org/atomic"
)

const wordBits = 64

// markBitmap is a per-page array of mark bits, one per slot, stored
// separately from the slot itself (spec.md §4.4). Index arithmetic mirrors
// authorNari/ruby's MARKED_IN_BITMAP/MARK_IN_BITMAP/CLEAR_IN_BITMAP macros
// in gc_ms_heap.c. The words are atomic: during a parallel mark phase every
// worker goroutine sets bits concurrently, and a plain |= on a shared word
// can lose a racing worker's bit.
type markBitmap struct {
	words []atomic.Uint64
}

func newMarkBitmap(slots int) *markBitmap {
	return &markBitmap{words: make([]atomic.Uint64, (slots+wordBits-1)/wordBits)}
}

func (b *markBitmap) index(slot int) (word, bit int) {
	return slot / wordBits, slot % wordBits
}

// IsMarked reports whether the slot at the given index is marked.
func (b *markBitmap) IsMarked(slot int) bool {
	w, bit := b.index(slot)
	return b.words[w].Load()&(uint64(1)<<uint(bit)) != 0
}

// Mark sets the mark bit for slot and reports whether it was previously
// unset. Of any number of workers racing to mark the same slot, exactly one
// observes a true return and goes on to trace the slot's children.
func (b *markBitmap) Mark(slot int) bool {
	w, bit := b.index(slot)
	mask := uint64(1) << uint(bit)
	for {
		old := b.words[w].Load()
		if old&mask != 0 {
			return false
		}
		if b.words[w].CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// Clear zeroes every bit. Called per-page at the end of sweep (I2: at the
// start of each cycle all mark bits are zero). Only the mutator thread
// sweeps, so clearing needs no CAS, just atomic stores.
func (b *markBitmap) Clear() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Count returns the number of set bits, used by profiling and tests.
func (b *markBitmap) Count() int {
	n := 0
	for i := range b.words {
		n += bits.OnesCount64(b.words[i].Load())
	}
	return n
}

// bitmapPool is a free-bitmap pool: a slice-backed LIFO stack of unused bitmap
// buffers kept around to avoid malloc/free churn as pages churn (spec.md
// §4.1 "Free-bitmap pool"). Buffers are sized for the collector's fixed
// slots-per-page count, so any pooled buffer fits any page.
type bitmapPool struct {
	free []*markBitmap
}

func (p *bitmapPool) get(slots int) *markBitmap {
	if n := len(p.free); n > 0 {
		bm := p.free[n-1]
		p.free = p.free[:n-1]
		bm.Clear()
		return bm
	}
	return newMarkBitmap(slots)
}

func (p *bitmapPool) put(bm *markBitmap) {
	p.free = append(p.free, bm)
}
