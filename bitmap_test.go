package gc

import "testing"

func TestMarkBitmapMarkAndIsMarked(t *testing.T) {
	b := newMarkBitmap(130)
	if b.IsMarked(5) {
		t.Fatalf("expected slot 5 unmarked initially")
	}
	if !b.Mark(5) {
		t.Fatalf("expected first Mark to report newly marked")
	}
	if b.Mark(5) {
		t.Fatalf("expected second Mark to report already marked")
	}
	if !b.IsMarked(5) {
		t.Fatalf("expected slot 5 marked")
	}
	if b.IsMarked(6) {
		t.Fatalf("expected slot 6 unmarked")
	}
}

func TestMarkBitmapCrossesWordBoundary(t *testing.T) {
	b := newMarkBitmap(200)
	b.Mark(63)
	b.Mark(64)
	if !b.IsMarked(63) || !b.IsMarked(64) {
		t.Fatalf("expected both boundary bits marked")
	}
	if b.Count() != 2 {
		t.Fatalf("expected count 2, got %d", b.Count())
	}
}

func TestMarkBitmapClear(t *testing.T) {
	b := newMarkBitmap(64)
	for i := 0; i < 64; i++ {
		b.Mark(i)
	}
	if b.Count() != 64 {
		t.Fatalf("expected all 64 bits set, got %d", b.Count())
	}
	b.Clear()
	if b.Count() != 0 {
		t.Fatalf("expected count 0 after Clear, got %d", b.Count())
	}
}

func TestBitmapPoolReusesAndClears(t *testing.T) {
	var pool bitmapPool
	b1 := pool.get(64)
	b1.Mark(1)
	b1.Mark(2)
	pool.put(b1)

	b2 := pool.get(64)
	if b2 != b1 {
		t.Fatalf("expected pool to reuse the returned bitmap")
	}
	if b2.Count() != 0 {
		t.Fatalf("expected reused bitmap to be cleared, got count %d", b2.Count())
	}
}

func TestBitmapPoolAllocatesWhenEmpty(t *testing.T) {
	var pool bitmapPool
	b := pool.get(64)
	if b == nil {
		t.Fatalf("expected a fresh bitmap when pool is empty")
	}
}
