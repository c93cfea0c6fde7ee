package util

import (
	"hash/fnv"
	"testing"
)

// TestMapHeapOrder tests that PopMin returns keys by ascending priority
func TestMapHeapOrder(t *testing.T) {
	mh := NewMapHeap()
	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}

	want := []uint64{3, 1, 2}
	for _, w := range want {
		key, _, ok := mh.PopMin()
		if !ok {
			t.Fatal("PopMin() should return an item")
		}
		if key != w {
			t.Errorf("Expected key %d, got %d", w, key)
		}
	}

	if _, _, ok := mh.PopMin(); ok {
		t.Error("PopMin() on empty heap should return ok=false")
	}
}

// TestMapHeapTouch tests that updating a priority moves the item
func TestMapHeapTouch(t *testing.T) {
	mh := NewMapHeap()
	mh.AddItem(1, 1)
	mh.AddItem(2, 2)
	mh.AddItem(3, 3)

	// touch key 1, it becomes the most recent
	mh.AddItem(1, 4)

	key, prio, ok := mh.Peek()
	if !ok || key != 2 || prio != 2 {
		t.Errorf("Expected (2,2) at the top, got (%d,%d,%v)", key, prio, ok)
	}

	if p, ok := mh.Priority(1); !ok || p != 4 {
		t.Errorf("Expected priority 4 for key 1, got %d", p)
	}
}

// TestMapHeapRemoveByKey tests key based removal
func TestMapHeapRemoveByKey(t *testing.T) {
	mh := NewMapHeap()
	for i := uint64(0); i < 10; i++ {
		mh.AddItem(i, 100-i)
	}

	if p, ok := mh.RemoveByKey(9); !ok || p != 91 {
		t.Errorf("RemoveByKey(9) = (%d,%v), want (91,true)", p, ok)
	}
	if mh.Contains(9) {
		t.Error("Key 9 should be removed")
	}
	if _, ok := mh.RemoveByKey(42); ok {
		t.Error("RemoveByKey on missing key should return false")
	}

	key, _, _ := mh.Peek()
	if key != 8 {
		t.Errorf("Expected key 8 at the top, got %d", key)
	}

	mh.Reset()
	if mh.Len() != 0 || mh.Contains(1) {
		t.Error("Reset should clear the heap")
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.MedianEstimate() != 0 {
		t.Error("Empty histogram should report 0")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(5000)
	}

	if h.GetCount() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.GetCount())
	}
	if h.Sum() != 90*10+10*5000 {
		t.Errorf("Unexpected sum %d", h.Sum())
	}
	if m := h.MedianEstimate(); m != 8 {
		t.Errorf("Expected median estimate 8, got %d", m)
	}
	if p := h.GetPercentileEstimate(99); p <= 4096 || p > 16384 {
		t.Errorf("Expected p99 inside the 4K-16K bucket, got %d", p)
	}

	h.Reset()
	if h.GetCount() != 0 {
		t.Error("Reset should clear the histogram")
	}
}

func TestHashBytes(t *testing.T) {
	ref := fnv.New64a()
	_, _ = ref.Write([]byte("abc"))
	if HashBytes([]byte("abc"), 0) != ref.Sum64() {
		t.Error("HashBytes with seed 0 should be FNV-1a")
	}
	if HashBytes([]byte("abc"), 0) == HashBytes([]byte("abc"), 1) {
		t.Error("Different seeds should produce different hashes")
	}
	if AlignUp(13, 8) != 16 || AlignUp(16, 8) != 16 || AlignUp(0, 4096) != 0 {
		t.Error("AlignUp returned unexpected values")
	}
}
