package kheap

import (
	"testing"

	"palmyraos/mem"
	"palmyraos/paging"
)

func newTestHeap() *Heap {
	frames := mem.New(0, 256*mem.PageSize)
	dir := paging.NewKernelDirectory(frames)
	return New(dir)
}

// TestSplitAndMerge exercises spec.md §8 scenario 1: allocate two chunks out
// of one grown arena, free the first, free the second, and confirm the
// free list coalesces back down to a single chunk.
func TestSplitAndMerge(t *testing.T) {
	h := newTestHeap()

	a, err := h.Alloc(64, false)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	b, err := h.Alloc(128, false)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}

	h.Free(a)
	h.Free(b)

	if got := h.FreeChunks(); got != 1 {
		t.Fatalf("FreeChunks after freeing both = %d, want 1 (fully coalesced)", got)
	}
}

func TestAllocWritesAreIsolated(t *testing.T) {
	h := newTestHeap()
	a, err := h.Alloc(16, false)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	b, err := h.Alloc(16, false)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}

	pa := h.Payload(a)
	pb := h.Payload(b)
	for i := range pa {
		pa[i] = 0xAA
	}
	for i := range pb {
		pb[i] = 0xBB
	}
	for i, v := range pa {
		if v != 0xAA {
			t.Fatalf("payload a corrupted at %d: %#x", i, v)
		}
	}
	for i, v := range pb {
		if v != 0xBB {
			t.Fatalf("payload b corrupted at %d: %#x", i, v)
		}
	}
}

func TestDoubleFreePanics(t *testing.T) {
	h := newTestHeap()
	off, err := h.Alloc(32, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	h.Free(off)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	h.Free(off)
}
