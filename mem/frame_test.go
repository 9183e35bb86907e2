package mem

import "testing"

func TestAllocateFreeRoundTrip(t *testing.T) {
	a := New(0, 16*PageSize)
	allocated, free := a.Counts()
	if allocated != 0 || free != 16 {
		t.Fatalf("initial counts = (%d, %d), want (0, 16)", allocated, free)
	}

	f, err := a.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame: %v", err)
	}
	allocated, free = a.Counts()
	if allocated != 1 || free != 15 {
		t.Fatalf("counts after alloc = (%d, %d), want (1, 15)", allocated, free)
	}

	a.FreeFrame(f)
	allocated, free = a.Counts()
	if allocated != 0 || free != 16 {
		t.Fatalf("counts after free = (%d, %d), want (0, 16)", allocated, free)
	}
}

func TestAllocateContiguousTiesBreakLowest(t *testing.T) {
	a := New(0, 8*PageSize)
	run, err := a.AllocateContiguous(3)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}
	if run.Number() != 0 {
		t.Fatalf("first contiguous run started at frame %d, want 0", run.Number())
	}
	allocated, _ := a.Counts()
	if allocated != 3 {
		t.Fatalf("allocated = %d, want 3", allocated)
	}
}

func TestFreeFrameDoubleFreePanics(t *testing.T) {
	a := New(0, 4*PageSize)
	f, err := a.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame: %v", err)
	}
	a.FreeFrame(f)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a.FreeFrame(f)
}

func TestOutOfMemory(t *testing.T) {
	a := New(0, 2*PageSize)
	if _, err := a.AllocateFrame(); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := a.AllocateFrame(); err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if _, err := a.AllocateFrame(); err == nil {
		t.Fatal("expected out-of-memory error on third allocation")
	}
}
