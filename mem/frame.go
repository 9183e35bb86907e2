// Package mem implements the physical frame allocator (spec.md §4.1, L1).
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t: a bitmap of page frames
// with first-fit linear search, refcount-free here since the kernel core
// this spec covers has no copy-on-write fork to share frames across. The
// teacher's per-CPU free-list fast path (percpu[runtime.MAXCPUS]) is dropped:
// spec.md §1 Non-goals excludes SMP, so there is exactly one allocating
// goroutine at a time and the fast path would be dead code (see DESIGN.md).
package mem

import (
	"sync"

	"palmyraos/kerr"
)

// PageSize is the frame size in bytes (spec.md §3, "4096-byte aligned region").
const PageSize = 4096

// PageShift is PageSize's base-2 exponent.
const PageShift = 12

// Frame identifies a physical frame by its base address.
type Frame uintptr

// Number returns the frame index (address >> PageShift).
func (f Frame) Number() uintptr { return uintptr(f) >> PageShift }

// Allocator is the bitmap-backed physical frame allocator described in
// spec.md §4.1. A set bit means the frame is allocated.
type Allocator struct {
	mu        sync.Mutex
	base      Frame  // frame number of bit 0
	total     uint32 // total frames tracked
	bitmap    []uint64
	allocated uint32
}

// New constructs an Allocator covering frames [0, ramSize/PageSize) and
// reserves every frame below safeEnd, per spec.md §4.1 "Input at boot: a
// 'safe end' address beyond the kernel image and the total RAM size."
func New(safeEnd Frame, ramSize uintptr) *Allocator {
	total := uint32(ramSize / PageSize)
	words := (total + 63) / 64
	a := &Allocator{
		base:   0,
		total:  total,
		bitmap: make([]uint64, words),
	}
	reserve := uint32(safeEnd.Number())
	for i := uint32(0); i < reserve && i < total; i++ {
		a.setBit(i)
		a.allocated++
	}
	return a
}

func (a *Allocator) bit(i uint32) bool {
	return a.bitmap[i/64]&(1<<(i%64)) != 0
}

func (a *Allocator) setBit(i uint32)   { a.bitmap[i/64] |= 1 << (i % 64) }
func (a *Allocator) clearBit(i uint32) { a.bitmap[i/64] &^= 1 << (i % 64) }

func (a *Allocator) frameAt(i uint32) Frame {
	return Frame((uintptr(a.base.Number()) + uintptr(i)) << PageShift)
}

func (a *Allocator) indexOf(f Frame) (uint32, bool) {
	n := f.Number()
	base := a.base.Number()
	if n < base {
		return 0, false
	}
	idx := uint32(n - base)
	if idx >= a.total {
		return 0, false
	}
	return idx, true
}

// AllocateFrame returns one free frame, or kerr.ErrOutOfMemory. Search is
// first-fit linear over the bitmap, as spec.md §4.1 requires.
func (a *Allocator) AllocateFrame() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := uint32(0); i < a.total; i++ {
		if !a.bit(i) {
			a.setBit(i)
			a.allocated++
			return a.frameAt(i), nil
		}
	}
	return 0, kerr.ErrOutOfMemory
}

// AllocateContiguous returns the base of a run of n consecutive free frames,
// setting all n bits. Ties are broken by lowest index, per spec.md §4.1.
func (a *Allocator) AllocateContiguous(n uint32) (Frame, error) {
	if n == 0 {
		kerr.Fatal("AllocateContiguous: n == 0")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < a.total; i++ {
		if !a.bit(i) {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				for j := start; j < start+n; j++ {
					a.setBit(j)
				}
				a.allocated += n
				return a.frameAt(start), nil
			}
		} else {
			run = 0
		}
	}
	return 0, kerr.ErrOutOfMemory
}

// FreeFrame releases a single frame. Freeing an already-free frame is a bug
// (spec.md §4.1 "Double-free is a bug ... must detect and report it") and
// panics rather than silently succeeding.
func (a *Allocator) FreeFrame(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.indexOf(f)
	if !ok {
		kerr.Fatalf("FreeFrame: frame %#x out of range", uintptr(f))
	}
	if !a.bit(idx) {
		kerr.Fatalf("FreeFrame: double free of frame %#x", uintptr(f))
	}
	a.clearBit(idx)
	a.allocated--
}

// FreeFrames releases n frames starting at base.
func (a *Allocator) FreeFrames(base Frame, n uint32) {
	for i := uint32(0); i < n; i++ {
		a.FreeFrame(Frame(uintptr(base) + uintptr(i)*PageSize))
	}
}

// Reserve marks a specific frame allocated without returning it to a caller,
// used at boot to carve out MMIO/ACPI regions discovered after safeEnd.
func (a *Allocator) Reserve(f Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.indexOf(f)
	if !ok {
		return kerr.ErrInvalidArgument
	}
	if a.bit(idx) {
		return kerr.ErrBusy
	}
	a.setBit(idx)
	a.allocated++
	return nil
}

// Counts reports (allocated, free) frame counts. spec.md §8's universal
// invariant "allocated + free == total" holds at every call.
func (a *Allocator) Counts() (allocated, free uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated, a.total - a.allocated
}

// Total returns the number of frames tracked by the allocator.
func (a *Allocator) Total() uint32 {
	return a.total
}
