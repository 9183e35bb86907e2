// Package paging implements the kernel page directory (spec.md §4.2, L1).
//
// Grounded on biscuit/src/vm/as.go's Vm_t: a mutex-guarded address space
// holding a pmap pointer, with Lock_pmap/Unlock_pmap/Lockassert_pmap
// bracketing every page-table mutation, and biscuit/src/mem/dmap.go's direct
// map for translating physical frames to kernel-accessible memory. The
// teacher's recursive four-level x86-64 page table walk collapses here to a
// single flat 1024-slot directory (spec.md §3 "Page directory ... An ordered
// 1024-slot structure mapping 4 MiB virtual ranges"), matching PalmyraOS's
// 32-bit protected-mode target rather than biscuit's amd64 four-level tree.
package paging

import (
	"sync"

	"palmyraos/kerr"
	"palmyraos/mem"
)

// Entries per directory (spec.md §3).
const DirectorySlots = 1024

// RegionSize is the virtual range one directory slot covers (4 MiB).
const RegionSize = 4 * 1024 * 1024

// Flags for a mapping.
type Flags uint8

const (
	Present Flags = 1 << iota
	Writable
	User
)

// pageTable is the 1024-entry table a directory slot lazily points at.
type pageTable struct {
	frames [1024]mem.Frame
	flags  [1024]Flags
	valid  [1024]bool
}

// Directory is a process (or the kernel's) page directory: 1024 slots each
// either empty or pointing at a lazily-allocated page table.
//
// Invariant (spec.md §3): "user directories share the upper half with the
// kernel directory by reference, never by copy" — UserDirectory below
// enforces this by aliasing the kernel directory's upper-half table
// pointers instead of copying them.
type Directory struct {
	mu      sync.Mutex
	locked  bool // pgfltaken in the teacher: true while Lock_pmap is held
	tables  [DirectorySlots]*pageTable
	frames  *mem.Allocator
	isUser  bool
	kernel  *Directory // nil for the kernel directory itself
	// identMapped tracks virtual addresses handed out by AllocatePages so
	// FreePage can find their backing frames again.
	identMapped map[uintptr][]mem.Frame
}

// NewKernelDirectory creates the process-wide kernel page directory.
func NewKernelDirectory(frames *mem.Allocator) *Directory {
	// AllocatePages reports failure as address 0, so frame 0 (address 0)
	// is reserved and never handed out.
	_ = frames.Reserve(0)
	return &Directory{
		frames:      frames,
		identMapped: make(map[uintptr][]mem.Frame),
	}
}

// NewUserDirectory creates a directory sharing the upper half of kernel by
// reference: slots >= half alias the same *pageTable pointers as kernel.
func NewUserDirectory(kernelDir *Directory) *Directory {
	d := &Directory{
		frames:      kernelDir.frames,
		isUser:      true,
		kernel:      kernelDir,
		identMapped: make(map[uintptr][]mem.Frame),
	}
	half := DirectorySlots / 2
	kernelDir.mu.Lock()
	for i := half; i < DirectorySlots; i++ {
		d.tables[i] = kernelDir.tables[i]
	}
	kernelDir.mu.Unlock()
	return d
}

// LockPmap acquires the address space mutex and marks a page-table mutation
// in progress, mirroring vm/as.go's Lock_pmap.
func (d *Directory) LockPmap() {
	d.mu.Lock()
	d.locked = true
}

// UnlockPmap releases the address space mutex, mirroring Unlock_pmap.
func (d *Directory) UnlockPmap() {
	d.locked = false
	d.mu.Unlock()
}

// LockassertPmap panics if the pmap lock is not held, mirroring
// Lockassert_pmap.
func (d *Directory) LockassertPmap() {
	if !d.locked {
		kerr.Fatal("paging: pmap lock must be held")
	}
}

func slotAndOffset(va uintptr) (slot int, table int) {
	slot = int(va / RegionSize)
	rem := va % RegionSize
	table = int(rem / mem.PageSize)
	return
}

// Map installs a single-page mapping from va to the given frame, creating
// the backing page table lazily (spec.md §4.2 "the page directory entry is
// lazily created"). flags always has Present set by the caller's choice of
// Writable/User.
func (d *Directory) Map(va uintptr, f mem.Frame, flags Flags) {
	d.LockPmap()
	defer d.UnlockPmap()
	d.mapLocked(va, f, flags)
}

func (d *Directory) mapLocked(va uintptr, f mem.Frame, flags Flags) {
	slot, idx := slotAndOffset(va)
	pt := d.tables[slot]
	if pt == nil {
		pt = &pageTable{}
		d.tables[slot] = pt
	}
	pt.frames[idx] = f
	pt.flags[idx] = flags | Present
	pt.valid[idx] = true
}

// Translate returns the frame backing va, if mapped.
func (d *Directory) Translate(va uintptr) (mem.Frame, Flags, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot, idx := slotAndOffset(va)
	pt := d.tables[slot]
	if pt == nil || !pt.valid[idx] {
		return 0, 0, false
	}
	return pt.frames[idx], pt.flags[idx], true
}

func (d *Directory) unmapLocked(va uintptr) {
	slot, idx := slotAndOffset(va)
	pt := d.tables[slot]
	if pt == nil || !pt.valid[idx] {
		return
	}
	pt.valid[idx] = false
	pt.frames[idx] = 0
	pt.flags[idx] = 0
}

// AllocatePages identity-maps n contiguous frames from the frame allocator
// into kernel virtual space and returns the (equal) virtual address, "used
// exclusively for DMA-safe buffers" per spec.md §4.2. Returns 0 on OOM —
// "callers above the heap must treat null as out of memory."
func (d *Directory) AllocatePages(n uint32) uintptr {
	base, err := d.frames.AllocateContiguous(n)
	if err != nil {
		return 0
	}
	va := uintptr(base)
	d.LockPmap()
	defer d.UnlockPmap()
	frames := make([]mem.Frame, n)
	for i := uint32(0); i < n; i++ {
		f := mem.Frame(uintptr(base) + uintptr(i)*mem.PageSize)
		frames[i] = f
		d.mapLocked(va+uintptr(i)*mem.PageSize, f, Writable)
	}
	d.identMapped[va] = frames
	return va
}

// FreePage unmaps and frees the identity-mapped region beginning at va, the
// counterpart to AllocatePages (spec.md §4.2).
func (d *Directory) FreePage(va uintptr) {
	d.mu.Lock()
	frames, ok := d.identMapped[va]
	if !ok {
		d.mu.Unlock()
		kerr.Fatal("paging: FreePage of unknown region")
	}
	delete(d.identMapped, va)
	for i := range frames {
		d.unmapLocked(va + uintptr(i)*mem.PageSize)
	}
	d.mu.Unlock()
	d.frames.FreeFrames(frames[0], uint32(len(frames)))
}
