// Package port provides typed port I/O and MMIO primitives (spec.md §4, L0).
//
// On real hardware these are single `in`/`out` instructions, which biscuit's
// modified Go runtime exposes as compiler intrinsics (runtime.Inb/Outb) —
// there is no portable way to emit those without patching cmd/compile the
// way the teacher's toolchain does. Bus is the idiomatic substitute: a typed
// seam that production code drives against real hardware and tests drive
// against SimBus, an in-memory register file. This mirrors how
// golang.org/x/sys/unix callers (runZeroInc-sockstats, caddyserver-caddy's
// vendored x/sys/unix tree) abstract raw syscalls behind a small interface
// for testability.
package port

import "sync"

// Bus is a byte/word/dword-addressable port space.
type Bus interface {
	In8(p uint16) uint8
	In16(p uint16) uint16
	In32(p uint16) uint32
	Out8(p uint16, v uint8)
	Out16(p uint16, v uint16)
	Out32(p uint16, v uint32)
}

// SimBus backs Bus with an in-memory map, for tests and for the hosted
// development build of palmyractl.
type SimBus struct {
	mu   sync.Mutex
	regs map[uint16]uint32
}

// NewSimBus returns an empty simulated port space.
func NewSimBus() *SimBus {
	return &SimBus{regs: make(map[uint16]uint32)}
}

func (b *SimBus) In8(p uint16) uint8   { return uint8(b.load(p)) }
func (b *SimBus) In16(p uint16) uint16 { return uint16(b.load(p)) }
func (b *SimBus) In32(p uint16) uint32 { return b.load(p) }

func (b *SimBus) Out8(p uint16, v uint8)   { b.store(p, uint32(v)) }
func (b *SimBus) Out16(p uint16, v uint16) { b.store(p, uint32(v)) }
func (b *SimBus) Out32(p uint16, v uint32) { b.store(p, v) }

func (b *SimBus) load(p uint16) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[p]
}

func (b *SimBus) store(p uint16, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[p] = v
}

// Poke directly sets a register's value, for test setup (e.g. simulating a
// device that becomes ready after N polls).
func (b *SimBus) Poke(p uint16, v uint32) {
	b.store(p, v)
}

// MMIO32 reads/writes a little-endian 32-bit register inside a byte-addressed
// memory-mapped region (an ECAM config window, an HPET block, a NIC CSR bar).
type MMIO32 struct {
	Region []uint8
}

func (m MMIO32) Read(off uint32) uint32 {
	b := m.Region[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (m MMIO32) Write(off uint32, v uint32) {
	b := m.Region[off : off+4]
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
	b[2] = uint8(v >> 16)
	b[3] = uint8(v >> 24)
}

// MMIO64 reads/writes a little-endian 64-bit register.
type MMIO64 struct {
	Region []uint8
}

func (m MMIO64) Read(off uint32) uint64 {
	lo := MMIO32{m.Region}.Read(off)
	hi := MMIO32{m.Region}.Read(off + 4)
	return uint64(lo) | uint64(hi)<<32
}

func (m MMIO64) Write(off uint32, v uint64) {
	MMIO32{m.Region}.Write(off, uint32(v))
	MMIO32{m.Region}.Write(off+4, uint32(v>>32))
}
