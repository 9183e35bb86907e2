// Package pcie implements PCIe config-space access via ECAM (spec.md §4.,
// L2 "PCIe config"): ECAM base from MCFG, typed config-space R/W, and device
// enumeration.
//
// Grounded on biscuit/src/pci/olddiski.go's terse device-config style and
// biscuit/src/msi/msi.go, which the teacher keeps adjacent to PCI config
// access for MSI vector setup — kept adjacent here too (MSIVector below).
package pcie

import (
	"sync"

	"palmyraos/kerr"
	"palmyraos/port"
)

// BDF identifies a PCI(e) function by bus/device/function.
type BDF struct {
	Bus, Device, Function uint8
}

func (b BDF) offset() uint32 {
	return uint32(b.Bus)<<20 | uint32(b.Device)<<15 | uint32(b.Function)<<12
}

// ECAM models the Enhanced Configuration Access Mechanism window: a flat
// memory region where function BDF's 4KB config space starts at
// base + BDF.offset().
type ECAM struct {
	mmio port.MMIO32

	vectorsMu   sync.Mutex
	freeVectors map[InterruptVector]bool
}

// NewECAM wraps the MMIO region discovered from the ACPI MCFG table's base
// address (spec.md: "ECAM base from MCFG").
func NewECAM(region []uint8) *ECAM {
	return &ECAM{mmio: port.MMIO32{Region: region}}
}

// Read32 reads a 32-bit config-space register at byte offset `reg` within
// function bdf's config space.
func (e *ECAM) Read32(bdf BDF, reg uint16) uint32 {
	return e.mmio.Read(bdf.offset() + uint32(reg))
}

// Write32 writes a 32-bit config-space register.
func (e *ECAM) Write32(bdf BDF, reg uint16, v uint32) {
	e.mmio.Write(bdf.offset()+uint32(reg), v)
}

// Standard header register offsets.
const (
	regVendorDevice = 0x00
	regCommand      = 0x04
	regClass        = 0x08
	regBAR0         = 0x10
)

// Command register bits.
const (
	CmdIOSpace     = 1 << 0
	CmdMemSpace    = 1 << 1
	CmdBusMaster   = 1 << 2
)

// Device is a discovered PCIe function's identity.
type Device struct {
	BDF      BDF
	VendorID uint16
	DeviceID uint16
	ClassRev uint32
	BAR0     uint32
}

// invalidVendor is the value read back from config space when no device
// responds at a given BDF, per spec.md §7 "PCI device vendor = 0xFFFF".
const invalidVendor = 0xFFFF

// Probe reads the vendor/device id at bdf; ok is false if no device
// responds there.
func (e *ECAM) Probe(bdf BDF) (Device, bool) {
	vd := e.Read32(bdf, regVendorDevice)
	vendor := uint16(vd)
	if vendor == invalidVendor {
		return Device{}, false
	}
	return Device{
		BDF:      bdf,
		VendorID: vendor,
		DeviceID: uint16(vd >> 16),
		ClassRev: e.Read32(bdf, regClass),
		BAR0:     e.Read32(bdf, regBAR0),
	}, true
}

// Enumerate walks every bus/device/function slot and returns every
// responding device, per spec.md "device enumeration."
func (e *ECAM) Enumerate() []Device {
	var found []Device
	for bus := 0; bus < 256; bus++ {
		for dev := 0; dev < 32; dev++ {
			for fn := 0; fn < 8; fn++ {
				bdf := BDF{uint8(bus), uint8(dev), uint8(fn)}
				if d, ok := e.Probe(bdf); ok {
					found = append(found, d)
					if fn == 0 {
						header := e.Read32(bdf, 0x0C)
						multifunc := header&0x800000 != 0
						if !multifunc {
							break
						}
					}
				} else if fn == 0 {
					break
				}
			}
		}
	}
	return found
}

// EnableBusMastering sets the bus-master and I/O-space command bits, the
// common init-order step every driver in spec.md §4.10 performs first.
func (e *ECAM) EnableBusMastering(bdf BDF) {
	cmd := e.Read32(bdf, regCommand)
	e.Write32(bdf, regCommand, cmd|CmdBusMaster|CmdIOSpace)
}

// IOBase extracts the I/O-space base port from a BAR0 value whose low bit
// is set (BAR is I/O-space, not memory-space).
func IOBase(bar0 uint32) (uint16, error) {
	if bar0&1 == 0 {
		return 0, kerr.Wrap(kerr.ErrInvalidArgument, "pcie: BAR0 is memory-space, not I/O-space")
	}
	return uint16(bar0 &^ 0x3), nil
}

// MSIVector captures a configured Message Signaled Interrupt target for a
// device, kept adjacent to PCI config access the way biscuit keeps msi.go
// beside pci/olddiski.go.
type MSIVector struct {
	Address uint64
	Data    uint32
}

// ConfigureMSI programs a device's MSI capability (at capOffset within its
// config space) to deliver interrupts at vector, matching the teacher's
// msi.go role of wiring MSI beside the rest of PCI enumeration.
func (e *ECAM) ConfigureMSI(bdf BDF, capOffset uint16, vec MSIVector) {
	e.Write32(bdf, capOffset+0x04, uint32(vec.Address))
	e.Write32(bdf, capOffset+0x08, uint32(vec.Address>>32))
	e.Write32(bdf, capOffset+0x0C, vec.Data)
	ctrl := e.Read32(bdf, capOffset)
	e.Write32(bdf, capOffset, ctrl|(1<<16)) // MSI enable bit
}

// InterruptVector identifies an IDT slot reserved for MSI delivery.
//
// Adapted from biscuit/src/msi/msi.go's Msivec_t/Msivecs_t pool, generalized
// from a package-global to one pool per ECAM (each simulated chipset owns
// its own vector space here rather than sharing biscuit's single global).
type InterruptVector uint8

const (
	msiAddressBase = 0xFEE00000 // local APIC MSI address region, x86 SDM vol 3
)

// newMSIVectorPool seeds the vectors biscuit reserves for MSI use (56-63),
// avoiding the low vectors already claimed by legacy PIC/exception entries.
func (e *ECAM) newMSIVectorPool() map[InterruptVector]bool {
	pool := make(map[InterruptVector]bool, 8)
	for v := InterruptVector(56); v <= 63; v++ {
		pool[v] = true
	}
	return pool
}

// AllocInterruptVector reserves an unused MSI interrupt vector.
func (e *ECAM) AllocInterruptVector() (InterruptVector, error) {
	e.vectorsOnce()
	e.vectorsMu.Lock()
	defer e.vectorsMu.Unlock()
	for v := range e.freeVectors {
		delete(e.freeVectors, v)
		return v, nil
	}
	return 0, kerr.Wrap(kerr.ErrOutOfMemory, "pcie: no MSI interrupt vectors available")
}

// FreeInterruptVector returns v to the pool.
func (e *ECAM) FreeInterruptVector(v InterruptVector) {
	e.vectorsOnce()
	e.vectorsMu.Lock()
	defer e.vectorsMu.Unlock()
	e.freeVectors[v] = true
}

func (e *ECAM) vectorsOnce() {
	e.vectorsMu.Lock()
	defer e.vectorsMu.Unlock()
	if e.freeVectors == nil {
		e.freeVectors = e.newMSIVectorPool()
	}
}

// ConfigureMSIVector allocates a free interrupt vector and programs bdf's
// MSI capability to deliver it to the local APIC identified by apicID,
// returning the vector so the caller can register its ISR.
func (e *ECAM) ConfigureMSIVector(bdf BDF, capOffset uint16, apicID uint8) (InterruptVector, error) {
	v, err := e.AllocInterruptVector()
	if err != nil {
		return 0, err
	}
	vec := MSIVector{
		Address: msiAddressBase | uint64(apicID)<<12,
		Data:    uint32(v),
	}
	e.ConfigureMSI(bdf, capOffset, vec)
	return v, nil
}
