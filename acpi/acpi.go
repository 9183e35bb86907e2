// Package acpi discovers and indexes ACPI tables (spec.md §4.4, L0), and
// drives ACPI power management (spec.md §4.6).
//
// Grounded on the teacher's structured-binary-record style
// (biscuit/src/fs/super.go's fieldr/fieldw field accessors over a raw byte
// buffer) generalized here to the header/child-table walk, and on
// zchee-go-qcow2/header.go's documented byte-offset struct fields for how to
// lay out a parsed firmware header in Go.
package acpi

import (
	"encoding/binary"

	"palmyraos/kerr"
	"palmyraos/klog"
)

// Header is the common ACPI System Description Table header every child
// table (and the RSDT/XSDT) carries.
type Header struct {
	Signature    [4]byte
	Length       uint32
	Revision     uint8
	Checksum     uint8
	OEMID        [6]byte
	OEMTableID   [8]byte
	OEMRevision  uint32
	CreatorID    uint32
	CreatorRev   uint32
}

const headerLen = 36

func parseHeader(raw []byte) Header {
	var h Header
	copy(h.Signature[:], raw[0:4])
	h.Length = binary.LittleEndian.Uint32(raw[4:8])
	h.Revision = raw[8]
	h.Checksum = raw[9]
	copy(h.OEMID[:], raw[10:16])
	copy(h.OEMTableID[:], raw[16:24])
	h.OEMRevision = binary.LittleEndian.Uint32(raw[24:28])
	h.CreatorID = binary.LittleEndian.Uint32(raw[28:32])
	h.CreatorRev = binary.LittleEndian.Uint32(raw[32:36])
	return h
}

func checksumOK(raw []byte) bool {
	var sum uint8
	for _, b := range raw {
		sum += b
	}
	return sum == 0
}

// Table is a raw ACPI table: its parsed header plus the full backing bytes
// (header included) so typed accessors (HPET, FADT, MADT, MCFG) can read
// table-specific fields beyond the common header.
type Table struct {
	Header Header
	Raw    []byte
}

// TableSet is the immutable-after-boot keyed index of every validated ACPI
// table, spec.md §3 "ACPI table set ... Immutable after boot. Keyed by
// 4-character signature."
type TableSet struct {
	bySig map[string]*Table
}

// rsdpSignature is the fixed 8-byte RSDP signature spec.md §4.4 requires.
const rsdpSignature = "RSD PTR "

// ReadPhysical abstracts physical memory access for table discovery so
// tests can supply a synthetic ACPI image instead of real firmware memory.
type ReadPhysical func(addr uint64, length int) []byte

// Discover validates the RSDP at rsdpAddr and walks its RSDT or XSDT child
// table array, indexing every table whose checksum validates, per spec.md
// §4.4.
func Discover(rsdpAddr uint64, read ReadPhysical) (*TableSet, error) {
	rsdp := read(rsdpAddr, 36)
	if len(rsdp) < 20 || string(rsdp[0:8]) != rsdpSignature {
		return nil, kerr.Wrap(kerr.ErrCorrupted, "acpi: bad RSDP signature")
	}
	if !checksumOK(rsdp[0:20]) {
		return nil, kerr.Wrap(kerr.ErrCorrupted, "acpi: RSDP checksum (rev 1) mismatch")
	}
	revision := rsdp[15]
	if revision >= 2 {
		if len(rsdp) < 36 || !checksumOK(rsdp[0:36]) {
			return nil, kerr.Wrap(kerr.ErrCorrupted, "acpi: RSDP extended checksum mismatch")
		}
	}

	var rootAddr uint64
	var entrySize int
	if revision >= 2 {
		xsdtAddr := binary.LittleEndian.Uint64(rsdp[24:32])
		if xsdtAddr != 0 {
			rootAddr, entrySize = xsdtAddr, 8
		}
	}
	if rootAddr == 0 {
		rsdtAddr := binary.LittleEndian.Uint32(rsdp[16:20])
		rootAddr, entrySize = uint64(rsdtAddr), 4
	}

	rootHdrRaw := read(rootAddr, headerLen)
	rootHdr := parseHeader(rootHdrRaw)
	rootRaw := read(rootAddr, int(rootHdr.Length))
	if !checksumOK(rootRaw) {
		return nil, kerr.Wrap(kerr.ErrCorrupted, "acpi: RSDT/XSDT checksum mismatch")
	}

	ts := &TableSet{bySig: make(map[string]*Table)}
	childCount := (int(rootHdr.Length) - headerLen) / entrySize
	for i := 0; i < childCount; i++ {
		off := headerLen + i*entrySize
		var childAddr uint64
		if entrySize == 8 {
			childAddr = binary.LittleEndian.Uint64(rootRaw[off : off+8])
		} else {
			childAddr = uint64(binary.LittleEndian.Uint32(rootRaw[off : off+4]))
		}
		childHdrRaw := read(childAddr, headerLen)
		childHdr := parseHeader(childHdrRaw)
		childRaw := read(childAddr, int(childHdr.Length))
		if !checksumOK(childRaw) {
			klog.Warnf("acpi: discarding table %q: checksum mismatch", childHdr.Signature)
			continue
		}
		key := string(childHdr.Signature[:])
		if _, dup := ts.bySig[key]; dup {
			continue // keep the first table of each signature for FindTable
		}
		ts.bySig[key] = &Table{Header: childHdr, Raw: childRaw}
	}
	return ts, nil
}

// FindTable returns the first table matching sig, or nil, per spec.md §4.4
// "find_table(sig) returns the first header matching or null."
func (ts *TableSet) FindTable(sig string) *Table {
	return ts.bySig[sig]
}

// MADT returns the Multiple APIC Description Table, if present.
func (ts *TableSet) MADT() *Table { return ts.FindTable("APIC") }

// FADT returns the Fixed ACPI Description Table, if present.
func (ts *TableSet) FADT() *Table { return ts.FindTable("FACP") }

// HPETTable returns the HPET description table, if present.
func (ts *TableSet) HPETTable() *Table { return ts.FindTable("HPET") }

// MCFG returns the PCI Express memory-mapped config table, if present.
func (ts *TableSet) MCFG() *Table { return ts.FindTable("MCFG") }
