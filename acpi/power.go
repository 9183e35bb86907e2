package acpi

import (
	"bytes"
	"encoding/binary"

	"palmyraos/klog"
	"palmyraos/port"
)

// AddressSpace identifies where a Generic Address Structure's register
// lives, per the FADT reset register spec.md §4.6 describes.
type AddressSpace uint8

const (
	SpaceMemory AddressSpace = 0
	SpaceIO     AddressSpace = 1
)

// ResetRegister is the FADT's RESET_REG + RESET_VALUE pair.
type ResetRegister struct {
	Space   AddressSpace
	Address uint64
	Value   uint8
}

// PowerManager drives spec.md §4.6's reboot/shutdown fallback chains. It is
// constructed from the parsed FADT and DSDT so Reboot/Shutdown never touch
// ACPI parsing again.
type PowerManager struct {
	Reset      ResetRegister
	PM1aCtlBlk uint16
	SlpTypA    uint8
	SlpTypB    uint8
	bus        port.Bus
}

// NewPowerManager builds a PowerManager from a parsed FADT table and the
// DSDT bytes (searched for the literal "_S5_" package per spec.md §4.6).
func NewPowerManager(fadt *Table, dsdt []byte, bus port.Bus) *PowerManager {
	pm := &PowerManager{bus: bus}
	if fadt != nil {
		pm.Reset = parseResetRegister(fadt.Raw)
		pm.PM1aCtlBlk = uint16(binary.LittleEndian.Uint32(fadt.Raw[64:68]))
	}
	pm.SlpTypA, pm.SlpTypB = scanS5(dsdt)
	return pm
}

// FADT RESET_REG lives at byte offset 116 (GAS: 1 space id + 1 bit width + 1
// bit offset + 1 access size + 8 address), RESET_VALUE at 128, in the ACPI
// 2.0+ FADT layout.
func parseResetRegister(raw []byte) ResetRegister {
	if len(raw) < 129 {
		return ResetRegister{}
	}
	space := AddressSpace(raw[116])
	addr := binary.LittleEndian.Uint64(raw[120:128])
	value := raw[128]
	return ResetRegister{Space: space, Address: addr, Value: value}
}

// scanS5 walks the DSDT byte-wise for the literal "_S5_" and extracts the
// two byte-constants following its Package opcode, per spec.md §4.6.
// AML encodes small integers (0-58) as a single byte equal to the value, or
// as a ByteConst (0x0A) followed by the value byte; this scans past either
// encoding for SLP_TYPa then SLP_TYPb.
func scanS5(dsdt []byte) (a, b uint8) {
	idx := bytes.Index(dsdt, []byte("_S5_"))
	if idx < 0 {
		return 0, 0
	}
	// Skip "_S5_" and the PackageOp byte (0x12); PkgLength byte(s) and the
	// NumElements byte are skipped below to reach the first element.
	i := idx + 5
	readVal := func() (uint8, bool) {
		if i >= len(dsdt) {
			return 0, false
		}
		if dsdt[i] == 0x0A { // AML ByteConst prefix
			i++
			if i >= len(dsdt) {
				return 0, false
			}
			v := dsdt[i]
			i++
			return v, true
		}
		v := dsdt[i]
		i++
		return v, true
	}
	// Skip PkgLength (1-4 bytes, high 2 bits of first byte give extra
	// byte count) and NumElements.
	if i < len(dsdt) {
		lead := dsdt[i]
		extra := int(lead >> 6)
		i += 1 + extra // PkgLength
		i++             // NumElements
	}
	av, ok1 := readVal()
	bv, ok2 := readVal()
	if !ok1 || !ok2 {
		return 0, 0
	}
	return av, bv
}

const (
	pm1SlpEn  uint16 = 1 << 13
	kbdCtrl           = 0x64
	kbdPulseRst uint8 = 0xFE
)

// Reboot tries, in order: the ACPI reset register, a keyboard-controller
// pulse, and finally a triple fault via a null IDT + int3. It never
// returns, per spec.md §4.6.
func (pm *PowerManager) Reboot() {
	if pm.Reset.Address != 0 {
		switch pm.Reset.Space {
		case SpaceIO:
			pm.bus.Out8(uint16(pm.Reset.Address), pm.Reset.Value)
		case SpaceMemory:
			// memory-mapped reset register: caller's bus models
			// this as a normal port write against a fixed
			// MMIO-backed port number in the hosted build.
			pm.bus.Out8(uint16(pm.Reset.Address), pm.Reset.Value)
		}
	}
	klog.Warnf("acpi: reset register did not restart the machine, trying keyboard controller")
	pm.bus.Out8(kbdCtrl, kbdPulseRst)
	klog.Errorf("acpi: keyboard controller pulse failed, forcing triple fault")
	tripleFault()
}

// Shutdown writes (SLP_TYPa<<10)|(1<<13) to PM1a control; on failure it
// tries the APM INT 15h interface, and finally halts, per spec.md §4.6.
func (pm *PowerManager) Shutdown() {
	if pm.PM1aCtlBlk != 0 {
		val := uint16(pm.SlpTypA)<<10 | pm1SlpEn
		pm.bus.Out16(pm.PM1aCtlBlk, val)
	}
	klog.Warnf("acpi: PM1a shutdown did not power off, trying APM")
	if apmShutdown() {
		return
	}
	klog.Errorf("acpi: APM shutdown failed, halting")
	halt()
}
