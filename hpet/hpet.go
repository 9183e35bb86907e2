// Package hpet implements the High Precision Event Timer (spec.md §4.5, L2):
// a monotonic femtosecond counter, microsecond spin-delay, and TSC
// calibration.
//
// Grounded on biscuit/src/accnt/accnt.go's nanosecond accounting pattern
// (atomic counters, a Now() helper, delta accumulation) generalized from
// software process accounting to a hardware counter register.
package hpet

import (
	"sort"
	"sync/atomic"
	"time"

	"palmyraos/kerr"
	"palmyraos/port"
)

// General capabilities register layout (offset 0x00).
const (
	capRevIDMask    = 0xFF
	capPeriodShift  = 32
	capNumCompShift = 8
	capNumCompMask  = 0x1F
	capCounterSize  = 1 << 13
	capLegacyRoute  = 1 << 15
	capVendorShift  = 16
)

// register offsets within the HPET MMIO block.
const (
	regCapabilities  = 0x00
	regConfiguration = 0x10
	regMainCounter   = 0xF0
)

const (
	cfgEnable       = 1 << 0
	cfgLegacyRoute  = 1 << 1
)

// Timer wraps the HPET MMIO block described by the ACPI HPET table.
type Timer struct {
	mmio               port.MMIO64
	ClockPeriodFS       uint64
	NumComparators      uint8
	CounterIs64Bit      bool
	LegacyReplaceCapable bool
	VendorID             uint16

	// tscHz caches the last measured TSC frequency, 0 until measured.
	tscHz uint64

	// readTSC/pauseCPU are overridable for hosted tests. When nil, rdtsc
	// falls back to the host clock (time.Now().UnixNano()) and the wait
	// loops run without a pause hint (DelayMicroseconds yields with
	// time.Sleep(0)); the real rdtsc/pause instructions are not expressible
	// in portable Go — see port.Bus doc comment for why this seam exists.
	readTSC  func() uint64
	pauseCPU func()
}

// New parses the general capabilities register out of region (the mapped
// HPET block) and returns an initialized Timer, per spec.md §4.5 "Parse
// general capabilities."
func New(region []uint8, readTSC func() uint64, pauseCPU func()) *Timer {
	mmio := port.MMIO64{Region: region}
	caps := mmio.Read(regCapabilities)
	t := &Timer{
		mmio:                 mmio,
		ClockPeriodFS:        caps >> capPeriodShift,
		NumComparators:       uint8((caps>>capNumCompShift)&capNumCompMask) + 1,
		CounterIs64Bit:       caps&capCounterSize != 0,
		LegacyReplaceCapable: caps&capLegacyRoute != 0,
		VendorID:             uint16(caps >> capVendorShift),
		readTSC:              readTSC,
		pauseCPU:             pauseCPU,
	}
	return t
}

// FrequencyHz is 10^15 / ClockPeriodFS, per spec.md §3.
func (t *Timer) FrequencyHz() uint64 {
	if t.ClockPeriodFS == 0 {
		return 0
	}
	return 1_000_000_000_000_000 / t.ClockPeriodFS
}

// Enable sets the enable bit in the general configuration register.
func (t *Timer) Enable() {
	cfg := t.mmio.Read(regConfiguration)
	t.mmio.Write(regConfiguration, cfg|cfgEnable)
}

// Disable clears the enable bit.
func (t *Timer) Disable() {
	cfg := t.mmio.Read(regConfiguration)
	t.mmio.Write(regConfiguration, cfg&^uint64(cfgEnable))
}

// EnableLegacyReplacement routes HPET interrupts to IRQ0/IRQ8, only if the
// hardware advertises the capability (spec.md §4.5).
func (t *Timer) EnableLegacyReplacement() error {
	if !t.LegacyReplaceCapable {
		return kerr.ErrUnsupported
	}
	cfg := t.mmio.Read(regConfiguration)
	t.mmio.Write(regConfiguration, cfg|cfgLegacyRoute)
	return nil
}

// ReadCounter returns the raw 64-bit main counter value.
func (t *Timer) ReadCounter() uint64 {
	return t.mmio.Read(regMainCounter)
}

// Now renders the main counter as a time.Time: counter ticks times
// ClockPeriodFS femtoseconds, converted to nanoseconds since the Unix epoch. It is not wall-clock
// accurate (there is no RTC wired into this package, per spec.md §1's
// external-collaborator scope), only monotonic, but that is exactly what
// callers like netstack.ARPResolver's cache-expiry clock need: a real
// `func() time.Time` backed by the HPET counter instead of a dummy
// incrementing counter, per SPEC_FULL.md's Open Question #2 resolution.
func (t *Timer) Now() time.Time {
	ns := t.ReadCounter() * t.ClockPeriodFS / 1_000_000
	return time.Unix(0, int64(ns))
}

func (t *Timer) ticksForMicros(us uint64) uint64 {
	// us * 10^9 / clock_period_fs, per spec.md §4.5.
	return us * 1_000_000_000 / t.ClockPeriodFS
}

// DelayMicroseconds spins until the counter advances by the tick count
// corresponding to us microseconds, yielding the CPU with pause between
// samples, per spec.md §4.5.
func (t *Timer) DelayMicroseconds(us uint64) {
	target := t.ReadCounter() + t.ticksForMicros(us)
	for t.ReadCounter() < target {
		if t.pauseCPU != nil {
			t.pauseCPU()
		} else {
			time.Sleep(0)
		}
	}
}

func (t *Timer) ticksForMillis(ms uint64) uint64 {
	return ms * 1_000_000_000_000 / t.ClockPeriodFS
}

func (t *Timer) rdtsc() uint64 {
	if t.readTSC != nil {
		return t.readTSC()
	}
	return uint64(time.Now().UnixNano())
}

// serialize models the cpuid serialization the teacher's accounting helpers
// rely on implicitly through syscalls; here it is a documented no-op seam.
func (t *Timer) serialize() {}

// measureOnce performs a single HPET/TSC bracketed sample over windowMs and
// returns the estimated CPU frequency in MHz, per spec.md §4.5's formula.
func (t *Timer) measureOnce(windowMs uint64) uint64 {
	t.serialize()
	hpet0 := t.ReadCounter()
	tsc0 := t.rdtsc()
	target := hpet0 + t.ticksForMillis(windowMs)
	for t.ReadCounter() < target {
		if t.pauseCPU != nil {
			t.pauseCPU()
		}
	}
	t.serialize()
	hpet1 := t.ReadCounter()
	tsc1 := t.rdtsc()

	elapsedNs := (hpet1 - hpet0) * t.ClockPeriodFS / 1_000_000
	if elapsedNs == 0 {
		return 0
	}
	return (tsc1 - tsc0) * 1000 / elapsedNs
}

// MeasureCPUFrequency takes three bracketed HPET/TSC measurements over
// windowMs each and returns their median, per spec.md §4.5 "Three
// measurements are taken; the median is returned."
func (t *Timer) MeasureCPUFrequency(windowMs uint64) uint64 {
	samples := make([]uint64, 3)
	for i := range samples {
		samples[i] = t.measureOnce(windowMs)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	result := samples[1]
	atomic.StoreUint64(&t.tscHz, result)
	return result
}

// CachedFrequency returns the last value MeasureCPUFrequency computed, or 0.
func (t *Timer) CachedFrequency() uint64 {
	return atomic.LoadUint64(&t.tscHz)
}
