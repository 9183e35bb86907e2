package main

import (
	"time"

	"palmyraos/hpet"
	"palmyraos/netstack"
	"palmyraos/nic"
	"palmyraos/port"
)

// hpetMainCounterOffset is the main counter register's offset within the
// HPET MMIO block per the HPET specification (also hpet.regMainCounter,
// unexported since production code only ever reads it through
// Timer.ReadCounter/Now); this file pokes it directly to emulate the
// counter's autonomous hardware advance, the same way the IDON-poke
// goroutine in bringUpNetStack emulates a NIC raising its ready bit on its
// own.
const hpetMainCounterOffset = 0xF0

// netSimIOBase and the NIC CSR0 IDON bit (spec.md §4.10) this hosted build
// pokes directly into the simulated bus instead of waiting on real
// hardware to raise it.
const (
	netSimIOBase = 0x300
	netCSR0RDP   = netSimIOBase + 0x10
	netCSR0Idon  = 1 << 8
)

// netStack bundles the constructed network stack so main can tear it down
// and report on it.
type netStack struct {
	Iface *netstack.Interface
	ICMP  *netstack.ICMPStack
	UDP   *netstack.UDPStack
	DNS   *netstack.Resolver
	Timer *hpet.Timer
	stop  chan struct{}
}

// bringUpNetStack constructs a full network stack bound to a simulated NIC
// and HPET, the wiring SPEC_FULL.md's Open Question #2 resolution requires:
// ARPResolver's cache-expiry clock is hpet.Timer.Now, backed by a real
// HPET counter read, not a dummy incrementing counter. Exercises
// netstack.NewARPResolver/NewIPv4Stack/NewICMPStack/NewUDPStack/NewResolver
// from a real entry point rather than only from package tests.
func bringUpNetStack(mac [6]byte, localIP, mask, gateway netstack.IPv4Addr) (*netStack, error) {
	bus := port.NewSimBus()
	ctrl := nic.New(bus, netSimIOBase)

	// Synthesize an HPET capabilities word (ClockPeriodFS in bits 32-63)
	// the way ACPI table discovery would otherwise supply it, per
	// spec.md §4.5. A 1,000,000 fs (1ns) period makes the main counter's
	// raw tick value equal elapsed nanoseconds, so the background
	// goroutine below can drive it straight off time.Since.
	region := make([]byte, 0x100)
	mmio := port.MMIO64{Region: region}
	mmio.Write(0, uint64(1_000_000)<<32)
	timer := hpet.New(region, nil, nil)
	timer.Enable()

	idonDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-idonDone:
				return
			default:
				bus.Poke(netCSR0RDP, netCSR0Idon)
			}
		}
	}()
	err := ctrl.Init(mac, 0x1000, 0x2000, 0x3000)
	close(idonDone)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Start(); err != nil {
		return nil, err
	}

	arp := netstack.NewARPResolver(ctrl, localIP, timer.Now)
	ipv4 := netstack.NewIPv4Stack(ctrl, arp, localIP, mask, gateway)
	icmp := netstack.NewICMPStack(ipv4)
	udp := netstack.NewUDPStack(ipv4)
	iface := netstack.NewInterface(ctrl, arp, ipv4)
	dns := netstack.NewResolver(udp, gateway)

	stop := make(chan struct{})
	go ctrl.Run(stop)

	// Real HPET hardware advances its main counter on its own; this
	// simulated MMIO block is just a byte slice, so nothing moves unless
	// something writes to it. Without this, Timer.Now never changes and
	// ARPResolver.Resolve's deadline-polling loop spins forever waiting
	// on a gateway that never replies. Tied to stop, not a function-local
	// channel, so the counter keeps advancing for the netStack's whole
	// lifetime, not just until bringUpNetStack returns.
	start := time.Now()
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mmio.Write(hpetMainCounterOffset, uint64(time.Since(start).Nanoseconds()))
			}
		}
	}()

	return &netStack{Iface: iface, ICMP: icmp, UDP: udp, DNS: dns, Timer: timer, stop: stop}, nil
}

// Close stops the NIC's interrupt-pump goroutine.
func (n *netStack) Close() {
	close(n.stop)
}
