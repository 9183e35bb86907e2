package netstack

import (
	"testing"

	"palmyraos/nic"
	"palmyraos/port"
)

// bringUpNIC drives a nic.Controller through Init/Start against a SimBus,
// racing a background goroutine that pokes IDON into the status register
// since SimBus has no chip logic of its own to set it. The port offsets and
// status bit mirror nic.go's own (package-private there), so they are
// duplicated here as the documented protocol constants from spec.md §6.
func bringUpNIC(t *testing.T, ioBase uint16) *nic.Controller {
	t.Helper()
	const (
		offRDP   = 0x10
		csr0Idon = 1 << 8
	)
	bus := port.NewSimBus()
	c := nic.New(bus, ioBase)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				bus.Poke(ioBase+offRDP, uint32(csr0Idon))
			}
		}
	}()
	mac := [6]byte{0x52, 0x54, 0x00, 0x01, 0x02, 0x03}
	err := c.Init(mac, 0x1000, 0x2000, 0x3000)
	close(done)
	if err != nil {
		t.Fatalf("nic Init: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("nic Start: %v", err)
	}
	return c
}
