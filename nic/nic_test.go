package nic

import (
	"palmyraos/port"
	"testing"
	"time"
)

// bringUp drives a Controller through Init/Start against a SimBus, racing a
// background goroutine that pokes IDON into the status register since
// SimBus has no real chip logic to set it itself.
func bringUp(t *testing.T, ioBase uint16) (*Controller, *port.SimBus) {
	t.Helper()
	bus := port.NewSimBus()
	c := New(bus, ioBase)

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
		t.Fatalf("Init: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, bus
}

func TestTransmitPadsToMinFrame(t *testing.T) {
	c, _ := bringUp(t, 0x300)
	err := c.Transmit([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	stats := c.Stats()
	if stats.TXPackets != 1 {
		t.Fatalf("TXPackets = %d, want 1", stats.TXPackets)
	}
	if stats.TXBytes != EthMinFrame {
		t.Fatalf("TXBytes = %d, want %d (padded to minimum)", stats.TXBytes, EthMinFrame)
	}
}

func TestTransmitRequiresUpState(t *testing.T) {
	bus := port.NewSimBus()
	c := New(bus, 0x300)
	if err := c.Transmit([]byte{1}); err == nil {
		t.Fatal("expected Transmit to fail before Start")
	}
}

func TestInjectReceivedFrameDeliveredToHandler(t *testing.T) {
	c, _ := bringUp(t, 0x300)
	var got []byte
	c.OnFrame(func(frame []byte) { got = frame })

	frame := append([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, make([]byte, 54)...)
	c.InjectReceivedFrame(frame)
	c.HandleInterrupt()

	if len(got) != len(frame) {
		t.Fatalf("handler received %d bytes, want %d", len(got), len(frame))
	}
	if c.Stats().RXPackets != 1 {
		t.Fatalf("RXPackets = %d, want 1", c.Stats().RXPackets)
	}
}

func TestRunDrainsSignalInterrupt(t *testing.T) {
	c, _ := bringUp(t, 0x300)
	received := make(chan struct{}, 1)
	c.OnFrame(func(frame []byte) {
		select {
		case received <- struct{}{}:
		default:
		}
	})

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	c.InjectReceivedFrame(make([]byte, 60))
	c.SignalInterrupt()

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("Run goroutine did not process the signaled interrupt")
	}
}
