package netstack

import (
	"testing"
	"time"
)

func TestResolveFromCacheEmitsNoRequest(t *testing.T) {
	n := bringUpNIC(t, 0x300)
	local := IPv4Addr{10, 0, 0, 1}
	r := NewARPResolver(n, local, nil)

	target := IPv4Addr{10, 0, 0, 2}
	wantMAC := MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r.update(target, wantMAC)

	before := n.Stats().TXPackets
	mac, err := r.Resolve(target)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if mac != wantMAC {
		t.Fatalf("Resolve returned %v, want %v", mac, wantMAC)
	}
	if after := n.Stats().TXPackets; after != before {
		t.Fatalf("Resolve from a warm cache transmitted %d packets, want 0", after-before)
	}
}

// TestResolveOnLiveReply exercises spec.md §8 scenario 4: resolving an
// uncached address broadcasts a request, and a reply injected onto the wire
// completes the resolution.
func TestResolveOnLiveReply(t *testing.T) {
	n := bringUpNIC(t, 0x300)
	local := IPv4Addr{10, 0, 0, 1}
	r := NewARPResolver(n, local, nil)
	NewInterface(n, r, nil)
	target := IPv4Addr{10, 0, 0, 9}
	peerMAC := MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

	done := make(chan struct{})
	go func() {
		defer close(done)
		mac, err := r.Resolve(target)
		if err != nil {
			t.Errorf("Resolve: %v", err)
			return
		}
		if mac != peerMAC {
			t.Errorf("Resolve returned %v, want %v", mac, peerMAC)
		}
	}()

	// Give Resolve a moment to broadcast its request, then inject the
	// reply as if it arrived over the wire.
	time.Sleep(20 * time.Millisecond)
	reply := encodeARP(arpOpReply, peerMAC, target, n.MAC(), local)
	frame := make([]byte, ethHeaderLen+len(reply))
	dst := n.MAC()
	copy(frame[0:6], dst[:])
	copy(frame[6:12], peerMAC[:])
	putUint16(frame[12:14], EtherTypeARP)
	copy(frame[14:], reply)
	n.InjectReceivedFrame(frame)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not complete after the reply was injected")
	}
}

func TestARPCacheEvictsOldestAtCapacity(t *testing.T) {
	n := bringUpNIC(t, 0x300)
	r := NewARPResolver(n, IPv4Addr{10, 0, 0, 1}, nil)

	for i := 0; i < arpCacheCapacity+1; i++ {
		ip := IPv4Addr{10, 0, byte(i >> 8), byte(i)}
		r.update(ip, MAC{byte(i)})
	}
	if len(r.cache) != arpCacheCapacity {
		t.Fatalf("cache size = %d, want capacity %d", len(r.cache), arpCacheCapacity)
	}
	if _, ok := r.lookup(IPv4Addr{10, 0, 0, 0}); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}
