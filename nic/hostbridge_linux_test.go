//go:build linux

package nic

import "testing"

// TestHostBridgeTransmitWritesToTAP exercises the TX side of HostBridge end
// to end against a real TAP device. It requires CAP_NET_ADMIN (or root);
// environments without it (most CI sandboxes) skip rather than fail.
func TestHostBridgeTransmitWritesToTAP(t *testing.T) {
	bridge, err := NewHostBridge("palmyra-test0")
	if err != nil {
		t.Skipf("TAP device unavailable in this environment: %v", err)
	}
	defer bridge.Close()

	c, _ := bringUp(t, 0x300)
	bridge.Attach(c)

	if err := c.Transmit([]byte{0, 1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
}
