package netstack

import (
	"sync"

	"palmyraos/kerr"
)

const udpHeaderLen = 8

// portTableCapacity is the process-wide binding table size, per spec.md
// §4.14: "A process-wide port-binding table (capacity 16)."
const portTableCapacity = 16

// ephemeralLow/ephemeralHigh bound the auto-allocated port range, per
// spec.md §4.14: "Ephemeral ports are allocated from [49152, 65535]."
const (
	ephemeralLow  = 49152
	ephemeralHigh = 65535
)

// maxEphemeralProbe bounds the linear probe, per spec.md §4.14: "bail
// after 100 attempts."
const maxEphemeralProbe = 100

// UDPCallback receives a datagram's payload, per spec.md §4.14: "callback
// (src_ip, src_port, data, len) -> void."
type UDPCallback func(srcIP IPv4Addr, srcPort uint16, data []byte)

// UDPStack is the process-wide UDP layer: port table plus send/receive
// dispatch, per spec.md §4.14.
type UDPStack struct {
	ipv4 *IPv4Stack

	mu      sync.Mutex
	ports   map[uint16]UDPCallback
	cursor  uint16
}

// NewUDPStack constructs a stack bound to ipv4, registering itself for
// ProtoUDP dispatch.
func NewUDPStack(ipv4 *IPv4Stack) *UDPStack {
	s := &UDPStack{ipv4: ipv4, ports: make(map[uint16]UDPCallback), cursor: ephemeralLow}
	ipv4.OnProtocol(ProtoUDP, s.handlePacket)
	return s
}

// udpChecksum computes the pseudo-header + header + data checksum, per
// spec.md §4.14: "pseudo-header (src_ip, dst_ip, 0, protocol=17,
// udp_length) + UDP header + data; if the computed value is zero, transmit
// 0xFFFF instead (per RFC 768)."
func udpChecksum(srcIP, dstIP IPv4Addr, header, data []byte) uint16 {
	udpLen := len(header) + len(data)
	pseudo := make([]byte, 12+len(header)+len(data))
	copy(pseudo[0:4], srcIP[:])
	copy(pseudo[4:8], dstIP[:])
	pseudo[8] = 0
	pseudo[9] = ProtoUDP
	putUint16(pseudo[10:12], uint16(udpLen))
	copy(pseudo[12:], header)
	copy(pseudo[12+len(header):], data)

	sum := onesComplementChecksum(pseudo)
	if sum == 0 {
		return 0xFFFF
	}
	return sum
}

// Bind registers cb for port, per spec.md §4.14.
func (s *UDPStack) Bind(port uint16, cb UDPCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ports[port]; exists {
		return kerr.Wrapf(kerr.ErrInvalidArgument, "netstack: UDP port %d already bound", port)
	}
	if len(s.ports) >= portTableCapacity {
		return kerr.Wrap(kerr.ErrOutOfMemory, "netstack: UDP port table full")
	}
	s.ports[port] = cb
	return nil
}

// Unbind removes port's binding.
func (s *UDPStack) Unbind(port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, port)
}

// AllocateEphemeralPort binds the next free port in [49152, 65535] via
// linear probe from a rolling cursor, per spec.md §4.14.
func (s *UDPStack) AllocateEphemeralPort(cb UDPCallback) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ports) >= portTableCapacity {
		return 0, kerr.Wrap(kerr.ErrOutOfMemory, "netstack: UDP port table full")
	}
	for i := 0; i < maxEphemeralProbe; i++ {
		port := s.cursor
		s.cursor++
		if s.cursor > ephemeralHigh || s.cursor < ephemeralLow {
			s.cursor = ephemeralLow
		}
		if _, taken := s.ports[port]; !taken {
			s.ports[port] = cb
			return port, nil
		}
	}
	return 0, kerr.Wrap(kerr.ErrBusy, "netstack: no ephemeral UDP port available")
}

func (s *UDPStack) handlePacket(src IPv4Addr, packet []byte) {
	if len(packet) < udpHeaderLen {
		return
	}
	srcPort := getUint16(packet[0:2])
	dstPort := getUint16(packet[2:4])
	data := packet[udpHeaderLen:]

	s.mu.Lock()
	cb, ok := s.ports[dstPort]
	s.mu.Unlock()
	if !ok {
		return
	}
	cb(src, srcPort, data)
}

// SendTo sends data from srcPort to (dstIP, dstPort), per spec.md §4.14.
func (s *UDPStack) SendTo(srcPort uint16, dstIP IPv4Addr, dstPort uint16, data []byte) error {
	header := make([]byte, udpHeaderLen)
	putUint16(header[0:2], srcPort)
	putUint16(header[2:4], dstPort)
	putUint16(header[4:6], uint16(udpHeaderLen+len(data)))

	checksum := udpChecksum(s.ipv4.LocalIP, dstIP, header, data)
	putUint16(header[6:8], checksum)

	packet := make([]byte, len(header)+len(data))
	copy(packet, header)
	copy(packet[len(header):], data)
	return s.ipv4.Send(dstIP, ProtoUDP, packet)
}
