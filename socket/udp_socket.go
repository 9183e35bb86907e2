package socket

import (
	"sync"

	"palmyraos/kerr"
	"palmyraos/netstack"
)

// udpQueueCapacity is the socket's packet queue size, per spec.md §4.16:
// "Owns a heap-allocated packet queue (capacity 64)."
const udpQueueCapacity = 64

type udpDatagram struct {
	from     netstack.IPv4Addr
	fromPort uint16
	data     []byte
}

// UDPSocket is the protocol socket wrapping a bound/unbound UDP endpoint,
// per spec.md §4.16.
type UDPSocket struct {
	udp  *netstack.UDPStack
	mu   sync.Mutex
	port uint16
	bound bool
	queue []udpDatagram

	peer     netstack.IPv4Addr
	peerPort uint16
}

// NewUDPSocket creates an unbound UDP socket over udp.
func NewUDPSocket(udp *netstack.UDPStack) *UDPSocket {
	return &UDPSocket{udp: udp}
}

func (s *UDPSocket) onPacket(from netstack.IPv4Addr, fromPort uint16, data []byte) {
	clone := append([]byte(nil), data...) // cloned onto the heap, per spec.md §4.16
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= udpQueueCapacity {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, udpDatagram{from: from, fromPort: fromPort, data: clone})
}

// Bind registers a callback in the UDP port table, per spec.md §4.16.
func (s *UDPSocket) Bind(port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return kerr.Wrap(kerr.ErrInvalidArgument, "socket: UDP socket already bound")
	}
	if err := s.udp.Bind(port, s.onPacket); err != nil {
		return err
	}
	s.port, s.bound = port, true
	return nil
}

// Connect stores a default peer for Write/Read-style use.
func (s *UDPSocket) Connect(ip netstack.IPv4Addr, port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer, s.peerPort = ip, port
}

func (s *UDPSocket) ensureBound() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return nil
	}
	// Ephemeral ports auto-allocated on first send_to if unbound, and
	// auto-bound for reply reception, per spec.md §4.16.
	port, err := s.udp.AllocateEphemeralPort(s.onPacket)
	if err != nil {
		return err
	}
	s.port, s.bound = port, true
	return nil
}

// SendTo transmits data to (ip, port), auto-binding an ephemeral port if
// this socket has none yet, per spec.md §4.16.
func (s *UDPSocket) SendTo(ip netstack.IPv4Addr, port uint16, data []byte) (int, error) {
	if err := s.ensureBound(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	srcPort := s.port
	s.mu.Unlock()
	if err := s.udp.SendTo(srcPort, ip, port, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// RecvFrom pops the oldest queued datagram and copies it to buf, per
// spec.md §4.16.
func (s *UDPSocket) RecvFrom(buf []byte) (int, netstack.IPv4Addr, uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, netstack.IPv4Addr{}, 0, kerr.Wrap(kerr.ErrNotFound, "socket: no datagram queued")
	}
	dg := s.queue[0]
	s.queue = s.queue[1:]
	n := copy(buf, dg.data)
	return n, dg.from, dg.fromPort, nil
}

// BytesAvailable returns the byte length of the head queued packet.
func (s *UDPSocket) BytesAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0
	}
	return len(s.queue[0].data)
}

// Close unbinds the socket's port, per spec.md §4.16: "On destruction, the
// port is unbound."
func (s *UDPSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		s.udp.Unbind(s.port)
		s.bound = false
	}
}
