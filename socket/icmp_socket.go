package socket

import (
	"sync"

	"palmyraos/kerr"
	"palmyraos/netstack"
)

// icmpSocketRegistryCapacity bounds the raw ICMP socket registry, per
// spec.md §4.16: "A global registry (capacity 16)."
const icmpSocketRegistryCapacity = 16

// icmpQueueCapacity mirrors the UDP socket's queue depth in the absence of
// a spec-given number for raw sockets.
const icmpQueueCapacity = 64

type icmpPacket struct {
	from netstack.IPv4Addr
	data []byte
}

// ICMPRawSocket implements Linux SOCK_RAW+IPPROTO_ICMP semantics: ports are
// ignored, and every instance receives a copy of every inbound ICMP packet,
// per spec.md §4.16.
type ICMPRawSocket struct {
	icmp *netstack.ICMPStack

	mu    sync.Mutex
	queue []icmpPacket
	peer  netstack.IPv4Addr
}

// NewICMPRawSocket registers a new raw socket with icmp's fan-out
// registry.
func NewICMPRawSocket(icmp *netstack.ICMPStack) (*ICMPRawSocket, error) {
	if icmp.RawSocketCount() >= icmpSocketRegistryCapacity {
		return nil, kerr.Wrap(kerr.ErrOutOfMemory, "socket: raw ICMP socket registry full")
	}
	s := &ICMPRawSocket{icmp: icmp}
	icmp.RegisterRawSocket(s)
	return s, nil
}

// DeliverICMP implements netstack.RawICMPReceiver.
func (s *ICMPRawSocket) DeliverICMP(src netstack.IPv4Addr, packet []byte) {
	clone := append([]byte(nil), packet...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= icmpQueueCapacity {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, icmpPacket{from: src, data: clone})
}

// Connect stores a default peer for Write/Read-style use. Ports are
// meaningless for raw ICMP, per spec.md §4.16.
func (s *ICMPRawSocket) Connect(ip netstack.IPv4Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = ip
}

// SendTo sends a raw ICMP message; the caller is responsible for framing
// the ICMP header/payload in data.
func (s *ICMPRawSocket) SendTo(ip netstack.IPv4Addr, data []byte) (int, error) {
	if err := s.icmp.SendRaw(ip, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// RecvFrom pops the oldest queued packet.
func (s *ICMPRawSocket) RecvFrom(buf []byte) (int, netstack.IPv4Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, netstack.IPv4Addr{}, kerr.Wrap(kerr.ErrNotFound, "socket: no ICMP packet queued")
	}
	pkt := s.queue[0]
	s.queue = s.queue[1:]
	n := copy(buf, pkt.data)
	return n, pkt.from, nil
}

// BytesAvailable returns the byte length of the head queued packet.
func (s *ICMPRawSocket) BytesAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0
	}
	return len(s.queue[0].data)
}

// Close is a no-op for raw ICMP sockets: the registry entry is harmless to
// leave registered for the stack's lifetime in this kernel's single-process
// model.
func (s *ICMPRawSocket) Close() {}
