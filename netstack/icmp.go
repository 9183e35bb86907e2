package netstack

import (
	"sync"
	"time"

	"palmyraos/kerr"
)

// ICMP type/code values this stack implements, per spec.md §4.13: "Only
// Echo (types 8 request / 0 reply)."
const (
	icmpTypeEchoRequest = 8
	icmpTypeEchoReply   = 0
	icmpHeaderLen       = 8
)

// pingTimeout bounds ping, per spec.md §8 scenario 6: "Without injection,
// ping must return false after a bounded time <= 5050 ms."
const pingTimeout = 5 * time.Second

// ICMPStack implements Echo request/reply and ping, per spec.md §4.13.
type ICMPStack struct {
	ipv4 *IPv4Stack

	mu      sync.Mutex
	nextID  uint16
	pending map[uint32]chan struct{}
	replies map[uint32]icmpReply

	rawSockets []RawICMPReceiver
}

type icmpReply struct {
	from     IPv4Addr
	id, seq  uint16
	recvTime time.Time
}

// RawICMPReceiver is implemented by raw ICMP sockets, per spec.md §4.16:
// "every raw ICMP socket receives a copy of every inbound ICMP packet."
type RawICMPReceiver interface {
	DeliverICMP(src IPv4Addr, packet []byte)
}

// pendingKey packs id/seq into a single map key.
func pendingKey(id, seq uint16) uint32 { return uint32(id)<<16 | uint32(seq) }

// NewICMPStack constructs a stack bound to ipv4, registering itself for
// ProtoICMP dispatch.
func NewICMPStack(ipv4 *IPv4Stack) *ICMPStack {
	s := &ICMPStack{
		ipv4:    ipv4,
		pending: make(map[uint32]chan struct{}),
		replies: make(map[uint32]icmpReply),
	}
	ipv4.OnProtocol(ProtoICMP, s.handlePacket)
	return s
}

// RegisterRawSocket adds r to the fan-out set consulted for every inbound
// ICMP packet, per spec.md §4.16's raw-ICMP-socket registry.
func (s *ICMPStack) RegisterRawSocket(r RawICMPReceiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawSockets = append(s.rawSockets, r)
}

// RawSocketCount reports how many raw sockets are currently registered,
// for enforcing spec.md §4.16's registry capacity of 16.
func (s *ICMPStack) RawSocketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rawSockets)
}

func icmpChecksum(packet []byte) uint16 {
	tmp := make([]byte, len(packet))
	copy(tmp, packet)
	tmp[2], tmp[3] = 0, 0
	return onesComplementChecksum(tmp)
}

func encodeEcho(icmpType uint8, id, seq uint16, data []byte) []byte {
	packet := make([]byte, icmpHeaderLen+len(data))
	packet[0] = icmpType
	packet[1] = 0
	putUint16(packet[4:6], id)
	putUint16(packet[6:8], seq)
	copy(packet[8:], data)
	checksum := icmpChecksum(packet)
	putUint16(packet[2:4], checksum)
	return packet
}

func (s *ICMPStack) handlePacket(src IPv4Addr, packet []byte) {
	if len(packet) < icmpHeaderLen {
		return
	}

	s.mu.Lock()
	for _, r := range s.rawSockets {
		r.DeliverICMP(src, packet)
	}
	s.mu.Unlock()

	icmpType := packet[0]
	id := getUint16(packet[4:6])
	seq := getUint16(packet[6:8])

	switch icmpType {
	case icmpTypeEchoRequest:
		// On incoming echo request, immediately reply with the same
		// id/sequence/data, per spec.md §4.13.
		reply := encodeEcho(icmpTypeEchoReply, id, seq, packet[icmpHeaderLen:])
		s.ipv4.Send(src, ProtoICMP, reply)
	case icmpTypeEchoReply:
		key := pendingKey(id, seq)
		s.mu.Lock()
		s.replies[key] = icmpReply{from: src, id: id, seq: seq, recvTime: time.Now()}
		if ch, ok := s.pending[key]; ok {
			close(ch)
			delete(s.pending, key)
		}
		s.mu.Unlock()
	}
}

// SendRaw transmits data as-is over IPv4 with protocol ICMP, for raw ICMP
// sockets that construct their own ICMP message.
func (s *ICMPStack) SendRaw(target IPv4Addr, data []byte) error {
	return s.ipv4.Send(target, ProtoICMP, data)
}

// Ping sends an Echo request to target and waits up to 5s for a matching
// reply, per spec.md §4.13 and §8 scenario 6. It returns the observed
// round-trip time in milliseconds and whether a matching reply arrived.
func (s *ICMPStack) Ping(target IPv4Addr, data []byte) (rttMs int64, ok bool, err error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	seq := uint16(1)
	key := pendingKey(id, seq)
	ch := make(chan struct{})
	s.pending[key] = ch
	s.mu.Unlock()

	sent := time.Now()
	req := encodeEcho(icmpTypeEchoRequest, id, seq, data)
	if sendErr := s.ipv4.Send(target, ProtoICMP, req); sendErr != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		return 0, false, kerr.Wrap(sendErr, "netstack: sending ICMP echo request")
	}

	select {
	case <-ch:
		s.mu.Lock()
		r := s.replies[key]
		delete(s.replies, key)
		s.mu.Unlock()
		if r.from != target {
			return 0, false, nil
		}
		return time.Since(sent).Milliseconds(), true, nil
	case <-time.After(pingTimeout):
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		return 0, false, nil
	}
}
