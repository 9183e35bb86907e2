package netstack

import (
	"palmyraos/kerr"
	"palmyraos/klog"
	"palmyraos/nic"
)

// IPv4 protocol numbers this stack dispatches, per spec.md §4.12.
const (
	ProtoICMP = 1
	ProtoUDP  = 17
)

const ipv4MinHeaderLen = 20
const ipv4DefaultTTL = 64

// unhandledProto dedupes the per-packet warning below so an unhandled
// protocol flooding the wire doesn't flood the log too.
var unhandledProto klog.Deduper

// ProtocolHandler receives a fully-validated IPv4 payload.
type ProtocolHandler func(src IPv4Addr, payload []byte)

// IPv4Stack holds local addressing and protocol dispatch, per spec.md
// §4.12: "Initialized with (local_ip, mask, gateway)."
type IPv4Stack struct {
	LocalIP IPv4Addr
	Mask    IPv4Addr
	Gateway IPv4Addr

	nic *nic.Controller
	arp *ARPResolver

	nextID   uint16
	handlers map[uint8]ProtocolHandler
}

// NewIPv4Stack constructs a stack bound to nic and arp for address
// resolution.
func NewIPv4Stack(n *nic.Controller, arp *ARPResolver, localIP, mask, gateway IPv4Addr) *IPv4Stack {
	return &IPv4Stack{
		LocalIP:  localIP,
		Mask:     mask,
		Gateway:  gateway,
		nic:      n,
		arp:      arp,
		handlers: make(map[uint8]ProtocolHandler),
	}
}

// OnProtocol registers the handler invoked for payloads of the given IPv4
// protocol number.
func (s *IPv4Stack) OnProtocol(proto uint8, h ProtocolHandler) { s.handlers[proto] = h }

// HeaderChecksum computes the IPv4 header checksum, per spec.md §8: "one's-
// complement sum of 16-bit words, folded," with the checksum field treated
// as zero.
func HeaderChecksum(header []byte) uint16 {
	tmp := make([]byte, len(header))
	copy(tmp, header)
	tmp[10], tmp[11] = 0, 0
	return onesComplementChecksum(tmp)
}

// HandlePacket validates and dispatches a received IPv4 packet, per
// spec.md §4.12: "verify version = 4, TTL > 0, destination equals local
// IP; compute IHL, extract payload, dispatch by protocol."
func (s *IPv4Stack) HandlePacket(packet []byte) {
	if len(packet) < ipv4MinHeaderLen {
		return
	}
	version := packet[0] >> 4
	ihl := int(packet[0]&0x0F) * 4
	if version != 4 || ihl < ipv4MinHeaderLen || len(packet) < ihl {
		return
	}
	ttl := packet[8]
	if ttl == 0 {
		return
	}
	proto := packet[9]
	var dst IPv4Addr
	copy(dst[:], packet[16:20])
	if dst != s.LocalIP {
		return
	}
	var src IPv4Addr
	copy(src[:], packet[12:16])

	payload := packet[ihl:]
	h, ok := s.handlers[proto]
	if !ok {
		unhandledProto.WarnOnce("netstack: no handler for IPv4 protocol %d", proto)
		return
	}
	h(src, payload)
}

// Send builds an IPv4 header around payload, resolves the next-hop MAC,
// and hands the frame to the NIC, per spec.md §4.12.
func (s *IPv4Stack) Send(dst IPv4Addr, proto uint8, payload []byte) error {
	total := ipv4MinHeaderLen + len(payload)
	header := make([]byte, ipv4MinHeaderLen)
	header[0] = 0x45 // version 4, IHL 5
	header[1] = 0     // DSCP = 0
	putUint16(header[2:4], uint16(total))
	s.nextID++
	putUint16(header[4:6], s.nextID)
	putUint16(header[6:8], 0) // flags=0, offset=0
	header[8] = ipv4DefaultTTL
	header[9] = proto
	copy(header[12:16], s.LocalIP[:])
	copy(header[16:20], dst[:])
	checksum := HeaderChecksum(header)
	putUint16(header[10:12], checksum)

	nextHop := dst
	if !s.LocalIP.maskedEquals(dst, s.Mask) {
		nextHop = s.Gateway
	}
	mac, err := s.arp.Resolve(nextHop)
	if err != nil {
		return kerr.Wrap(err, "netstack: resolving next hop")
	}

	frame := make([]byte, total)
	copy(frame, header)
	copy(frame[ipv4MinHeaderLen:], payload)
	return sendEthernet(s.nic, mac, EtherTypeIPv4, frame)
}
