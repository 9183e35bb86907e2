// Package socket implements the BSD-style socket layer of spec.md §4.16:
// a protocol-agnostic descriptor over UDP/ICMP protocol sockets.
//
// Grounded on biscuit/src/fd/fd.go's Fd_t/Fops file-descriptor split (a
// descriptor wraps an underlying operations object) and spec.md §9's
// explicit preference for a tagged sum type over a growable interface set:
// "Prefer a tagged variant enum ProtocolSocket { Udp(UdpSocket),
// Icmp(IcmpSocket) } with match-based dispatch."
package socket

import (
	"sync"

	"palmyraos/kerr"
	"palmyraos/netstack"
)

// Domain/Type/Protocol mirror the fields of spec.md §3's Socket descriptor:
// "{domain, type, protocol, protocol_socket}."
type Domain uint8
type SockType uint8
type Protocol uint8

const (
	DomainInet Domain = iota
)

const (
	TypeDgram SockType = iota
	TypeRaw
)

const (
	ProtocolUDP  Protocol = 17
	ProtocolICMP Protocol = 1
)

// IOCtl request codes, per spec.md §4.16: "ioctl: FIONBIO toggles
// non-blocking; FIONREAD returns the bytes ready in the head packet."
const (
	FIONBIO  = 1
	FIONREAD = 2
)

// kind tags which protocol socket a ProtocolSocket wraps, the Go
// equivalent of the Rust `enum ProtocolSocket` spec.md §9 asks for.
type kind uint8

const (
	kindUDP kind = iota
	kindICMP
)

// ProtocolSocket is the tagged union over UDP/ICMP sockets, dispatched by
// kind rather than by interface, per spec.md §9.
type ProtocolSocket struct {
	kind kind
	udp  *UDPSocket
	icmp *ICMPRawSocket
}

// NewUDPProtocolSocket wraps u as a ProtocolSocket.
func NewUDPProtocolSocket(u *UDPSocket) ProtocolSocket {
	return ProtocolSocket{kind: kindUDP, udp: u}
}

// NewICMPProtocolSocket wraps i as a ProtocolSocket.
func NewICMPProtocolSocket(i *ICMPRawSocket) ProtocolSocket {
	return ProtocolSocket{kind: kindICMP, icmp: i}
}

// Bind delegates to the wrapped protocol socket.
func (p ProtocolSocket) Bind(port uint16) error {
	switch p.kind {
	case kindUDP:
		return p.udp.Bind(port)
	default:
		return kerr.Wrap(kerr.ErrUnsupported, "socket: bind not supported on this protocol")
	}
}

// Connect stores the peer address used by subsequent read/write.
func (p ProtocolSocket) Connect(ip netstack.IPv4Addr, port uint16) error {
	switch p.kind {
	case kindUDP:
		p.udp.Connect(ip, port)
		return nil
	case kindICMP:
		p.icmp.Connect(ip)
		return nil
	}
	return kerr.Wrap(kerr.ErrUnsupported, "socket: connect not supported")
}

// SendTo writes data to (ip, port), per spec.md §4.16.
func (p ProtocolSocket) SendTo(ip netstack.IPv4Addr, port uint16, data []byte) (int, error) {
	switch p.kind {
	case kindUDP:
		return p.udp.SendTo(ip, port, data)
	case kindICMP:
		return p.icmp.SendTo(ip, data)
	}
	return 0, kerr.Wrap(kerr.ErrUnsupported, "socket: send_to not supported")
}

// RecvFrom pops the oldest queued datagram, per spec.md §4.16.
func (p ProtocolSocket) RecvFrom(buf []byte) (n int, from netstack.IPv4Addr, fromPort uint16, err error) {
	switch p.kind {
	case kindUDP:
		return p.udp.RecvFrom(buf)
	case kindICMP:
		n, from, err = p.icmp.RecvFrom(buf)
		return n, from, 0, err
	}
	return 0, netstack.IPv4Addr{}, 0, kerr.Wrap(kerr.ErrUnsupported, "socket: recv_from not supported")
}

// BytesAvailable returns the size of the head queued packet, or 0.
func (p ProtocolSocket) BytesAvailable() int {
	switch p.kind {
	case kindUDP:
		return p.udp.BytesAvailable()
	case kindICMP:
		return p.icmp.BytesAvailable()
	}
	return 0
}

// Close releases the underlying protocol socket's resources.
func (p ProtocolSocket) Close() {
	switch p.kind {
	case kindUDP:
		p.udp.Close()
	case kindICMP:
		p.icmp.Close()
	}
}

// TCPOnly operations always fail on UDP/ICMP sockets, per spec.md §4.16:
// "TCP-only ops returning unsupported."
func (p ProtocolSocket) Listen(int) error { return kerr.Wrap(kerr.ErrUnsupported, "socket: listen") }
func (p ProtocolSocket) Accept() error    { return kerr.Wrap(kerr.ErrUnsupported, "socket: accept") }

// Descriptor is the file-descriptor wrapper delegating to a ProtocolSocket,
// per spec.md §3 and §4.16.
type Descriptor struct {
	mu          sync.Mutex
	Domain      Domain
	Type        SockType
	Protocol    Protocol
	socket      ProtocolSocket
	nonBlocking bool
	peer        netstack.IPv4Addr
	peerPort    uint16
	connected   bool
}

// NewDescriptor wraps socket as a file-descriptor-like object.
func NewDescriptor(domain Domain, typ SockType, proto Protocol, socket ProtocolSocket) *Descriptor {
	return &Descriptor{Domain: domain, Type: typ, Protocol: proto, socket: socket}
}

// Connect stores (ip, port) as the peer for subsequent read/write.
func (d *Descriptor) Connect(ip netstack.IPv4Addr, port uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.socket.Connect(ip, port); err != nil {
		return err
	}
	d.peer, d.peerPort, d.connected = ip, port, true
	return nil
}

// Read equals recv_from on a connected socket, per spec.md §4.16.
func (d *Descriptor) Read(buf []byte) (int, error) {
	n, _, _, err := d.socket.RecvFrom(buf)
	return n, err
}

// Write equals send_to with the stored peer on a connected socket, per
// spec.md §4.16.
func (d *Descriptor) Write(data []byte) (int, error) {
	d.mu.Lock()
	connected, peer, peerPort := d.connected, d.peer, d.peerPort
	d.mu.Unlock()
	if !connected {
		return 0, kerr.Wrap(kerr.ErrInvalidArgument, "socket: write on unconnected descriptor")
	}
	return d.socket.SendTo(peer, peerPort, data)
}

// SendTo and RecvFrom pass straight through to the wrapped protocol
// socket.
func (d *Descriptor) SendTo(ip netstack.IPv4Addr, port uint16, data []byte) (int, error) {
	return d.socket.SendTo(ip, port, data)
}

func (d *Descriptor) RecvFrom(buf []byte) (int, netstack.IPv4Addr, uint16, error) {
	return d.socket.RecvFrom(buf)
}

// IOCtl implements FIONBIO/FIONREAD, per spec.md §4.16.
func (d *Descriptor) IOCtl(request int, arg *int) error {
	switch request {
	case FIONBIO:
		d.mu.Lock()
		d.nonBlocking = *arg != 0
		d.mu.Unlock()
		return nil
	case FIONREAD:
		*arg = d.socket.BytesAvailable()
		return nil
	}
	return kerr.Wrapf(kerr.ErrInvalidArgument, "socket: unknown ioctl request %d", request)
}

// Close releases the underlying protocol socket.
func (d *Descriptor) Close() { d.socket.Close() }
