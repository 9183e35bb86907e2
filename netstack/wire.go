// Package netstack implements the network stack of spec.md §4.11-§4.15:
// Ethernet dispatch, ARP resolution, IPv4, ICMP Echo, UDP, and a DNS
// resolver skeleton.
//
// Grounded on biscuit/src/util/util.go's Readn/Writen big-endian helpers
// (generalized here via encoding/binary), and enriched from
// other_examples' gopher-os networking notes where the teacher's own
// bnet/unet/inet packages were retrieved with no .go source (go.mod only)
// in this pack.
package netstack

import "encoding/binary"

func getUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func getUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// onesComplementChecksum computes the one's-complement sum of 16-bit
// big-endian words over data, folding carries, per spec.md §4.12: "one's-
// complement sum of 16-bit words, folded."
func onesComplementChecksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(getUint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// MAC is an Ethernet hardware address.
type MAC [6]byte

// Broadcast is the Ethernet broadcast MAC.
var Broadcast = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// IPv4Addr is a dotted-quad address stored big-endian.
type IPv4Addr [4]byte

func (a IPv4Addr) maskedEquals(b IPv4Addr, mask IPv4Addr) bool {
	for i := 0; i < 4; i++ {
		if (a[i] & mask[i]) != (b[i] & mask[i]) {
			return false
		}
	}
	return true
}

func (a IPv4Addr) Uint32() uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}
