package netstack

import (
	"sync"
	"time"

	"palmyraos/kerr"
	"palmyraos/nic"
)

// arpCacheCapacity is the fixed binding-table size, per spec.md §4.11:
// "Cache of 32 IP->MAC entries."
const arpCacheCapacity = 32

// arpEntryTTL is how long a cache binding stays valid before resolve must
// re-request it. spec.md leaves the exact expiry mechanism to the
// implementation (item 2 of §5 in SPEC_FULL.md records the decision to tie it to
// the HPET-derived wall clock rather than leave entries immortal).
const arpEntryTTL = 60 * time.Second

const (
	arpHTypeEthernet = 1
	arpPTypeIPv4     = 0x0800
	arpHLen          = 6
	arpPLen          = 4
	arpOpRequest     = 1
	arpOpReply       = 2
)

const arpPacketLen = 28

type arpEntry struct {
	mac     MAC
	expires time.Time
}

// ARPResolver maintains the IP->MAC cache and drives resolution, per
// spec.md §4.11.
type ARPResolver struct {
	mu      sync.Mutex
	cache   map[IPv4Addr]arpEntry
	order   []IPv4Addr // insertion order, for capacity eviction
	nic     *nic.Controller
	localIP IPv4Addr
	now     func() time.Time
}

// NewARPResolver creates a resolver bound to nic for the given local IP.
// now defaults to time.Now if nil, overridable for deterministic tests.
func NewARPResolver(n *nic.Controller, localIP IPv4Addr, now func() time.Time) *ARPResolver {
	if now == nil {
		now = time.Now
	}
	return &ARPResolver{
		cache:   make(map[IPv4Addr]arpEntry),
		nic:     n,
		localIP: localIP,
		now:     now,
	}
}

func (r *ARPResolver) update(ip IPv4Addr, mac MAC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cache[ip]; !exists {
		if len(r.order) >= arpCacheCapacity {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.cache, oldest)
		}
		r.order = append(r.order, ip)
	}
	r.cache[ip] = arpEntry{mac: mac, expires: r.now().Add(arpEntryTTL)}
}

func (r *ARPResolver) lookup(ip IPv4Addr) (MAC, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[ip]
	if !ok || r.now().After(e.expires) {
		return MAC{}, false
	}
	return e.mac, true
}

func encodeARP(op uint16, senderMAC MAC, senderIP IPv4Addr, targetMAC MAC, targetIP IPv4Addr) []byte {
	b := make([]byte, arpPacketLen)
	putUint16(b[0:2], arpHTypeEthernet)
	putUint16(b[2:4], arpPTypeIPv4)
	b[4] = arpHLen
	b[5] = arpPLen
	putUint16(b[6:8], op)
	copy(b[8:14], senderMAC[:])
	copy(b[14:18], senderIP[:])
	copy(b[18:24], targetMAC[:])
	copy(b[24:28], targetIP[:])
	return b
}

func sendEthernet(n *nic.Controller, dst MAC, etherType uint16, payload []byte) error {
	frame := make([]byte, ethHeaderLen+len(payload))
	copy(frame[0:6], dst[:])
	src := n.MAC()
	copy(frame[6:12], src[:])
	putUint16(frame[12:14], etherType)
	copy(frame[14:], payload)
	return n.Transmit(frame)
}

// HandlePacket updates the cache from any received ARP packet (request or
// reply) and replies to requests targeting our IP, per spec.md §4.11.
func (r *ARPResolver) HandlePacket(packet []byte) {
	if len(packet) < arpPacketLen {
		return
	}
	if getUint16(packet[0:2]) != arpHTypeEthernet || getUint16(packet[2:4]) != arpPTypeIPv4 {
		return
	}
	op := getUint16(packet[6:8])
	var senderMAC MAC
	copy(senderMAC[:], packet[8:14])
	var senderIP IPv4Addr
	copy(senderIP[:], packet[14:18])
	var targetIP IPv4Addr
	copy(targetIP[:], packet[24:28])

	r.update(senderIP, senderMAC)

	if op == arpOpRequest && targetIP == r.localIP {
		reply := encodeARP(arpOpReply, r.nic.MAC(), r.localIP, senderMAC, senderIP)
		sendEthernet(r.nic, senderMAC, EtherTypeARP, reply)
	}
}

// arpResolveTimeout and arpResolveRetries implement spec.md §4.11: "poll
// the NIC by invoking its interrupt handler periodically for up to ~3 s
// ... Retry up to 3 times."
const (
	arpResolveTimeout = 3 * time.Second
	arpResolveRetries = 3
	arpPollInterval   = 10 * time.Millisecond
)

// Resolve returns the MAC bound to ip, broadcasting ARP requests and
// polling the NIC until the cache is populated or retries are exhausted,
// per spec.md §4.11.
func (r *ARPResolver) Resolve(ip IPv4Addr) (MAC, error) {
	if mac, ok := r.lookup(ip); ok {
		return mac, nil
	}

	for attempt := 0; attempt < arpResolveRetries; attempt++ {
		req := encodeARP(arpOpRequest, r.nic.MAC(), r.localIP, MAC{}, ip)
		if err := sendEthernet(r.nic, Broadcast, EtherTypeARP, req); err != nil {
			return MAC{}, kerr.Wrap(err, "netstack: sending ARP request")
		}

		deadline := r.now().Add(arpResolveTimeout)
		for r.now().Before(deadline) {
			r.nic.HandleInterrupt()
			if mac, ok := r.lookup(ip); ok {
				return mac, nil
			}
			time.Sleep(arpPollInterval)
		}
	}
	return MAC{}, kerr.Wrap(kerr.ErrTimeout, "netstack: ARP resolve failed")
}
