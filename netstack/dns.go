package netstack

import (
	"strings"
	"sync"

	"palmyraos/kerr"
)

// dnsCacheCapacity is the resolver's cache size, per spec.md §4.15: "Cache
// of 32 domain->IP entries."
const dnsCacheCapacity = 32

// dnsTransactionID is the fixed transaction id, per spec.md §4.15:
// "Transaction id constant for now (0x1234)."
const dnsTransactionID = 0x1234

const dnsServerPort = 53

// Resolver is the DNS client skeleton of spec.md §4.15. It is a thin
// client over UDP: resolving a non-cached name without a wired transport
// fails deterministically rather than blocking, per spec.md §4.15: "when
// UDP delivery is not yet wired, resolution of a non-cached name fails
// deterministically" — recorded as the Open Question resolution in
// SPEC_FULL.md §5.3: fail closed rather than retry forever.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]IPv4Addr
	order []string

	udp        *UDPStack
	serverIP   IPv4Addr
	localPort  uint16
	transport  bool
	pending    map[uint16]chan IPv4Addr
}

// NewResolver constructs a resolver. If udp is nil, the resolver serves
// only from its cache, per spec.md §4.15's "fails deterministically" rule.
func NewResolver(udp *UDPStack, serverIP IPv4Addr) *Resolver {
	r := &Resolver{
		cache:   make(map[string]IPv4Addr),
		udp:     udp,
		serverIP: serverIP,
		pending: make(map[uint16]chan IPv4Addr),
	}
	if udp != nil {
		port, err := udp.AllocateEphemeralPort(r.handleReply)
		if err == nil {
			r.localPort = port
			r.transport = true
		}
	}
	return r
}

func (r *Resolver) put(name string, ip IPv4Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cache[name]; !exists {
		if len(r.order) >= dnsCacheCapacity {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.cache, oldest)
		}
		r.order = append(r.order, name)
	}
	r.cache[name] = ip
}

// Lookup returns a cached binding, if any.
func (r *Resolver) Lookup(name string) (IPv4Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ip, ok := r.cache[name]
	return ip, ok
}

// encodeQuestionName renders "google.com" as [6]google[3]com[0], per
// spec.md §4.15.
func encodeQuestionName(name string) []byte {
	var out []byte
	for _, label := range strings.Split(name, ".") {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	return out
}

func (r *Resolver) handleReply(srcIP IPv4Addr, srcPort uint16, data []byte) {
	if len(data) < 12 {
		return
	}
	txID := getUint16(data[0:2])
	r.mu.Lock()
	ch, ok := r.pending[txID]
	delete(r.pending, txID)
	r.mu.Unlock()
	if !ok {
		return
	}
	// Minimal answer-section parse: this skeleton only extracts the
	// first A-record address if present; anything more elaborate is out
	// of scope for the core.
	if len(data) >= 16 {
		var ip IPv4Addr
		copy(ip[:], data[len(data)-4:])
		ch <- ip
		return
	}
	ch <- IPv4Addr{}
}

// Resolve returns name's address, consulting the cache first, then (if a
// UDP transport is wired) querying the configured server, per spec.md
// §4.15.
func (r *Resolver) Resolve(name string) (IPv4Addr, error) {
	if ip, ok := r.Lookup(name); ok {
		return ip, nil
	}
	if !r.transport {
		return IPv4Addr{}, kerr.Wrap(kerr.ErrNotFound, "netstack: DNS transport not wired, cannot resolve")
	}

	query := make([]byte, 12)
	putUint16(query[0:2], dnsTransactionID)
	query[2] = 0x01 // RD (recursion desired)
	putUint16(query[4:6], 1) // QDCOUNT = 1
	question := encodeQuestionName(name)
	question = append(question, 0, 1, 0, 1) // QTYPE=A, QCLASS=IN
	packet := append(query, question...)

	ch := make(chan IPv4Addr, 1)
	r.mu.Lock()
	r.pending[dnsTransactionID] = ch
	r.mu.Unlock()

	if err := r.udp.SendTo(r.localPort, r.serverIP, dnsServerPort, packet); err != nil {
		r.mu.Lock()
		delete(r.pending, dnsTransactionID)
		r.mu.Unlock()
		return IPv4Addr{}, kerr.Wrap(err, "netstack: sending DNS query")
	}

	ip := <-ch
	if ip == (IPv4Addr{}) {
		return IPv4Addr{}, kerr.Wrap(kerr.ErrNotFound, "netstack: DNS resolution failed")
	}
	r.put(name, ip)
	return ip, nil
}
