package simnet

import (
	"fmt"
	"net/netip"

	"github.com/shadow-sim/shadow/internal/xnetip"
)

// AddressBook allocates IPv4 addresses out of a network's address pool and
// maps them to hostnames, backing both host creation at topology load time
// and the hosts-file special path of spec.md §4.4/§6.
type AddressBook struct {
	pool      []netip.Addr
	next      int
	byAddr    map[netip.Addr]string
	byName    map[string]netip.Addr
}

// NewAddressBook returns an address book drawing from the given CIDR pool.
func NewAddressBook(prefix netip.Prefix) (*AddressBook, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return nil, fmt.Errorf("simnet: address pool must be a valid IPv4 prefix, got %v", prefix)
	}

	ab := &AddressBook{
		byAddr: make(map[netip.Addr]string),
		byName: make(map[string]netip.Addr),
	}

	masked := prefix.Masked()
	network := masked.Addr()
	broadcast := xnetip.LastAddr(masked)
	hostBits := 32 - prefix.Bits()
	count := 1 << uint(hostBits)

	addr4 := network.As4()
	for i := 0; i < count; i++ {
		v := addr4
		applyOffset(&v, uint32(i))
		addr := netip.AddrFrom4(v)
		// Reserve the network and broadcast addresses when the pool is
		// large enough to have them; a /31 or /32 pool uses every address.
		if count > 2 && (addr == network || addr == broadcast) {
			continue
		}
		ab.pool = append(ab.pool, addr)
	}

	return ab, nil
}

func applyOffset(addr *[4]byte, offset uint32) {
	n := uint32(addr[0])<<24 | uint32(addr[1])<<16 | uint32(addr[2])<<8 | uint32(addr[3])
	n += offset
	addr[0] = byte(n >> 24)
	addr[1] = byte(n >> 16)
	addr[2] = byte(n >> 8)
	addr[3] = byte(n)
}

// Allocate assigns the next free address in the pool to name.
func (ab *AddressBook) Allocate(name string) (netip.Addr, error) {
	if addr, ok := ab.byName[name]; ok {
		return addr, nil
	}
	if ab.next >= len(ab.pool) {
		return netip.Addr{}, fmt.Errorf("simnet: address pool exhausted")
	}
	addr := ab.pool[ab.next]
	ab.next++
	ab.byAddr[addr] = name
	ab.byName[name] = addr
	return addr, nil
}

// Lookup resolves a hostname to its allocated address.
func (ab *AddressBook) Lookup(name string) (netip.Addr, bool) {
	addr, ok := ab.byName[name]
	return addr, ok
}

// ReverseLookup resolves an address back to the hostname it was allocated
// to.
func (ab *AddressBook) ReverseLookup(addr netip.Addr) (string, bool) {
	name, ok := ab.byAddr[addr]
	return name, ok
}

// Resolver answers DNS-like lookups for the managed process's /etc/hosts
// special path (spec.md §4.4/§6): one line per entry,
// "<ipv4-dotted-quad> <hostname>".
type Resolver struct {
	books []*AddressBook
}

// NewResolver aggregates one or more address books (typically one per
// simulated network) into a single hosts-file view.
func NewResolver(books ...*AddressBook) *Resolver {
	return &Resolver{books: books}
}

// HostsFile renders the simulator-owned /etc/hosts contents, per spec.md
// §6's "plain text, one entry per line" format.
func (r *Resolver) HostsFile() string {
	out := "127.0.0.1 localhost\n"
	for _, b := range r.books {
		for addr, name := range b.byAddr {
			out += fmt.Sprintf("%s %s\n", addr, name)
		}
	}
	return out
}
