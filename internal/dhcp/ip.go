package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPAddress is an IPv4 address stored in host byte order.  The zero value
// denotes the "unspecified" address (0.0.0.0).
type IPAddress uint32

// BroadcastIP is the limited broadcast address, 255.255.255.255.
const BroadcastIP IPAddress = 0xFFFFFFFF

// IPFromSlice converts a 4-byte (or 16-byte IPv4-mapped) net.IP into an
// IPAddress.  It returns false if ip isn't a valid IPv4 address.
func IPFromSlice(ip net.IP) (addr IPAddress, ok bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}

	return IPAddress(binary.BigEndian.Uint32(v4)), true
}

// MustParseIP parses s as a dotted-quad IPv4 address, panicking on failure.
// It is meant for tests and static configuration literals.
func MustParseIP(s string) (addr IPAddress) {
	addr, ok := ParseIP(s)
	if !ok {
		panic(fmt.Sprintf("dhcp: invalid ipv4 address %q", s))
	}

	return addr
}

// ParseIP parses s as a dotted-quad IPv4 address.
func ParseIP(s string) (addr IPAddress, ok bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, false
	}

	return IPFromSlice(ip)
}

// IsZero reports whether addr is the unspecified address.
func (addr IPAddress) IsZero() (ok bool) {
	return addr == 0
}

// IsBroadcast reports whether addr is the limited broadcast address.
func (addr IPAddress) IsBroadcast() (ok bool) {
	return addr == BroadcastIP
}

// Bytes returns addr as 4 bytes in network byte order.
func (addr IPAddress) Bytes() (b [4]byte) {
	binary.BigEndian.PutUint32(b[:], uint32(addr))

	return b
}

// Net returns addr as a net.IP.
func (addr IPAddress) Net() (ip net.IP) {
	b := addr.Bytes()

	return net.IPv4(b[0], b[1], b[2], b[3]).To4()
}

// Next returns addr+1.  It wraps around at 255.255.255.255.
func (addr IPAddress) Next() (next IPAddress) {
	return addr + 1
}

// String implements the fmt.Stringer interface for IPAddress.
func (addr IPAddress) String() (s string) {
	b := addr.Bytes()

	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// MaskFromPrefix returns the network mask for a CIDR prefix length in
// [0,32].
func MaskFromPrefix(prefixLen int) (mask IPAddress) {
	if prefixLen <= 0 {
		return 0
	} else if prefixLen >= 32 {
		return 0xFFFFFFFF
	}

	return IPAddress(^uint32(0) << uint(32-prefixLen))
}

// Network returns the network address of addr under mask.
func (addr IPAddress) Network(mask IPAddress) (network IPAddress) {
	return addr & mask
}

// Contains reports whether ip belongs to the network identified by addr
// (the network address) and mask.
func (addr IPAddress) Contains(mask, ip IPAddress) (ok bool) {
	return ip&mask == addr&mask
}
