package dhcp

import (
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// Subnet errors, see the original spec's §3 invariants.
const (
	ErrSubnetNoName       errors.Error = "dhcp: subnet name is empty"
	ErrSubnetBadPrefix    errors.Error = "dhcp: subnet prefix length out of range"
	ErrSubnetBadRange     errors.Error = "dhcp: subnet range start exceeds end"
	ErrSubnetRangeOutside errors.Error = "dhcp: subnet range lies outside the network"
	ErrSubnetBadExclusion errors.Error = "dhcp: exclusion lies outside the range"
	ErrSubnetBadLeaseTime errors.Error = "dhcp: max_lease_time is less than lease_time"
)

// Exclusion is an inclusive sub-range of a Subnet's pool that is never
// allocated dynamically, e.g. addresses reserved for infrastructure.
type Exclusion struct {
	From IPAddress
	To   IPAddress
}

// Contains reports whether ip lies within the exclusion.
func (e Exclusion) Contains(ip IPAddress) (ok bool) {
	return ip >= e.From && ip <= e.To
}

// Subnet is an IPv4 network and the dynamic-allocation pool, static
// reservations, and per-subnet option overrides that apply to it.
type Subnet struct {
	Name string

	Network     IPAddress
	RangeStart  IPAddress
	RangeEnd    IPAddress
	Gateway     IPAddress
	DomainName  string
	DNSServers  []IPAddress
	Exclusions  []Exclusion
	Reservations map[MacAddress]StaticReservation

	// OptionOverrides are this subnet's layer in the option registry's
	// inheritance chain.
	OptionOverrides Layer

	LeaseTime    time.Duration
	MaxLeaseTime time.Duration

	PrefixLength int
}

// Mask returns the subnet's network mask.
func (s *Subnet) Mask() (mask IPAddress) {
	return MaskFromPrefix(s.PrefixLength)
}

// ContainsAddr reports whether ip belongs to s's network.
func (s *Subnet) ContainsAddr(ip IPAddress) (ok bool) {
	return s.Network.Contains(s.Mask(), ip)
}

// Excluded reports whether ip falls inside any configured exclusion.
func (s *Subnet) Excluded(ip IPAddress) (ok bool) {
	for _, ex := range s.Exclusions {
		if ex.Contains(ip) {
			return true
		}
	}

	return false
}

// Range returns s's dynamic-allocation pool as an IPRange.
func (s *Subnet) Range() (r IPRange, err error) {
	return NewIPRange(s.RangeStart, s.RangeEnd)
}

// Validate checks the invariants the original spec's §3 lays out for a
// Subnet: range endpoints inside the network, exclusions inside the range,
// max_lease_time ≥ lease_time > 0.
func (s *Subnet) Validate() (err error) {
	if s.Name == "" {
		return ErrSubnetNoName
	}

	if s.PrefixLength < 0 || s.PrefixLength > 32 {
		return fmt.Errorf("subnet %s: prefix %d: %w", s.Name, s.PrefixLength, ErrSubnetBadPrefix)
	}

	if s.RangeStart > s.RangeEnd {
		return fmt.Errorf("subnet %s: %w", s.Name, ErrSubnetBadRange)
	}

	mask := s.Mask()
	if !s.Network.Contains(mask, s.RangeStart) || !s.Network.Contains(mask, s.RangeEnd) {
		return fmt.Errorf("subnet %s: %w", s.Name, ErrSubnetRangeOutside)
	}

	for _, ex := range s.Exclusions {
		if ex.From < s.RangeStart || ex.To > s.RangeEnd || ex.From > ex.To {
			return fmt.Errorf("subnet %s: exclusion %s-%s: %w", s.Name, ex.From, ex.To, ErrSubnetBadExclusion)
		}
	}

	if s.LeaseTime <= 0 {
		return fmt.Errorf("subnet %s: lease_time must be positive: %w", s.Name, ErrSubnetBadLeaseTime)
	}

	if s.MaxLeaseTime < s.LeaseTime {
		return fmt.Errorf("subnet %s: %w", s.Name, ErrSubnetBadLeaseTime)
	}

	for mac, res := range s.Reservations {
		if !s.ContainsAddr(res.IP) {
			return fmt.Errorf("subnet %s: reservation for %s: ip %s outside network", s.Name, mac, res.IP)
		}

		if s.Excluded(res.IP) {
			return fmt.Errorf("subnet %s: reservation for %s: ip %s collides with an exclusion", s.Name, mac, res.IP)
		}
	}

	return nil
}
