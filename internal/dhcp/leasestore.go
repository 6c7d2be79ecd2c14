package dhcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Lease store errors, see the original spec's §4.3 contract and §7
// taxonomy.
const (
	ErrPoolExhausted errors.Error = "dhcp: pool exhausted"
	ErrIPUnavailable errors.Error = "dhcp: ip unavailable"
	ErrConflict      errors.Error = "dhcp: lease conflict"
	ErrNotFound      errors.Error = "dhcp: lease not found"
)

// ConflictStrategy selects how the lease store resolves an allocation that
// collides with an active lease held by a different MAC, per the original
// spec's §4.3 "Conflict resolution".
type ConflictStrategy uint8

// Conflict strategies.
const (
	ConflictReject ConflictStrategy = iota
	ConflictReplace
	ConflictExtend
	ConflictNegotiate
)

// LeaseConflict is enqueued under ConflictNegotiate for an operator or
// external resolver to act on.
type LeaseConflict struct {
	At          time.Time
	Incumbent   Lease
	RequestedBy MacAddress
	RequestedIP IPAddress
}

// LeaseStore owns every Lease for the server's lifetime, behind a dual
// mac↔ip index kept in lockstep under a single mutex, per the original
// spec's §4.3 "Indexes" and §5 "Shared resources and discipline".
type LeaseStore struct {
	clock timeutil.Clock
	sink  EventSink

	byMAC map[MacAddress]*Lease
	byIP  map[IPAddress]*Lease

	declined map[IPAddress]time.Time

	conflicts []LeaseConflict

	mu sync.Mutex

	declineCooldown  time.Duration
	conflictStrategy ConflictStrategy
	maxLeases        int
}

// LeaseStoreConfig configures a new LeaseStore.
type LeaseStoreConfig struct {
	Clock            timeutil.Clock
	Sink             EventSink
	ConflictStrategy ConflictStrategy
	DeclineCooldown  time.Duration
	MaxLeases        int
}

// NewLeaseStore returns an empty LeaseStore.
func NewLeaseStore(conf LeaseStoreConfig) (s *LeaseStore) {
	clock := conf.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	sink := conf.Sink
	if sink == nil {
		sink = NoopEventSink
	}

	return &LeaseStore{
		clock:            clock,
		sink:             sink,
		byMAC:            make(map[MacAddress]*Lease),
		byIP:             make(map[IPAddress]*Lease),
		declined:         make(map[IPAddress]time.Time),
		conflictStrategy: conf.ConflictStrategy,
		declineCooldown:  conf.DeclineCooldown,
		maxLeases:        conf.MaxLeases,
	}
}

// GetByMAC returns the active lease for mac, if any.
func (s *LeaseStore) GetByMAC(mac MacAddress) (lease Lease, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byMAC[mac]
	if !ok {
		return Lease{}, false
	}

	return l.Clone(), true
}

// GetByIP returns the active lease for ip, if any.
func (s *LeaseStore) GetByIP(ip IPAddress) (lease Lease, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byIP[ip]
	if !ok {
		return Lease{}, false
	}

	return l.Clone(), true
}

// IsAvailable reports whether ip can be allocated within subnet: it is not
// currently leased, not excluded, and not reserved for a different MAC.
func (s *LeaseStore) IsAvailable(ip IPAddress, subnet *Subnet) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isAvailableLocked(ip, subnet, MacAddress{})
}

// isAvailableLocked is IsAvailable's implementation; the store's mutex must
// already be held. forMAC, if non-zero, exempts a reservation for that MAC
// from the "reserved for a different MAC" check.
func (s *LeaseStore) isAvailableLocked(ip IPAddress, subnet *Subnet, forMAC MacAddress) (ok bool) {
	if !subnet.ContainsAddr(ip) {
		return false
	}

	if subnet.Excluded(ip) {
		return false
	}

	if _, leased := s.byIP[ip]; leased {
		return false
	}

	if until, declined := s.declined[ip]; declined && s.clock.Now().Before(until) {
		return false
	}

	for mac, res := range subnet.Reservations {
		if res.Enabled && res.IP == ip && mac != forMAC {
			return false
		}
	}

	return true
}

// Allocate implements the dynamic-allocation algorithm of the original
// spec's §4.3: reservation check, idempotent existing-lease check,
// requested-ip check, then a deterministic lowest-IP pool scan. A requested
// IP held by a different MAC is settled by the store's ConflictStrategy.
func (s *LeaseStore) Allocate(mac MacAddress, requestedIP IPAddress, subnet *Subnet, clientID []byte) (lease Lease, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if res, ok := subnet.Reservations[mac]; ok && res.Enabled {
		return s.synthesizeReservedLeaseLocked(res, now), nil
	}

	if existing, ok := s.byMAC[mac]; ok && existing.Active && !existing.Expired(now) {
		return existing.Clone(), nil
	}

	if !requestedIP.IsZero() {
		if s.isAvailableLocked(requestedIP, subnet, mac) {
			return s.commitLocked(mac, requestedIP, subnet, clientID, LeaseDynamic, now)
		}

		incumbent, held := s.byIP[requestedIP]
		if held && incumbent.MAC != mac && subnet.ContainsAddr(requestedIP) && !subnet.Excluded(requestedIP) {
			return s.commitLocked(mac, requestedIP, subnet, clientID, LeaseDynamic, now)
		}
	}

	poolRange, rangeErr := subnet.Range()
	if rangeErr != nil {
		return Lease{}, fmt.Errorf("subnet %s: %w", subnet.Name, rangeErr)
	}

	ip, found := poolRange.Find(func(candidate IPAddress) bool {
		return s.isAvailableLocked(candidate, subnet, mac)
	})
	if !found {
		return Lease{}, ErrPoolExhausted
	}

	return s.commitLocked(mac, ip, subnet, clientID, LeaseDynamic, now)
}

// synthesizeReservedLeaseLocked returns a Lease bound to a static
// reservation without consuming pool state, per step 1 of the allocation
// algorithm. Caller must hold s.mu.
func (s *LeaseStore) synthesizeReservedLeaseLocked(res StaticReservation, now time.Time) (lease Lease) {
	duration := res.LeaseTime
	allocatedAt, expiresAt, renewalAt, rebindingAt := newLeaseTimes(now, duration)

	lease = Lease{
		MAC:         res.MAC,
		IP:          res.IP,
		Hostname:    res.Hostname,
		Type:        LeaseStatic,
		Active:      true,
		Options:     res.OptionOverrides,
		AllocatedAt: allocatedAt,
		ExpiresAt:   expiresAt,
		RenewalAt:   renewalAt,
		RebindingAt: rebindingAt,
	}

	return lease.Clone()
}

// commitLocked records a new dynamic lease for mac at ip and updates both
// indexes. Caller must hold s.mu and have already resolved any conflict.
func (s *LeaseStore) commitLocked(
	mac MacAddress,
	ip IPAddress,
	subnet *Subnet,
	clientID []byte,
	typ LeaseType,
	now time.Time,
) (lease Lease, err error) {
	if incumbent, collides := s.byIP[ip]; collides && incumbent.MAC != mac {
		resolved, conflictErr := s.resolveConflictLocked(*incumbent, mac, ip, now)
		if conflictErr != nil {
			return Lease{}, conflictErr
		}

		if !resolved {
			return incumbent.Clone(), nil
		}
	}

	if s.maxLeases > 0 && len(s.byMAC) >= s.maxLeases {
		if _, exists := s.byMAC[mac]; !exists {
			return Lease{}, ErrPoolExhausted
		}
	}

	allocatedAt, expiresAt, renewalAt, rebindingAt := newLeaseTimes(now, subnet.LeaseTime)

	l := &Lease{
		MAC:         mac,
		IP:          ip,
		Type:        typ,
		Active:      true,
		ClientID:    clientID,
		AllocatedAt: allocatedAt,
		ExpiresAt:   expiresAt,
		RenewalAt:   renewalAt,
		RebindingAt: rebindingAt,
	}

	s.byMAC[mac] = l
	s.byIP[ip] = l

	return l.Clone(), nil
}

// resolveConflictLocked applies s.conflictStrategy to an incumbent lease on
// ip held by a different MAC than the requester. Caller must hold s.mu. It
// returns resolved=true under Replace, after removing the incumbent, so the
// caller grants the new lease. Every other strategy returns ErrConflict:
// Extend after lengthening the incumbent's expiry, Negotiate after recording
// a LeaseConflict, and Reject after emitting an event.
func (s *LeaseStore) resolveConflictLocked(incumbent Lease, requester MacAddress, ip IPAddress, now time.Time) (resolved bool, err error) {
	IncrementLeaseConflict(s.conflictStrategy)

	switch s.conflictStrategy {
	case ConflictReplace:
		delete(s.byMAC, incumbent.MAC)
		delete(s.byIP, ip)
		s.sink.Notify(SecurityEvent{
			Timestamp: now,
			Kind:      EventConflictReplaced,
			Severity:  SeverityMedium,
			MAC:       requester,
			HasMAC:    true,
			IP:        ip,
			HasIP:     true,
		})

		return true, nil
	case ConflictExtend:
		incumbent.ExpiresAt = now.Add(incumbent.LeaseDuration())
		*s.byIP[ip] = incumbent

		return false, ErrConflict
	case ConflictNegotiate:
		s.conflicts = append(s.conflicts, LeaseConflict{
			At:          now,
			Incumbent:   incumbent,
			RequestedBy: requester,
			RequestedIP: ip,
		})

		return false, ErrConflict
	case ConflictReject:
		fallthrough
	default:
		s.sink.Notify(SecurityEvent{
			Timestamp: now,
			Kind:      EventConflictRejected,
			Severity:  SeverityLow,
			MAC:       requester,
			HasMAC:    true,
			IP:        ip,
			HasIP:     true,
		})

		return false, ErrConflict
	}
}

// Renew extends the active lease for mac on ip, per the original spec's
// §4.5 REQUEST (renewing/rebinding) handling. It fails with ErrNotFound if
// mac does not currently hold ip.
func (s *LeaseStore) Renew(mac MacAddress, ip IPAddress, subnetLeaseTime time.Duration) (lease Lease, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byMAC[mac]
	if !ok || l.IP != ip {
		return Lease{}, ErrNotFound
	}

	now := s.clock.Now()
	duration := subnetLeaseTime
	if l.Type == LeaseStatic {
		duration = l.LeaseDuration()
	}

	allocatedAt, expiresAt, renewalAt, rebindingAt := newLeaseTimes(now, duration)
	l.AllocatedAt = allocatedAt
	l.ExpiresAt = expiresAt
	l.RenewalAt = renewalAt
	l.RebindingAt = rebindingAt
	l.Active = true

	return l.Clone(), nil
}

// Release deactivates and removes the lease for mac on ip, per §4.3
// "release". It is idempotent: a second call for the same (mac, ip) returns
// false, per law L2.
func (s *LeaseStore) Release(mac MacAddress, ip IPAddress) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.byMAC[mac]
	if !exists || l.IP != ip {
		return false
	}

	delete(s.byMAC, mac)
	delete(s.byIP, ip)

	return true
}

// Decline marks ip as poisoned for the store's configured cooldown, per
// §4.3 "decline".
func (s *LeaseStore) Decline(mac MacAddress, ip IPAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.declined[ip] = now.Add(s.declineCooldown)

	if l, ok := s.byMAC[mac]; ok && l.IP == ip {
		delete(s.byMAC, mac)
		delete(s.byIP, ip)
	}

	s.sink.Notify(SecurityEvent{
		Timestamp: now,
		Kind:      EventIPDeclined,
		Severity:  SeverityMedium,
		MAC:       mac,
		HasMAC:    true,
		IP:        ip,
		HasIP:     true,
	})
}

// SweepExpired deactivates and removes every dynamic lease whose expiry is
// at or before now (static leases are kept), and lets declined IPs exit cooldown whose timer has elapsed,
// per §4.3 "Expiration sweep".
func (s *LeaseStore) SweepExpired(now time.Time) (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for mac, l := range s.byMAC {
		if l.Type == LeaseStatic {
			continue
		}

		if l.Expired(now) {
			delete(s.byMAC, mac)
			delete(s.byIP, l.IP)
			removed++
		}
	}

	for ip, until := range s.declined {
		if !now.Before(until) {
			delete(s.declined, ip)
		}
	}

	return removed
}

// Snapshot returns every active lease, for persistence and read APIs.
func (s *LeaseStore) Snapshot() (leases []Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leases = make([]Lease, 0, len(s.byMAC))
	for _, l := range s.byMAC {
		leases = append(leases, l.Clone())
	}

	return leases
}

// AddReservation evicts the lease the store holds for res.MAC if it is bound
// to an address other than res.IP, so the reservation takes precedence, per
// invariant I5. It does not record the reservation itself; reservations
// live in the subnet config.
func (s *LeaseStore) AddReservation(res StaticReservation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.byMAC[res.MAC]; ok && l.IP != res.IP {
		delete(s.byMAC, res.MAC)
		delete(s.byIP, l.IP)
	}
}

// RemoveReservationLease removes any dynamic bookkeeping the store holds
// for mac, used when a reservation is deleted so the MAC can fall back to
// pool allocation on its next DISCOVER.
func (s *LeaseStore) RemoveReservationLease(mac MacAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.byMAC[mac]; ok {
		delete(s.byMAC, mac)
		delete(s.byIP, l.IP)
	}
}

// Conflicts returns every LeaseConflict recorded under ConflictNegotiate
// and clears the list.
func (s *LeaseStore) Conflicts() (conflicts []LeaseConflict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conflicts = s.conflicts
	s.conflicts = nil

	return conflicts
}

// Len returns the number of active leases held.
func (s *LeaseStore) Len() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.byMAC)
}
