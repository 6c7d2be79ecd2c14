package dhcp_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubnet(t *testing.T) (s *dhcp.Subnet) {
	t.Helper()

	return &dhcp.Subnet{
		Name:         "lab",
		Network:      dhcp.MustParseIP("192.168.1.0"),
		PrefixLength: 24,
		RangeStart:   dhcp.MustParseIP("192.168.1.100"),
		RangeEnd:     dhcp.MustParseIP("192.168.1.200"),
		Gateway:      dhcp.MustParseIP("192.168.1.1"),
		LeaseTime:    24 * time.Hour,
		MaxLeaseTime: 48 * time.Hour,
		Reservations: map[dhcp.MacAddress]dhcp.StaticReservation{},
	}
}

func newTestStore(now time.Time) (s *dhcp.LeaseStore) {
	clock := &faketime.Clock{OnNow: func() time.Time { return now }}

	return dhcp.NewLeaseStore(dhcp.LeaseStoreConfig{
		Clock:           clock,
		ConflictStrategy: dhcp.ConflictReject,
		DeclineCooldown: time.Minute,
	})
}

func TestLeaseStore_Allocate_firstFreeAddress(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)

	mac := dhcp.MacAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	lease, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.100", lease.IP.String())
	assert.True(t, lease.AllocatedAt.Before(lease.RenewalAt))
	assert.True(t, lease.RenewalAt.Before(lease.RebindingAt))
	assert.True(t, !lease.RebindingAt.After(lease.ExpiresAt))
}

func TestLeaseStore_Allocate_idempotentDiscover(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)
	mac := dhcp.MacAddress{1, 2, 3, 4, 5, 6}

	first, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)

	second, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)

	assert.Equal(t, first.IP, second.IP)
	assert.Equal(t, 1, store.Len())
}

func TestLeaseStore_Allocate_reservationOverridesPool(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)

	mac := dhcp.MacAddress{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	reservedIP := dhcp.MustParseIP("192.168.1.150")
	subnet.Reservations[mac] = dhcp.StaticReservation{
		MAC:       mac,
		IP:        reservedIP,
		LeaseTime: time.Hour,
		Enabled:   true,
	}

	lease, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)
	assert.Equal(t, reservedIP, lease.IP)
	assert.Equal(t, dhcp.LeaseStatic, lease.Type)

	// Reservations don't consume pool state: another MAC can still take the
	// first pool address.
	other := dhcp.MacAddress{1, 1, 1, 1, 1, 1}
	otherLease, err := store.Allocate(other, 0, subnet, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.100", otherLease.IP.String())
}

func TestLeaseStore_Allocate_poolExhaustion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)
	subnet.RangeStart = dhcp.MustParseIP("192.168.1.100")
	subnet.RangeEnd = dhcp.MustParseIP("192.168.1.101")

	m1 := dhcp.MacAddress{1, 0, 0, 0, 0, 1}
	m2 := dhcp.MacAddress{1, 0, 0, 0, 0, 2}
	m3 := dhcp.MacAddress{1, 0, 0, 0, 0, 3}

	_, err := store.Allocate(m1, 0, subnet, nil)
	require.NoError(t, err)
	_, err = store.Allocate(m2, 0, subnet, nil)
	require.NoError(t, err)

	_, err = store.Allocate(m3, 0, subnet, nil)
	require.ErrorIs(t, err, dhcp.ErrPoolExhausted)
	assert.Equal(t, 2, store.Len())
}

func TestLeaseStore_Allocate_singleAddressRangeThenExhausted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)
	only := dhcp.MustParseIP("192.168.1.100")
	subnet.RangeStart, subnet.RangeEnd = only, only

	m1 := dhcp.MacAddress{2, 0, 0, 0, 0, 1}
	m2 := dhcp.MacAddress{2, 0, 0, 0, 0, 2}

	lease, err := store.Allocate(m1, 0, subnet, nil)
	require.NoError(t, err)
	assert.Equal(t, only, lease.IP)

	_, err = store.Allocate(m2, 0, subnet, nil)
	require.ErrorIs(t, err, dhcp.ErrPoolExhausted)
}

func TestLeaseStore_Allocate_exclusionCoversEntireRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)
	subnet.Exclusions = []dhcp.Exclusion{{From: subnet.RangeStart, To: subnet.RangeEnd}}

	mac := dhcp.MacAddress{3, 0, 0, 0, 0, 1}
	_, err := store.Allocate(mac, 0, subnet, nil)
	require.ErrorIs(t, err, dhcp.ErrPoolExhausted)
}

func TestLeaseStore_conflictReplace(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &faketime.Clock{OnNow: func() time.Time { return now }}
	store := dhcp.NewLeaseStore(dhcp.LeaseStoreConfig{
		Clock:            clock,
		ConflictStrategy: dhcp.ConflictReplace,
	})
	subnet := testSubnet(t)

	m1 := dhcp.MacAddress{4, 0, 0, 0, 0, 1}
	m2 := dhcp.MacAddress{4, 0, 0, 0, 0, 2}
	contested := dhcp.MustParseIP("192.168.1.120")

	_, err := store.Allocate(m1, contested, subnet, nil)
	require.NoError(t, err)

	lease, err := store.Allocate(m2, contested, subnet, nil)
	require.NoError(t, err)
	assert.Equal(t, contested, lease.IP)

	_, ok := store.GetByMAC(m1)
	assert.False(t, ok)
}

func TestLeaseStore_Release_idempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)

	mac := dhcp.MacAddress{5, 0, 0, 0, 0, 1}
	lease, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)

	assert.True(t, store.Release(mac, lease.IP))
	assert.False(t, store.Release(mac, lease.IP))
}

func TestLeaseStore_SweepExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &faketime.Clock{OnNow: func() time.Time { return now }}
	store := dhcp.NewLeaseStore(dhcp.LeaseStoreConfig{Clock: clock})
	subnet := testSubnet(t)
	subnet.LeaseTime = time.Second
	subnet.MaxLeaseTime = time.Second

	mac := dhcp.MacAddress{6, 0, 0, 0, 0, 1}
	_, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)

	removed := store.SweepExpired(now.Add(2 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Len())
}

func TestLeaseStore_dualIndexInvariant(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(now)
	subnet := testSubnet(t)

	mac := dhcp.MacAddress{7, 0, 0, 0, 0, 1}
	lease, err := store.Allocate(mac, 0, subnet, nil)
	require.NoError(t, err)

	byMAC, ok := store.GetByMAC(mac)
	require.True(t, ok)
	byIP, ok := store.GetByIP(lease.IP)
	require.True(t, ok)

	assert.Equal(t, byMAC.IP, byIP.IP)
	assert.Equal(t, byMAC.MAC, byIP.MAC)
}
