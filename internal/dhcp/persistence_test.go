package dhcp_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadLeases(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mac := dhcp.MacAddress{1, 2, 3, 4, 5, 6}
	lease := dhcp.Lease{
		MAC:         mac,
		IP:          dhcp.MustParseIP("192.168.1.100"),
		Hostname:    "laptop",
		Type:        dhcp.LeaseDynamic,
		Active:      true,
		AllocatedAt: now,
		ExpiresAt:   now.Add(time.Hour),
	}

	res := dhcp.StaticReservation{
		MAC:         dhcp.MacAddress{9, 9, 9, 9, 9, 9},
		IP:          dhcp.MustParseIP("192.168.1.50"),
		Hostname:    "printer",
		Description: "front office",
		LeaseTime:   time.Hour,
		Enabled:     true,
	}

	path := filepath.Join(t.TempDir(), "leases.db")
	err := dhcp.SaveLeases(path, []dhcp.Lease{lease}, []dhcp.StaticReservation{res}, now)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded, err := dhcp.LoadLeases(data, slogutil.NewDiscardLogger())
	require.NoError(t, err)

	require.Len(t, loaded.Leases, 1)
	assert.Equal(t, mac, loaded.Leases[0].MAC)
	assert.Equal(t, lease.IP, loaded.Leases[0].IP)
	assert.Equal(t, "laptop", loaded.Leases[0].Hostname)

	require.Len(t, loaded.Reservations, 1)
	assert.Equal(t, res.MAC, loaded.Reservations[0].MAC)
	assert.True(t, loaded.Reservations[0].Enabled)
}

func TestLoadLeases_discardsMalformedLines(t *testing.T) {
	data := []byte(`# Simple DHCP Daemon Lease Database
# Generated: 1700000000
LEASE:not-enough-fields
LEASE:aa:bb:cc:dd:ee:ff|192.168.1.100|host|3600|dynamic|1700000000|1700003600|
GARBAGE LINE
`)

	loaded, err := dhcp.LoadLeases(data, slogutil.NewDiscardLogger())
	require.NoError(t, err)
	require.Len(t, loaded.Leases, 1)
	assert.Equal(t, "host", loaded.Leases[0].Hostname)
}
