package dhcp_test

import (
	"testing"

	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIPRange_invalid(t *testing.T) {
	_, err := dhcp.NewIPRange(dhcp.MustParseIP("192.168.1.200"), dhcp.MustParseIP("192.168.1.100"))
	require.ErrorIs(t, err, dhcp.ErrInvalidRange)
}

func TestIPRange_Contains(t *testing.T) {
	r, err := dhcp.NewIPRange(dhcp.MustParseIP("192.168.1.100"), dhcp.MustParseIP("192.168.1.200"))
	require.NoError(t, err)

	assert.True(t, r.Contains(dhcp.MustParseIP("192.168.1.150")))
	assert.False(t, r.Contains(dhcp.MustParseIP("192.168.1.99")))
	assert.False(t, r.Contains(dhcp.MustParseIP("192.168.1.201")))
}

func TestIPRange_Find(t *testing.T) {
	r, err := dhcp.NewIPRange(dhcp.MustParseIP("192.168.1.100"), dhcp.MustParseIP("192.168.1.101"))
	require.NoError(t, err)

	taken := dhcp.MustParseIP("192.168.1.100")
	ip, ok := r.Find(func(ip dhcp.IPAddress) bool { return ip != taken })
	require.True(t, ok)
	assert.Equal(t, "192.168.1.101", ip.String())

	_, ok = r.Find(func(dhcp.IPAddress) bool { return false })
	assert.False(t, ok)
}

func TestIPRange_singleAddress(t *testing.T) {
	ip := dhcp.MustParseIP("10.0.0.5")
	r, err := dhcp.NewIPRange(ip, ip)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Len())
}
