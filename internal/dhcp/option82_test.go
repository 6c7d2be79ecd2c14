package dhcp_test

import (
	"testing"

	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOption82_roundTrip(t *testing.T) {
	info := dhcp.RelayAgentInfo{
		CircuitID:       []byte("eth0/1"),
		HasCircuitID:    true,
		RemoteID:        []byte{0xaa, 0xbb},
		HasRemoteID:     true,
		SubscriberID:    []byte("sub-123"),
		HasSubscriberID: true,
	}

	value := info.Serialize()
	parsed := dhcp.ParseOption82(value)

	assert.Equal(t, info.CircuitID, parsed.CircuitID)
	assert.Equal(t, info.RemoteID, parsed.RemoteID)
	assert.Equal(t, info.SubscriberID, parsed.SubscriberID)
	assert.False(t, parsed.Empty())
}

func TestOption82_unknownSubOptPreserved(t *testing.T) {
	value := []byte{9, 2, 0x01, 0x02, dhcp.SubOptCircuitID, 1, 'a'}

	parsed := dhcp.ParseOption82(value)
	require.Len(t, parsed.Extra, 1)
	assert.EqualValues(t, 9, parsed.Extra[0].Code)
	assert.Equal(t, []byte{0x01, 0x02}, parsed.Extra[0].Value)

	roundTripped := parsed.Serialize()
	reparsed := dhcp.ParseOption82(roundTripped)
	assert.Equal(t, parsed, reparsed)
}

func TestOption82_truncatedStopsCleanly(t *testing.T) {
	value := []byte{dhcp.SubOptCircuitID, 10, 'x'}

	parsed := dhcp.ParseOption82(value)
	assert.True(t, parsed.Empty())
}

func TestOption82_empty(t *testing.T) {
	var info dhcp.RelayAgentInfo
	assert.True(t, info.Empty())
	assert.Empty(t, info.Serialize())
}
