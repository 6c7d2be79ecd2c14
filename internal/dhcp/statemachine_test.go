package dhcp_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateMachine(t *testing.T, now time.Time, subnet *dhcp.Subnet, serverID dhcp.IPAddress) (sm *dhcp.StateMachine, store *dhcp.LeaseStore) {
	t.Helper()

	clock := &faketime.Clock{OnNow: func() time.Time { return now }}
	store = dhcp.NewLeaseStore(dhcp.LeaseStoreConfig{Clock: clock})
	sm = dhcp.NewStateMachine(dhcp.StateMachineConfig{
		Registry: dhcp.NewRegistry(),
		Store:    store,
		Subnets:  dhcp.NewSubnetSet([]*dhcp.Subnet{subnet}),
		ServerID: serverID,
	})

	return sm, store
}

func discoverMessage(mac dhcp.MacAddress, xid uint32) (msg *dhcp.Message) {
	msg = &dhcp.Message{
		Header: dhcp.Header{
			Op:           dhcp.OpBootRequest,
			HType:        1,
			HLen:         6,
			Xid:          xid,
			ClientHWAddr: mac,
			Flags:        dhcp.BroadcastFlag,
		},
		Type: dhcp.MsgTypeDiscover,
	}
	msg.SetOption(dhcp.OptMessageType, []byte{byte(dhcp.MsgTypeDiscover)})

	return msg
}

func TestStateMachine_S1_DORAHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subnet := testSubnet(t)
	subnet.LeaseTime = 86400 * time.Second
	subnet.MaxLeaseTime = subnet.LeaseTime
	serverID := dhcp.MustParseIP("192.168.1.1")

	sm, store := newTestStateMachine(t, now, subnet, serverID)

	mac := dhcp.MacAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	discover := discoverMessage(mac, 0xDEADBEEF)

	out, err := sm.Handle(dhcp.HandleRequest{Message: discover, InterfaceAddr: serverID}, now)
	require.NoError(t, err)
	require.NotNil(t, out)

	offer := out.Message
	assert.Equal(t, dhcp.MsgTypeOffer, offer.Type)
	assert.EqualValues(t, 0xDEADBEEF, offer.Header.Xid)
	assert.Equal(t, "192.168.1.100", offer.Header.YourIP.String())

	sid, ok := offer.ServerIdentifier()
	require.True(t, ok)
	assert.Equal(t, serverID, sid)

	leaseSeconds, ok := offer.GetOption(dhcp.OptLeaseTime)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 0x51, 0x80}, leaseSeconds)

	mask, ok := offer.GetOption(dhcp.OptSubnetMask)
	require.True(t, ok)
	assert.Equal(t, "255.255.255.0", dhcp.IPAddress(uint32(mask[0])<<24|uint32(mask[1])<<16|uint32(mask[2])<<8|uint32(mask[3])).String())

	router, ok := offer.GetOption(dhcp.OptRouter)
	require.True(t, ok)
	assert.Equal(t, subnet.Gateway.Bytes(), [4]byte(router))

	request := &dhcp.Message{
		Header: dhcp.Header{
			Op:           dhcp.OpBootRequest,
			HType:        1,
			HLen:         6,
			Xid:          0xDEADBEEF,
			ClientHWAddr: mac,
		},
		Type: dhcp.MsgTypeRequest,
	}
	request.SetOption(dhcp.OptMessageType, []byte{byte(dhcp.MsgTypeRequest)})
	request.SetOption(dhcp.OptRequestedIP, dhcp.MustParseIP("192.168.1.100").Bytes()[:])
	request.SetOption(dhcp.OptServerID, serverID.Bytes()[:])

	out, err = sm.Handle(dhcp.HandleRequest{Message: request, InterfaceAddr: serverID}, now)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, dhcp.MsgTypeAck, out.Message.Type)
	assert.Equal(t, "192.168.1.100", out.Message.Header.YourIP.String())
	assert.Equal(t, 1, store.Len())
}

func TestStateMachine_S2_reservationOverridesPool(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subnet := testSubnet(t)
	mac := dhcp.MacAddress{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	reservedIP := dhcp.MustParseIP("192.168.1.150")
	subnet.Reservations[mac] = dhcp.StaticReservation{
		MAC:       mac,
		IP:        reservedIP,
		LeaseTime: time.Hour,
		Enabled:   true,
	}
	serverID := dhcp.MustParseIP("192.168.1.1")

	sm, _ := newTestStateMachine(t, now, subnet, serverID)

	discover := discoverMessage(mac, 1)
	out, err := sm.Handle(dhcp.HandleRequest{Message: discover, InterfaceAddr: serverID}, now)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, reservedIP, out.Message.Header.YourIP)

	request := &dhcp.Message{
		Header: dhcp.Header{Xid: 1, ClientHWAddr: mac},
		Type:   dhcp.MsgTypeRequest,
	}
	request.SetOption(dhcp.OptMessageType, []byte{byte(dhcp.MsgTypeRequest)})
	request.SetOption(dhcp.OptRequestedIP, dhcp.MustParseIP("192.168.1.151").Bytes()[:])
	request.SetOption(dhcp.OptServerID, serverID.Bytes()[:])

	out, err = sm.Handle(dhcp.HandleRequest{Message: request, InterfaceAddr: serverID}, now)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, dhcp.MsgTypeNak, out.Message.Type)
}

func TestStateMachine_S4_poolExhaustionSilentDrop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subnet := testSubnet(t)
	subnet.RangeStart = dhcp.MustParseIP("192.168.1.100")
	subnet.RangeEnd = dhcp.MustParseIP("192.168.1.101")
	serverID := dhcp.MustParseIP("192.168.1.1")

	sm, store := newTestStateMachine(t, now, subnet, serverID)

	m1 := dhcp.MacAddress{1, 0, 0, 0, 0, 1}
	m2 := dhcp.MacAddress{1, 0, 0, 0, 0, 2}
	m3 := dhcp.MacAddress{1, 0, 0, 0, 0, 3}

	_, err := store.Allocate(m1, 0, subnet, nil)
	require.NoError(t, err)
	_, err = store.Allocate(m2, 0, subnet, nil)
	require.NoError(t, err)

	out, err := sm.Handle(dhcp.HandleRequest{Message: discoverMessage(m3, 3), InterfaceAddr: serverID}, now)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestStateMachine_transport_relayedGoesToGiaddr(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subnet := testSubnet(t)
	serverID := dhcp.MustParseIP("192.168.1.1")
	sm, _ := newTestStateMachine(t, now, subnet, serverID)

	mac := dhcp.MacAddress{9, 9, 9, 9, 9, 9}
	discover := discoverMessage(mac, 5)
	discover.Header.GatewayIP = dhcp.MustParseIP("192.168.1.1")
	discover.Header.Flags = 0

	out, err := sm.Handle(dhcp.HandleRequest{Message: discover, InterfaceAddr: serverID}, now)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, dhcp.MustParseIP("192.168.1.1"), out.DestIP)
	assert.Equal(t, dhcp.ServerPort, out.DestPort)
	assert.False(t, out.Broadcast)
}
