package dhcp

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// DHCP/BOOTP well-known UDP ports, see the original spec's §6 "Wire
// protocol".
const (
	ServerPort = 67
	ClientPort = 68
)

// ErrNoMatchingSubnet is returned by subnet selection when no configured
// subnet matches the inbound message's giaddr or receiving interface.
const ErrNoMatchingSubnet errors.Error = "dhcp: no matching subnet"

// SubnetSet holds the subnets a StateMachine selects among, per the
// original spec's §4.5.1.
type SubnetSet struct {
	subnets []*Subnet
}

// NewSubnetSet returns a SubnetSet over subnets.
func NewSubnetSet(subnets []*Subnet) (set *SubnetSet) {
	return &SubnetSet{subnets: subnets}
}

// Select chooses the most specific (longest prefix) subnet containing ip.
func (set *SubnetSet) Select(ip IPAddress) (subnet *Subnet, ok bool) {
	bestPrefix := -1

	for _, s := range set.subnets {
		if !s.ContainsAddr(ip) {
			continue
		}

		if s.PrefixLength > bestPrefix {
			bestPrefix = s.PrefixLength
			subnet = s
		}
	}

	return subnet, subnet != nil
}

// ByName returns the subnet with the given name, if any.
func (set *SubnetSet) ByName(name string) (subnet *Subnet, ok bool) {
	for _, s := range set.subnets {
		if s.Name == name {
			return s, true
		}
	}

	return nil, false
}

// StateMachine implements the DORA/RRII dispatch of the original spec's
// §4.5. It is a pure function of (inbound message, source metadata) to
// (outbound message?, lease-store mutations, events); it holds no
// per-transaction state of its own.
type StateMachine struct {
	registry *Registry
	store    *LeaseStore
	subnets  *SubnetSet
	sink     EventSink

	// serverIDOverride, if non-zero, is used for option 54 and siaddr
	// instead of the receiving interface's address.
	serverIDOverride IPAddress
}

// StateMachineConfig configures a new StateMachine.
type StateMachineConfig struct {
	Registry *Registry
	Store    *LeaseStore
	Subnets  *SubnetSet
	Sink     EventSink

	// ServerID, if non-zero, overrides the per-interface address normally
	// used to populate option 54 and siaddr. Leaving it zero means each
	// Handle call uses the interface address passed via HandleRequest.
	ServerID IPAddress
}

// NewStateMachine returns a StateMachine.
func NewStateMachine(conf StateMachineConfig) (sm *StateMachine) {
	sink := conf.Sink
	if sink == nil {
		sink = NoopEventSink
	}

	return &StateMachine{
		registry:         conf.Registry,
		store:            conf.Store,
		subnets:          conf.Subnets,
		sink:             sink,
		serverIDOverride: conf.ServerID,
	}
}

// HandleRequest carries an admitted inbound message and the metadata the
// state machine needs to act on it.
type HandleRequest struct {
	Message *Message

	// InterfaceAddr is the IPv4 address of the interface the datagram was
	// received on; used for subnet selection when the message isn't
	// relayed, and as the default server identifier.
	InterfaceAddr IPAddress

	VendorClass string
	UserClass   string
}

// Outbound is the reply the state machine wants transmitted, along with
// the transport decision of the original spec's §4.5.4.
type Outbound struct {
	Message *Message
	DestIP  IPAddress
	DestMAC MacAddress

	DestPort int

	// Broadcast indicates the reply must be sent to 255.255.255.255,
	// rather than unicast to DestIP.
	Broadcast bool
}

// Handle dispatches msg per the message-type table in the original spec's
// §4.5, returning the reply to send (if any).
func (sm *StateMachine) Handle(req HandleRequest, now time.Time) (out *Outbound, err error) {
	msg := req.Message

	switch msg.Type {
	case MsgTypeDiscover:
		return sm.handleDiscover(req, now)
	case MsgTypeRequest:
		return sm.handleRequest(req, now)
	case MsgTypeDecline:
		return sm.handleDecline(req, now)
	case MsgTypeRelease:
		return sm.handleRelease(req)
	case MsgTypeInform:
		return sm.handleInform(req)
	case MsgTypeOffer, MsgTypeAck, MsgTypeNak:
		// The server should not receive these; drop.
		return nil, nil
	default:
		return nil, nil
	}
}

func (sm *StateMachine) selectSubnet(msg *Message, interfaceAddr IPAddress) (subnet *Subnet, ok bool) {
	if giaddr := msg.Header.GatewayIP; !giaddr.IsZero() {
		return sm.subnets.Select(giaddr)
	}

	return sm.subnets.Select(interfaceAddr)
}

func (sm *StateMachine) handleDiscover(req HandleRequest, now time.Time) (out *Outbound, err error) {
	msg := req.Message

	subnet, ok := sm.selectSubnet(msg, req.InterfaceAddr)
	if !ok {
		// Silently drop, per policy for DISCOVER with no matching subnet.
		return nil, nil
	}

	requestedIP, _ := msg.RequestedIP()
	clientID, _ := msg.ClientIdentifier()

	lease, allocErr := sm.store.Allocate(msg.Header.ClientHWAddr, requestedIP, subnet, clientID)
	if allocErr != nil {
		if errors.Is(allocErr, ErrPoolExhausted) {
			PoolExhausted.WithLabelValues(subnet.Name).Inc()
		}

		// PoolExhausted/Conflict(Reject): silent drop for DISCOVER, per
		// §7 "Allocation errors".
		return nil, nil
	}

	serverID := sm.serverID(req.InterfaceAddr)
	reply := sm.buildLeaseReply(msg, lease, subnet, serverID, MsgTypeOffer, req)

	return sm.transport(msg, reply), nil
}

func (sm *StateMachine) handleRequest(req HandleRequest, now time.Time) (out *Outbound, err error) {
	msg := req.Message

	serverID := sm.serverID(req.InterfaceAddr)

	if sid, ok := msg.ServerIdentifier(); ok {
		// Selecting state: the client is confirming an offer from a
		// specific server.
		if sid != serverID {
			// Addressed to a different server; ignore.
			return nil, nil
		}

		return sm.handleRequestSelecting(req, now, serverID)
	}

	if !msg.Header.ClientIP.IsZero() {
		// Renewing (unicast) or rebinding (broadcast); same handling
		// either way per §4.5 "as renewing".
		return sm.handleRequestRenewing(req, now, serverID)
	}

	return nil, nil
}

func (sm *StateMachine) handleRequestSelecting(req HandleRequest, now time.Time, serverID IPAddress) (out *Outbound, err error) {
	msg := req.Message

	requestedIP, ok := msg.RequestedIP()
	if !ok {
		return nil, nil
	}

	subnet, ok := sm.selectSubnet(msg, req.InterfaceAddr)
	if !ok {
		return sm.buildNak(msg, serverID, "no matching subnet"), nil
	}

	clientID, _ := msg.ClientIdentifier()
	lease, allocErr := sm.store.Allocate(msg.Header.ClientHWAddr, requestedIP, subnet, clientID)
	if errors.Is(allocErr, ErrPoolExhausted) {
		PoolExhausted.WithLabelValues(subnet.Name).Inc()
	}

	if allocErr != nil || lease.IP != requestedIP {
		return sm.buildNak(msg, serverID, "requested address unavailable"), nil
	}

	reply := sm.buildLeaseReply(msg, lease, subnet, serverID, MsgTypeAck, req)

	return sm.transport(msg, reply), nil
}

func (sm *StateMachine) handleRequestRenewing(req HandleRequest, now time.Time, serverID IPAddress) (out *Outbound, err error) {
	msg := req.Message
	ciaddr := msg.Header.ClientIP

	subnet, ok := sm.selectSubnet(msg, req.InterfaceAddr)
	if !ok {
		return sm.buildNak(msg, serverID, "no matching subnet"), nil
	}

	lease, renewErr := sm.store.Renew(msg.Header.ClientHWAddr, ciaddr, subnet.LeaseTime)
	if renewErr != nil {
		return sm.buildNak(msg, serverID, "not the lease holder"), nil
	}

	reply := sm.buildLeaseReply(msg, lease, subnet, serverID, MsgTypeAck, req)

	return sm.transport(msg, reply), nil
}

func (sm *StateMachine) handleDecline(req HandleRequest, now time.Time) (out *Outbound, err error) {
	msg := req.Message

	ip, ok := msg.RequestedIP()
	if !ok {
		ip = msg.Header.ClientIP
	}

	sm.store.Decline(msg.Header.ClientHWAddr, ip)

	return nil, nil
}

func (sm *StateMachine) handleRelease(req HandleRequest) (out *Outbound, err error) {
	msg := req.Message
	sm.store.Release(msg.Header.ClientHWAddr, msg.Header.ClientIP)

	return nil, nil
}

func (sm *StateMachine) handleInform(req HandleRequest) (out *Outbound, err error) {
	msg := req.Message
	if msg.Header.ClientIP.IsZero() {
		return nil, nil
	}

	subnet, ok := sm.selectSubnet(msg, req.InterfaceAddr)
	if !ok {
		return nil, nil
	}

	serverID := sm.serverID(req.InterfaceAddr)

	reply := &Message{
		Header: Header{
			Op:           OpBootReply,
			HType:        1,
			HLen:         6,
			Xid:          msg.Header.Xid,
			Secs:         msg.Header.Secs,
			Flags:        msg.Header.Flags,
			ClientHWAddr: msg.Header.ClientHWAddr,
			GatewayIP:    msg.Header.GatewayIP,
		},
		Type: MsgTypeAck,
	}
	reply.SetOption(OptMessageType, []byte{byte(MsgTypeAck)})
	reply.SetOption(OptServerID, serverID.Bytes()[:])

	ctx := RequestContext{VendorClass: req.VendorClass, UserClass: req.UserClass}
	sm.appendConfigOptions(reply, subnet, msg.ParameterRequestList(), ctx)

	return sm.transport(msg, reply), nil
}

// serverID returns the address this server identifies itself as.
func (sm *StateMachine) serverID(interfaceAddr IPAddress) (id IPAddress) {
	if !sm.serverIDOverride.IsZero() {
		return sm.serverIDOverride
	}

	return interfaceAddr
}

// buildLeaseReply constructs an OFFER or ACK per the original spec's
// §4.5.2.
func (sm *StateMachine) buildLeaseReply(
	in *Message,
	lease Lease,
	subnet *Subnet,
	serverID IPAddress,
	typ MessageType,
	req HandleRequest,
) (reply *Message) {
	reply = &Message{
		Header: Header{
			Op:           OpBootReply,
			HType:        1,
			HLen:         6,
			Xid:          in.Header.Xid,
			Secs:         in.Header.Secs,
			Flags:        in.Header.Flags,
			ClientHWAddr: in.Header.ClientHWAddr,
			YourIP:       lease.IP,
			ServerIP:     serverID,
			GatewayIP:    in.Header.GatewayIP,
		},
		Type: typ,
	}

	reply.SetOption(OptMessageType, []byte{byte(typ)})
	reply.SetOption(OptServerID, serverID.Bytes()[:])

	leaseSeconds := uint32(lease.LeaseDuration().Seconds())
	reply.SetOption(OptLeaseTime, uint32Bytes(leaseSeconds))
	reply.SetOption(OptRenewalT1, uint32Bytes(uint32(lease.RenewalAt.Sub(lease.AllocatedAt).Seconds())))
	reply.SetOption(OptRebindingT2, uint32Bytes(uint32(lease.RebindingAt.Sub(lease.AllocatedAt).Seconds())))
	reply.SetOption(OptSubnetMask, subnet.Mask().Bytes()[:])

	if !subnet.Gateway.IsZero() {
		reply.SetOption(OptRouter, subnet.Gateway.Bytes()[:])
	}

	if len(subnet.DNSServers) > 0 {
		reply.SetOption(OptDNSServers, flattenIPs(subnet.DNSServers))
	}

	if subnet.DomainName != "" {
		reply.SetOption(OptDomainName, []byte(subnet.DomainName))
	}

	ctx := RequestContext{VendorClass: req.VendorClass, UserClass: req.UserClass}
	sm.appendConfigOptions(reply, subnet, in.ParameterRequestList(), ctx)

	return reply
}

// appendConfigOptions resolves every code in requested that isn't already
// set on reply, using the registry's inheritance chain.
func (sm *StateMachine) appendConfigOptions(reply *Message, subnet *Subnet, requested []uint8, ctx RequestContext) {
	if sm.registry == nil || len(requested) == 0 {
		return
	}

	for _, code := range requested {
		if _, already := reply.GetOption(code); already {
			continue
		}

		v, ok := sm.registry.Resolve(code, nil, subnet.OptionOverrides, nil, nil, ctx)
		if !ok {
			continue
		}

		reply.SetOption(code, v)
	}
}

// buildNak constructs a NAK per the original spec's §4.5.3: minimal,
// message-type + server-identifier, optional message.
func (sm *StateMachine) buildNak(in *Message, serverID IPAddress, reason string) (out *Outbound) {
	reply := &Message{
		Header: Header{
			Op:           OpBootReply,
			HType:        1,
			HLen:         6,
			Xid:          in.Header.Xid,
			Flags:        in.Header.Flags,
			ClientHWAddr: in.Header.ClientHWAddr,
			GatewayIP:    in.Header.GatewayIP,
		},
		Type: MsgTypeNak,
	}
	reply.SetOption(OptMessageType, []byte{byte(MsgTypeNak)})
	reply.SetOption(OptServerID, serverID.Bytes()[:])
	if reason != "" {
		reply.SetOption(OptMessage, []byte(reason))
	}

	return sm.transport(in, reply)
}

// transport applies the original spec's §4.5.4 decision: giaddr if
// relayed, else unicast to ciaddr, else broadcast if the client's
// broadcast flag is set, else unicast to yiaddr/chaddr (the ARP-override
// case; this package has no ARP cache of its own, so it relies on the
// caller's link layer resolving chaddr directly instead of issuing its
// own ARP probe).
func (sm *StateMachine) transport(in *Message, reply *Message) (out *Outbound) {
	out = &Outbound{Message: reply}

	if giaddr := in.Header.GatewayIP; !giaddr.IsZero() {
		out.DestIP = giaddr
		out.DestPort = ServerPort

		return out
	}

	if ciaddr := in.Header.ClientIP; !ciaddr.IsZero() {
		out.DestIP = ciaddr
		out.DestPort = ClientPort

		return out
	}

	if in.Header.Broadcast() {
		out.Broadcast = true
		out.DestIP = BroadcastIP
		out.DestPort = ClientPort

		return out
	}

	out.DestIP = reply.Header.YourIP
	out.DestMAC = in.Header.ClientHWAddr
	out.DestPort = ClientPort

	return out
}

func uint32Bytes(v uint32) (b []byte) {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func flattenIPs(ips []IPAddress) (b []byte) {
	b = make([]byte, 0, len(ips)*4)
	for _, ip := range ips {
		bs := ip.Bytes()
		b = append(b, bs[:]...)
	}

	return b
}
