package dhcp

// Relay Agent Information sub-option codes, RFC 3046.
const (
	SubOptCircuitID    uint8 = 1
	SubOptRemoteID     uint8 = 2
	SubOptSubscriberID uint8 = 6
)

// RelayAgentInfo is the parsed form of option 82, the Relay Agent
// Information option. Unrecognized sub-options are preserved verbatim in
// Extra so a re-serialized message is byte-for-byte faithful to what a relay
// sent, even for sub-options this implementation doesn't interpret.
type RelayAgentInfo struct {
	CircuitID    []byte
	RemoteID     []byte
	SubscriberID []byte

	// Extra holds sub-options other than circuit-id/remote-id/subscriber-id,
	// in the order they were encountered.
	Extra []DHCPOption

	HasCircuitID    bool
	HasRemoteID     bool
	HasSubscriberID bool
}

// ParseOption82 decodes the sub-TLV stream carried in option 82's value. As
// with the top-level codec, a truncated sub-option stops parsing without
// error, returning whatever was already parsed.
func ParseOption82(value []byte) (info RelayAgentInfo) {
	i := 0
	for i < len(value) {
		if i+1 >= len(value) {
			break
		}

		code := value[i]
		length := int(value[i+1])
		start := i + 2
		end := start + length
		if end > len(value) {
			break
		}

		sub := make([]byte, length)
		copy(sub, value[start:end])

		switch code {
		case SubOptCircuitID:
			info.CircuitID = sub
			info.HasCircuitID = true
		case SubOptRemoteID:
			info.RemoteID = sub
			info.HasRemoteID = true
		case SubOptSubscriberID:
			info.SubscriberID = sub
			info.HasSubscriberID = true
		default:
			info.Extra = append(info.Extra, DHCPOption{Code: code, Value: sub})
		}

		i = end
	}

	return info
}

// Serialize encodes info back into an option 82 value, in circuit-id,
// remote-id, subscriber-id, then Extra order.
func (info RelayAgentInfo) Serialize() (value []byte) {
	if info.HasCircuitID {
		value = append(value, SubOptCircuitID, byte(len(info.CircuitID)))
		value = append(value, info.CircuitID...)
	}

	if info.HasRemoteID {
		value = append(value, SubOptRemoteID, byte(len(info.RemoteID)))
		value = append(value, info.RemoteID...)
	}

	if info.HasSubscriberID {
		value = append(value, SubOptSubscriberID, byte(len(info.SubscriberID)))
		value = append(value, info.SubscriberID...)
	}

	for _, sub := range info.Extra {
		value = append(value, sub.Code, byte(len(sub.Value)))
		value = append(value, sub.Value...)
	}

	return value
}

// Empty reports whether info carries no sub-options at all.
func (info RelayAgentInfo) Empty() (ok bool) {
	return !info.HasCircuitID && !info.HasRemoteID && !info.HasSubscriberID && len(info.Extra) == 0
}
