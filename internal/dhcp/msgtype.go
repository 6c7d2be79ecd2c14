package dhcp

import "github.com/AdguardTeam/golibs/errors"

// MessageType is the DHCP message type, carried in option 53.
type MessageType uint8

// Message types, see RFC 2131 section 3 and RFC 2132 section 9.6.
const (
	MsgTypeNone MessageType = 0

	MsgTypeDiscover MessageType = 1
	MsgTypeOffer    MessageType = 2
	MsgTypeRequest  MessageType = 3
	MsgTypeDecline  MessageType = 4
	MsgTypeAck      MessageType = 5
	MsgTypeNak      MessageType = 6
	MsgTypeRelease  MessageType = 7
	MsgTypeInform   MessageType = 8
)

// String implements the fmt.Stringer interface for MessageType.
func (t MessageType) String() (s string) {
	switch t {
	case MsgTypeDiscover:
		return "DISCOVER"
	case MsgTypeOffer:
		return "OFFER"
	case MsgTypeRequest:
		return "REQUEST"
	case MsgTypeDecline:
		return "DECLINE"
	case MsgTypeAck:
		return "ACK"
	case MsgTypeNak:
		return "NAK"
	case MsgTypeRelease:
		return "RELEASE"
	case MsgTypeInform:
		return "INFORM"
	default:
		return "NONE"
	}
}

// Valid reports whether t is one of the eight known message types.
func (t MessageType) Valid() (ok bool) {
	return t >= MsgTypeDiscover && t <= MsgTypeInform
}

// Parse error taxonomy, see the original spec's §4.1 and §7.
const (
	// ErrTooShort is returned when a buffer is shorter than HeaderSize.
	ErrTooShort errors.Error = "dhcp: message too short"

	// ErrTruncatedOption names a TLV whose length runs past the buffer.
	// Parse and ParseOption82 stop at such a TLV without error, so neither
	// returns it.
	ErrTruncatedOption errors.Error = "dhcp: truncated option"

	// ErrMissingMessageType is returned when option 53 is absent from an
	// otherwise well-formed message.
	ErrMissingMessageType errors.Error = "dhcp: missing message type option"

	// ErrUnknownMessageType is returned when option 53 carries a value
	// outside [1,8].
	ErrUnknownMessageType errors.Error = "dhcp: unknown message type"

	// ErrMessageTooLarge is returned by Serialize when the encoded message
	// would exceed the applicable maximum size.
	ErrMessageTooLarge errors.Error = "dhcp: message too large"
)
