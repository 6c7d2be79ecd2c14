// Package dhcp implements the wire codec, options registry, lease store,
// security pipeline, and state machine of an IPv4 DHCP server core.
package dhcp

import (
	"encoding/binary"
	"fmt"
)

// DefaultMaxMessageSize is the datagram size assumed when a client does not
// send option 57 and the caller does not otherwise override it.
const DefaultMaxMessageSize = 576

// Parse decodes buf into a Message. It implements the lenient rules the
// original spec requires rather than strict RFC 2131 conformance:
//
//   - buf shorter than HeaderSize is rejected with ErrTooShort.
//   - a missing or incorrect magic cookie is tolerated: the header is parsed
//     and the options list is left empty, rather than erroring.
//   - a truncated option (length byte claims more data than remains) stops
//     option parsing immediately and returns the options already parsed,
//     without error.
//   - duplicate option codes are kept in Options in arrival order; callers
//     use Message.GetOption, which resolves duplicates last-wins.
//   - PAD (0) bytes are skipped individually; END (255) stops parsing.
//
// Parse never fails because option 53 is absent or unrecognized; that
// validation belongs to Validate, which is invoked explicitly by callers
// that require a usable client message (e.g. the server loop).
func Parse(buf []byte) (msg *Message, err error) {
	if len(buf) < HeaderSize {
		return nil, ErrTooShort
	}

	h := Header{}
	h.Op = Opcode(buf[0])
	h.HType = buf[1]
	h.HLen = buf[2]
	h.Hops = buf[3]
	h.Xid = binary.BigEndian.Uint32(buf[4:8])
	h.Secs = binary.BigEndian.Uint16(buf[8:10])
	h.Flags = binary.BigEndian.Uint16(buf[10:12])
	h.ClientIP = ipFromBytes(buf[12:16])
	h.YourIP = ipFromBytes(buf[16:20])
	h.ServerIP = ipFromBytes(buf[20:24])
	h.GatewayIP = ipFromBytes(buf[24:28])

	hlen := int(h.HLen)
	if hlen > 16 {
		hlen = 16
	}
	copy(h.ClientHWAddr[:], buf[28:28+min(hlen, 6)])
	copy(h.ServerName[:], buf[44:108])
	copy(h.BootFile[:], buf[108:236])

	msg = &Message{Header: h}

	rest := buf[HeaderSize:]
	if len(rest) < 4 || !equalCookie(rest[:4]) {
		return msg, nil
	}

	msg.Options = parseOptions(rest[4:])

	if v, ok := msg.GetOption(OptMessageType); ok && len(v) == 1 {
		msg.Type = MessageType(v[0])
	}

	return msg, nil
}

func equalCookie(b []byte) (ok bool) {
	return b[0] == MagicCookie[0] && b[1] == MagicCookie[1] &&
		b[2] == MagicCookie[2] && b[3] == MagicCookie[3]
}

// parseOptions decodes a TLV options stream, stopping cleanly (without
// error) at END, at the end of the buffer, or at the first truncated TLV.
func parseOptions(buf []byte) (opts []DHCPOption) {
	i := 0
	for i < len(buf) {
		code := buf[i]
		if code == OptPad {
			i++

			continue
		}

		if code == OptEnd {
			break
		}

		if i+1 >= len(buf) {
			break
		}

		length := int(buf[i+1])
		start := i + 2
		end := start + length
		if end > len(buf) {
			break
		}

		value := make([]byte, length)
		copy(value, buf[start:end])
		opts = append(opts, DHCPOption{Code: code, Value: value})

		i = end
	}

	return opts
}

// PeekType reports the message type of buf without fully validating it. It
// is cheap enough to call before deciding whether a datagram is worth full
// parsing.
func PeekType(buf []byte) (t MessageType, err error) {
	msg, err := Parse(buf)
	if err != nil {
		return MsgTypeNone, err
	}

	return msg.Type, nil
}

// Validate checks that msg carries a recognized message type. It is the
// boundary between the lenient Parse and the rest of the pipeline, which
// requires a usable message type to dispatch on.
func Validate(msg *Message) (err error) {
	if msg.Type == MsgTypeNone {
		return ErrMissingMessageType
	}

	if !msg.Type.Valid() {
		return fmt.Errorf("type %d: %w", uint8(msg.Type), ErrUnknownMessageType)
	}

	return nil
}

// Serialize encodes msg into wire format. maxSize is the maximum allowed
// datagram size; pass 0 to use DefaultMaxMessageSize, or the value learned
// from the client's option 57. If the fixed header, magic cookie, and
// options (plus a trailing END, added if not already present) would exceed
// maxSize, Serialize returns ErrMessageTooLarge.
func Serialize(msg *Message, maxSize int) (buf []byte, err error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	buf = make([]byte, HeaderSize, HeaderSize+4+64)

	buf[0] = byte(msg.Header.Op)
	buf[1] = msg.Header.HType
	buf[2] = msg.Header.HLen
	buf[3] = msg.Header.Hops
	binary.BigEndian.PutUint32(buf[4:8], msg.Header.Xid)
	binary.BigEndian.PutUint16(buf[8:10], msg.Header.Secs)
	binary.BigEndian.PutUint16(buf[10:12], msg.Header.Flags)
	ciaddr := msg.Header.ClientIP.Bytes()
	copy(buf[12:16], ciaddr[:])
	yiaddr := msg.Header.YourIP.Bytes()
	copy(buf[16:20], yiaddr[:])
	siaddr := msg.Header.ServerIP.Bytes()
	copy(buf[20:24], siaddr[:])
	giaddr := msg.Header.GatewayIP.Bytes()
	copy(buf[24:28], giaddr[:])
	copy(buf[28:44], msg.Header.ClientHWAddr[:])
	copy(buf[44:108], msg.Header.ServerName[:])
	copy(buf[108:236], msg.Header.BootFile[:])

	buf = append(buf, MagicCookie[:]...)

	hasEnd := false
	for _, opt := range msg.Options {
		buf = append(buf, opt.Code)
		if opt.Code == OptPad {
			continue
		}

		if opt.Code == OptEnd {
			hasEnd = true

			continue
		}

		buf = append(buf, byte(len(opt.Value)))
		buf = append(buf, opt.Value...)
	}

	if !hasEnd {
		buf = append(buf, OptEnd)
	}

	if len(buf) > maxSize {
		return nil, fmt.Errorf("%d bytes exceeds %d: %w", len(buf), maxSize, ErrMessageTooLarge)
	}

	return buf, nil
}
