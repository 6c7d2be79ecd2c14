package dhcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// AuthTagLength is the truncated length of the client-authentication HMAC,
// per the original spec's §4.4 stage 6.
const AuthTagLength = 16

// clientAuthTag computes HMAC-SHA256(sharedKey, mac || unixMinute),
// truncated to AuthTagLength bytes.
//
// This is the one component of the pipeline built directly on the standard
// library rather than a third-party wrapper: it is a single hmac.New call,
// and no repo in the example corpus reaches for a dedicated HMAC/crypto
// dependency for anything this small.
func clientAuthTag(sharedKey []byte, mac MacAddress, unixMinute uint64) (tag [AuthTagLength]byte) {
	var minuteBytes [8]byte
	binary.BigEndian.PutUint64(minuteBytes[:], unixMinute)

	mac256 := hmac.New(sha256.New, sharedKey)
	mac256.Write(mac[:])
	mac256.Write(minuteBytes[:])
	sum := mac256.Sum(nil)

	copy(tag[:], sum[:AuthTagLength])

	return tag
}

// VerifyClientAuth reports whether tag is a valid authentication tag for
// mac at now, accepting the current and previous minute to tolerate clock
// skew, per the original spec's §4.4 stage 6.
func VerifyClientAuth(sharedKey []byte, mac MacAddress, tag []byte, now time.Time) (ok bool) {
	if len(tag) != AuthTagLength {
		return false
	}

	nowMinute := uint64(now.Unix() / 60)

	for _, minute := range [2]uint64{nowMinute, nowMinute - 1} {
		expected := clientAuthTag(sharedKey, mac, minute)
		if hmac.Equal(expected[:], tag) {
			return true
		}
	}

	return false
}
