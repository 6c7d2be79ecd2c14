package dhcp

import (
	"fmt"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// MacAddress is a 6-byte Ethernet hardware address.
type MacAddress [6]byte

// ErrZeroMAC is returned when a zero MAC address is used where an identified
// client is required.
const ErrZeroMAC errors.Error = "mac address is zero"

// ParseMAC parses s, which must be a colon- or hyphen-separated hex MAC
// address, into a MacAddress.
func ParseMAC(s string) (mac MacAddress, err error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MacAddress{}, fmt.Errorf("parsing mac: %w", err)
	}

	return MacFromHardwareAddr(hw)
}

// MacFromHardwareAddr converts a net.HardwareAddr of EUI-48 length into a
// MacAddress.
func MacFromHardwareAddr(hw net.HardwareAddr) (mac MacAddress, err error) {
	if len(hw) != 6 {
		return MacAddress{}, fmt.Errorf("mac address %q: want 6 bytes, got %d", hw, len(hw))
	}

	copy(mac[:], hw)

	return mac, nil
}

// HardwareAddr returns mac as a net.HardwareAddr.
func (mac MacAddress) HardwareAddr() (hw net.HardwareAddr) {
	hw = make(net.HardwareAddr, 6)
	copy(hw, mac[:])

	return hw
}

// IsZero returns true if mac is the all-zero "unspecified" address.
func (mac MacAddress) IsZero() (ok bool) {
	return mac == MacAddress{}
}

// String implements the fmt.Stringer interface for MacAddress.  It renders
// mac as lowercase colon-separated hex, e.g. "aa:bb:cc:dd:ee:ff".
func (mac MacAddress) String() (s string) {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// Validate returns an error if mac is the zero address or otherwise fails
// netutil.ValidateMAC, the same check the teacher's legacy server applies to
// every incoming ClientHWAddr and static-lease HWAddr before accepting it.
func (mac MacAddress) Validate() (err error) {
	if mac.IsZero() {
		return ErrZeroMAC
	}

	return netutil.ValidateMAC(mac.HardwareAddr())
}
