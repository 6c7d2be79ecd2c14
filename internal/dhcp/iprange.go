package dhcp

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrInvalidRange is returned by NewIPRange when start > end.
const ErrInvalidRange errors.Error = "dhcp: invalid ip range"

// IPRange is an inclusive range of IPv4 addresses, [Start, End].
type IPRange struct {
	Start IPAddress
	End   IPAddress
}

// NewIPRange returns a new IPRange. start must not exceed end.
func NewIPRange(start, end IPAddress) (r IPRange, err error) {
	if start > end {
		return IPRange{}, fmt.Errorf("start %s is greater than end %s: %w", start, end, ErrInvalidRange)
	}

	return IPRange{Start: start, End: end}, nil
}

// Contains reports whether ip lies within r.
func (r IPRange) Contains(ip IPAddress) (ok bool) {
	return ip >= r.Start && ip <= r.End
}

// Len returns the number of addresses in r.
func (r IPRange) Len() (n uint64) {
	return uint64(r.End) - uint64(r.Start) + 1
}

// IPPredicate reports whether ip satisfies some condition, for use with
// IPRange.Find.
type IPPredicate func(ip IPAddress) (ok bool)

// Find returns the first address in r for which p returns true, scanning
// from Start to End. It returns ok=false if no address satisfies p — the
// allocation algorithm's §4.3 step 5, PoolExhausted.
func (r IPRange) Find(p IPPredicate) (ip IPAddress, ok bool) {
	for ip = r.Start; ip <= r.End; ip++ {
		if p(ip) {
			return ip, true
		}

		if ip == r.End {
			break
		}
	}

	return 0, false
}
