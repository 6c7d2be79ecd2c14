package dhcp

import (
	"fmt"
	"slices"

	"github.com/AdguardTeam/golibs/errors"
)

// Registry errors, see the original spec's §4.2 validate contract.
const (
	ErrOptionLength  errors.Error = "dhcp: option value has invalid length"
	ErrOptionFormat  errors.Error = "dhcp: option value has invalid format"
	ErrOptionRange   errors.Error = "dhcp: option value is out of range"
	ErrOptionUnknown errors.Error = "dhcp: unknown option code"
)

// OptionSpec is the per-code metadata the registry holds for a single
// option code.
type OptionSpec struct {
	Name      string
	Default   []byte
	MinLength int
	MaxLength int
	Code      uint8
	Required  bool

	// VendorClass, if non-empty, restricts this spec's defaults and
	// inheritance rules to contexts whose vendor class matches.
	VendorClass string
}

// RequestContext carries the information Rules guard on when resolving
// inherited option values.
type RequestContext struct {
	VendorClass string
	UserClass   string
}

// matches reports whether spec applies to ctx, given its vendor-class
// guard, if any.
func (spec OptionSpec) matches(ctx RequestContext) (ok bool) {
	return spec.VendorClass == "" || spec.VendorClass == ctx.VendorClass
}

// Layer is one level of the global→subnet→pool→host inheritance chain. A
// nil map at a given layer means that layer contributes nothing.
type Layer map[uint8][]byte

// Registry holds per-code option metadata and resolves values through the
// host > pool > subnet > global inheritance order the original spec
// mandates.
type Registry struct {
	specs map[uint8]OptionSpec
}

// NewRegistry returns a Registry seeded with the well-known options the
// state machine and option-82 layer rely on directly.
func NewRegistry() (reg *Registry) {
	reg = &Registry{specs: make(map[uint8]OptionSpec)}

	for _, spec := range defaultSpecs {
		reg.specs[spec.Code] = spec
	}

	return reg
}

var defaultSpecs = []OptionSpec{
	{Code: OptSubnetMask, Name: "subnet-mask", MinLength: 4, MaxLength: 4},
	{Code: OptRouter, Name: "router", MinLength: 4, MaxLength: 255},
	{Code: OptDNSServers, Name: "domain-name-servers", MinLength: 4, MaxLength: 255},
	{Code: OptHostname, Name: "host-name", MinLength: 1, MaxLength: 255},
	{Code: OptDomainName, Name: "domain-name", MinLength: 1, MaxLength: 255},
	{Code: OptRequestedIP, Name: "requested-ip-address", MinLength: 4, MaxLength: 4},
	{Code: OptLeaseTime, Name: "ip-address-lease-time", MinLength: 4, MaxLength: 4},
	{Code: OptMessageType, Name: "dhcp-message-type", MinLength: 1, MaxLength: 1, Required: true},
	{Code: OptServerID, Name: "server-identifier", MinLength: 4, MaxLength: 4},
	{Code: OptParameterList, Name: "parameter-request-list", MinLength: 1, MaxLength: 255},
	{Code: OptMessage, Name: "message", MinLength: 1, MaxLength: 255},
	{Code: OptMaxMessageSize, Name: "maximum-dhcp-message-size", MinLength: 2, MaxLength: 2},
	{Code: OptRenewalT1, Name: "renewal-time-value", MinLength: 4, MaxLength: 4},
	{Code: OptRebindingT2, Name: "rebinding-time-value", MinLength: 4, MaxLength: 4},
	{Code: OptVendorClass, Name: "vendor-class-identifier", MinLength: 1, MaxLength: 255},
	{Code: OptClientID, Name: "client-identifier", MinLength: 2, MaxLength: 255},
	{Code: OptRelayAgentInfo, Name: "relay-agent-information", MinLength: 1, MaxLength: 255},
}

// Register adds or replaces the metadata for spec.Code.
func (reg *Registry) Register(spec OptionSpec) {
	reg.specs[spec.Code] = spec
}

// Spec returns the metadata registered for code, if any.
func (reg *Registry) Spec(code uint8) (spec OptionSpec, ok bool) {
	spec, ok = reg.specs[code]

	return spec, ok
}

// Validate checks value against the metadata registered for code. An
// unregistered code is not an error — the registry only constrains codes
// it knows about — and Validate never returns ErrOptionUnknown. A caller
// that requires a known option can check Spec's ok return.
func (reg *Registry) Validate(code uint8, value []byte, _ RequestContext) (err error) {
	spec, ok := reg.specs[code]
	if !ok {
		return nil
	}

	n := len(value)
	if spec.MinLength > 0 && n < spec.MinLength || spec.MaxLength > 0 && n > spec.MaxLength {
		return fmt.Errorf("option %d (%s): length %d not in [%d,%d]: %w",
			code, spec.Name, n, spec.MinLength, spec.MaxLength, ErrOptionLength)
	}

	return nil
}

// Resolve returns the effective bytes for code after applying the
// host > pool > subnet > global inheritance order. The first non-nil value
// found at a layer (scanned in that order) wins; layers guarded by a
// vendor-class spec that doesn't match ctx are skipped.
func (reg *Registry) Resolve(code uint8, global, subnet, pool, host Layer, ctx RequestContext) (value []byte, ok bool) {
	spec := reg.specs[code]

	for _, layer := range []Layer{host, pool, subnet, global} {
		if layer == nil {
			continue
		}

		v, present := layer[code]
		if !present {
			continue
		}

		if spec.Code == code && !spec.matches(ctx) {
			continue
		}

		return v, true
	}

	if spec.Code == code && spec.Default != nil && spec.matches(ctx) {
		return spec.Default, true
	}

	return nil, false
}

// ProcessClientRequest resolves every code in requestedCodes against the
// given layers, returning the options the server will include in an
// OFFER/ACK. Codes the registry can't resolve are silently omitted, per the
// original spec's §4.5.2 "plus any requested ... that the registry can
// resolve".
func (reg *Registry) ProcessClientRequest(
	requestedCodes []uint8,
	global, subnet, pool, host Layer,
	ctx RequestContext,
) (opts []DHCPOption) {
	seen := make(map[uint8]bool, len(requestedCodes))

	for _, code := range requestedCodes {
		if seen[code] {
			continue
		}
		seen[code] = true

		v, ok := reg.Resolve(code, global, subnet, pool, host, ctx)
		if !ok {
			continue
		}

		opts = append(opts, DHCPOption{Code: code, Value: slices.Clone(v)})
	}

	return opts
}
