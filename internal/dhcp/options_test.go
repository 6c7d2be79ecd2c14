package dhcp_test

import (
	"testing"

	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Validate(t *testing.T) {
	reg := dhcp.NewRegistry()

	t.Run("ok", func(t *testing.T) {
		err := reg.Validate(dhcp.OptSubnetMask, []byte{255, 255, 255, 0}, dhcp.RequestContext{})
		require.NoError(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		err := reg.Validate(dhcp.OptSubnetMask, []byte{255, 255, 255}, dhcp.RequestContext{})
		require.ErrorIs(t, err, dhcp.ErrOptionLength)
	})

	t.Run("unknown code is not an error", func(t *testing.T) {
		err := reg.Validate(200, []byte{1, 2, 3}, dhcp.RequestContext{})
		require.NoError(t, err)

		_, ok := reg.Spec(200)
		assert.False(t, ok)
	})
}

func TestRegistry_Resolve_inheritance(t *testing.T) {
	reg := dhcp.NewRegistry()

	global := dhcp.Layer{dhcp.OptDomainName: []byte("example.com")}
	subnet := dhcp.Layer{dhcp.OptDomainName: []byte("lab.example.com")}

	v, ok := reg.Resolve(dhcp.OptDomainName, global, subnet, nil, nil, dhcp.RequestContext{})
	require.True(t, ok)
	assert.Equal(t, "lab.example.com", string(v))

	v, ok = reg.Resolve(dhcp.OptDomainName, global, nil, nil, nil, dhcp.RequestContext{})
	require.True(t, ok)
	assert.Equal(t, "example.com", string(v))

	_, ok = reg.Resolve(dhcp.OptDomainName, nil, nil, nil, nil, dhcp.RequestContext{})
	assert.False(t, ok)
}

func TestRegistry_Resolve_hostWinsOverAll(t *testing.T) {
	reg := dhcp.NewRegistry()

	global := dhcp.Layer{dhcp.OptLeaseTime: {0, 0, 0x0e, 0x10}}
	subnet := dhcp.Layer{dhcp.OptLeaseTime: {0, 0, 0x1c, 0x20}}
	pool := dhcp.Layer{dhcp.OptLeaseTime: {0, 0, 0x2a, 0x30}}
	host := dhcp.Layer{dhcp.OptLeaseTime: {0, 1, 0x51, 0x80}}

	v, ok := reg.Resolve(dhcp.OptLeaseTime, global, subnet, pool, host, dhcp.RequestContext{})
	require.True(t, ok)
	assert.Equal(t, host[dhcp.OptLeaseTime], v)
}

func TestRegistry_ProcessClientRequest(t *testing.T) {
	reg := dhcp.NewRegistry()

	global := dhcp.Layer{
		dhcp.OptSubnetMask: {255, 255, 255, 0},
		dhcp.OptRouter:     {192, 168, 1, 1},
	}

	opts := reg.ProcessClientRequest(
		[]uint8{dhcp.OptSubnetMask, dhcp.OptRouter, dhcp.OptSubnetMask, 199},
		global, nil, nil, nil,
		dhcp.RequestContext{},
	)

	require.Len(t, opts, 2)
	assert.Equal(t, dhcp.OptSubnetMask, opts[0].Code)
	assert.Equal(t, dhcp.OptRouter, opts[1].Code)
}

func TestRegistry_vendorClassGuard(t *testing.T) {
	reg := dhcp.NewRegistry()
	reg.Register(dhcp.OptionSpec{
		Code:        240,
		Name:        "pxe-boot-profile",
		MinLength:   1,
		MaxLength:   64,
		VendorClass: "PXEClient",
		Default:     []byte("default-profile"),
	})

	v, ok := reg.Resolve(240, nil, nil, nil, nil, dhcp.RequestContext{VendorClass: "PXEClient"})
	require.True(t, ok)
	assert.Equal(t, "default-profile", string(v))

	_, ok = reg.Resolve(240, nil, nil, nil, nil, dhcp.RequestContext{VendorClass: "other"})
	assert.False(t, ok)
}
