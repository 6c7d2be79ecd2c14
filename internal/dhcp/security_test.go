package dhcp_test

import (
	"testing"
	"time"

	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_macDenyWinsOverDefault(t *testing.T) {
	ring := dhcp.NewEventRing(16)
	p := dhcp.NewPipeline(dhcp.PipelineConfig{
		Sink: ring,
		MACRules: []dhcp.MACRule{
			{Pattern: "00:11:22:*", Action: dhcp.ActionDeny, Reason: "blocked lab segment"},
		},
		MACDefaultAction: dhcp.ActionAllow,
	})

	mac := dhcp.MacAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	verdict, ev := p.Admit(dhcp.AdmitRequest{
		Message:   &dhcp.Message{},
		SourceMAC: mac,
	}, time.Now())

	require.Equal(t, dhcp.Deny, verdict)
	assert.Equal(t, dhcp.EventMacFilterDeny, ev.Kind)
	assert.Equal(t, dhcp.SeverityMedium, ev.Severity)
	assert.EqualValues(t, 1, ring.Count(dhcp.EventMacFilterDeny, dhcp.SeverityMedium))
}

func TestPipeline_ruleOrderIndependenceForNonOverlapping(t *testing.T) {
	mac := dhcp.MacAddress{0xaa, 0, 0, 0, 0, 1}

	allowRule := dhcp.MACRule{Pattern: "bb:00:00:00:00:*", Action: dhcp.ActionAllow}
	denyOtherRule := dhcp.MACRule{Pattern: "cc:00:00:00:00:*", Action: dhcp.ActionDeny}

	p1 := dhcp.NewPipeline(dhcp.PipelineConfig{MACRules: []dhcp.MACRule{allowRule, denyOtherRule}})
	p2 := dhcp.NewPipeline(dhcp.PipelineConfig{MACRules: []dhcp.MACRule{denyOtherRule, allowRule}})

	v1, _ := p1.Admit(dhcp.AdmitRequest{Message: &dhcp.Message{}, SourceMAC: mac}, time.Now())
	v2, _ := p2.Admit(dhcp.AdmitRequest{Message: &dhcp.Message{}, SourceMAC: mac}, time.Now())

	assert.Equal(t, v1, v2)
	assert.Equal(t, dhcp.Admit, v1)
}

func TestPipeline_option82Missing(t *testing.T) {
	p := dhcp.NewPipeline(dhcp.PipelineConfig{
		Option82: dhcp.Option82Policy{Required: true},
	})

	msg := &dhcp.Message{Header: dhcp.Header{GatewayIP: dhcp.MustParseIP("10.0.0.1")}}
	verdict, ev := p.Admit(dhcp.AdmitRequest{Message: msg}, time.Now())

	require.Equal(t, dhcp.Deny, verdict)
	assert.Equal(t, dhcp.EventOption82Missing, ev.Kind)
	assert.Equal(t, dhcp.SeverityHigh, ev.Severity)
}

func TestPipeline_option82NotRequiredWhenNotRelayed(t *testing.T) {
	p := dhcp.NewPipeline(dhcp.PipelineConfig{
		Option82: dhcp.Option82Policy{Required: true},
	})

	msg := &dhcp.Message{}
	verdict, _ := p.Admit(dhcp.AdmitRequest{Message: msg}, time.Now())
	assert.Equal(t, dhcp.Admit, verdict)
}

func TestPipeline_authRequired(t *testing.T) {
	key := []byte("shared-secret")
	mac := dhcp.MacAddress{1, 2, 3, 4, 5, 6}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := dhcp.NewPipeline(dhcp.PipelineConfig{
		Auth: dhcp.AuthPolicy{Enabled: true, SharedKey: key},
	})

	msg := &dhcp.Message{}
	verdict, ev := p.Admit(dhcp.AdmitRequest{Message: msg, SourceMAC: mac}, now)
	require.Equal(t, dhcp.Deny, verdict)
	assert.Equal(t, dhcp.EventAuthFailed, ev.Kind)
}

func TestPipeline_ipFilterFirstMatchWins(t *testing.T) {
	p := dhcp.NewPipeline(dhcp.PipelineConfig{
		IPRules: []dhcp.IPRule{
			{Network: dhcp.MustParseIP("10.0.0.0"), Mask: dhcp.MaskFromPrefix(8), Action: dhcp.ActionDeny},
			{Network: dhcp.MustParseIP("10.1.0.0"), Mask: dhcp.MaskFromPrefix(16), Action: dhcp.ActionAllow},
		},
	})

	verdict, _ := p.Admit(dhcp.AdmitRequest{
		Message:  &dhcp.Message{},
		SourceIP: dhcp.MustParseIP("10.1.2.3"),
	}, time.Now())

	assert.Equal(t, dhcp.Deny, verdict)
}
