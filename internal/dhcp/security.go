package dhcp

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Verdict is the outcome of a Pipeline.Admit call.
type Verdict uint8

// Verdicts.
const (
	Admit Verdict = iota
	Deny
)

// FilterAction is the action an individual MAC or IP filter rule takes
// when it matches.
type FilterAction uint8

// Filter actions.
const (
	ActionAllow FilterAction = iota
	ActionDeny
)

// MACRule is one entry in the ordered MAC filter list, per the original
// spec's §4.4 stage 2. Pattern may be an exact MAC string, a wildcard using
// "*" byte groups (e.g. "00:11:22:*"), or, if Regex is true, an anchored
// regular expression.
type MACRule struct {
	Pattern string
	Reason  string
	Action  FilterAction
	Regex   bool

	compiled *regexp.Regexp
}

// matches reports whether mac satisfies the rule's pattern.
func (r *MACRule) matches(mac MacAddress) (ok bool) {
	s := mac.String()

	if r.Regex {
		if r.compiled == nil {
			r.compiled = regexp.MustCompile("^(?:" + r.Pattern + ")$")
		}

		return r.compiled.MatchString(s)
	}

	if !strings.Contains(r.Pattern, "*") {
		return strings.EqualFold(r.Pattern, s)
	}

	return matchWildcard(strings.ToLower(r.Pattern), s)
}

// matchWildcard implements the "*" byte-group wildcard the original spec's
// §4.4 names: a "*" group matches any one byte group, and a trailing "*"
// also matches every remaining group, e.g. "00:11:22:*" matching any MAC
// beginning 00:11:22:.
func matchWildcard(pattern, s string) (ok bool) {
	pGroups := strings.Split(pattern, ":")
	sGroups := strings.Split(s, ":")

	for i, g := range pGroups {
		if g == "*" && i == len(pGroups)-1 {
			return true
		}

		if i >= len(sGroups) || (g != "*" && g != sGroups[i]) {
			return false
		}
	}

	return len(pGroups) == len(sGroups)
}

// IPRule is one entry in the ordered IP filter list, per the original
// spec's §4.4 stage 3: matches when (candidate & Mask) == (Network & Mask).
type IPRule struct {
	Network IPAddress
	Mask    IPAddress
	Action  FilterAction
}

// matches reports whether ip satisfies the rule.
func (r IPRule) matches(ip IPAddress) (ok bool) {
	return ip&r.Mask == r.Network&r.Mask
}

// Option82Policy configures Relay Agent Information validation, per the
// original spec's §4.4 stage 5.
type Option82Policy struct {
	// TrustedCircuitIDs, if non-empty, is the set of circuit-ids accepted
	// from a relay; an empty set means any circuit-id is trusted as long
	// as one is present.
	TrustedCircuitIDs map[string]bool

	Required bool
}

// AuthPolicy configures client HMAC authentication, per the original
// spec's §4.4 stage 6.
type AuthPolicy struct {
	SharedKey []byte
	Enabled   bool
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Sink EventSink

	TrustedInterfaces map[string]bool
	SnoopingBindings  map[MacAddress]snoopBinding

	MACRules         []MACRule
	IPRules          []IPRule
	MACDefaultAction FilterAction

	RateLimiters map[string]*RateLimiter

	Option82 Option82Policy
	Auth     AuthPolicy

	SnoopingEnabled bool
}

type snoopBinding struct {
	ip        IPAddress
	iface     string
}

// Pipeline implements the admission checks of the original spec's §4.4,
// applied before state-machine dispatch.
type Pipeline struct {
	mu   sync.Mutex
	conf PipelineConfig
}

// NewPipeline returns a Pipeline configured by conf.
func NewPipeline(conf PipelineConfig) (p *Pipeline) {
	if conf.Sink == nil {
		conf.Sink = NoopEventSink
	}

	return &Pipeline{conf: conf}
}

// AdmitRequest carries the source metadata a single Admit call needs,
// alongside the parsed Message.
type AdmitRequest struct {
	Message   *Message
	Interface string
	SourceIP  IPAddress
	SourceMAC MacAddress
}

// Admit runs the full admission pipeline, short-circuiting on the first
// stage that denies, per the original spec's §4.4 "Pipeline stages, in
// order."
func (p *Pipeline) Admit(req AdmitRequest, now time.Time) (verdict Verdict, event SecurityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ev, denied := p.checkSnooping(req, now); denied {
		return v, ev
	}

	if v, ev, denied := p.checkMACFilter(req, now); denied {
		return v, ev
	}

	if v, ev, denied := p.checkIPFilter(req, now); denied {
		return v, ev
	}

	if v, ev, denied := p.checkRateLimit(req, now); denied {
		return v, ev
	}

	if v, ev, denied := p.checkOption82(req, now); denied {
		return v, ev
	}

	if v, ev, denied := p.checkAuth(req, now); denied {
		return v, ev
	}

	return Admit, SecurityEvent{}
}

func (p *Pipeline) deny(now time.Time, kind EventKind, severity Severity, req AdmitRequest, desc string) (v Verdict, ev SecurityEvent, denied bool) {
	ev = SecurityEvent{
		Timestamp:   now,
		Kind:        kind,
		Severity:    severity,
		Interface:   req.Interface,
		Description: desc,
		MAC:         req.SourceMAC,
		HasMAC:      !req.SourceMAC.IsZero(),
		IP:          req.SourceIP,
		HasIP:       !req.SourceIP.IsZero(),
	}
	p.conf.Sink.Notify(ev)

	return Deny, ev, true
}

func (p *Pipeline) checkSnooping(req AdmitRequest, now time.Time) (v Verdict, ev SecurityEvent, denied bool) {
	if !p.conf.SnoopingEnabled || p.conf.TrustedInterfaces[req.Interface] {
		return Admit, SecurityEvent{}, false
	}

	binding, ok := p.conf.SnoopingBindings[req.SourceMAC]
	if ok && binding.ip == req.SourceIP && binding.iface == req.Interface {
		return Admit, SecurityEvent{}, false
	}

	return p.deny(now, EventUnauthorizedDhcpServer, SeverityHigh, req, "untrusted interface without a snooping binding")
}

func (p *Pipeline) checkMACFilter(req AdmitRequest, now time.Time) (v Verdict, ev SecurityEvent, denied bool) {
	for i := range p.conf.MACRules {
		rule := &p.conf.MACRules[i]
		if !rule.matches(req.SourceMAC) {
			continue
		}

		if rule.Action == ActionDeny {
			return p.deny(now, EventMacFilterDeny, SeverityMedium, req, rule.Reason)
		}

		return Admit, SecurityEvent{}, false
	}

	if p.conf.MACDefaultAction == ActionDeny {
		return p.deny(now, EventMacFilterDeny, SeverityMedium, req, "default deny policy")
	}

	return Admit, SecurityEvent{}, false
}

func (p *Pipeline) checkIPFilter(req AdmitRequest, now time.Time) (v Verdict, ev SecurityEvent, denied bool) {
	for _, rule := range p.conf.IPRules {
		if !rule.matches(req.SourceIP) {
			continue
		}

		if rule.Action == ActionDeny {
			return p.deny(now, EventIPFilterDeny, SeverityMedium, req, "ip filter rule")
		}

		return Admit, SecurityEvent{}, false
	}

	return Admit, SecurityEvent{}, false
}

// rateLimitIdentifier resolves the identifier value a RateLimiter
// configured for kind ("mac", "ip", or "relay") keys its sliding window by,
// per the original spec's §4.4 stage 4 "Per-identifier (MAC, IP, or
// relay-agent) sliding window".
func rateLimitIdentifier(kind string, req AdmitRequest) (id string, ok bool) {
	switch kind {
	case "ip":
		return req.SourceIP.String(), true
	case "relay":
		if req.Message == nil {
			return "", false
		}

		raw, hasOpt := req.Message.GetOption(OptRelayAgentInfo)
		if !hasOpt {
			return "", false
		}

		info := ParseOption82(raw)
		if !info.HasCircuitID {
			return "", false
		}

		return string(info.CircuitID), true
	default:
		return req.SourceMAC.String(), true
	}
}

func (p *Pipeline) checkRateLimit(req AdmitRequest, now time.Time) (v Verdict, ev SecurityEvent, denied bool) {
	for kind, rl := range p.conf.RateLimiters {
		id, ok := rateLimitIdentifier(kind, req)
		if !ok {
			continue
		}

		admitted, entered := rl.Allow(id, now)
		if !admitted {
			if entered {
				return p.deny(now, EventRateLimited, SeverityMedium, req, "rate limit exceeded")
			}

			// Already in the block window: deny silently, without a
			// second event, per "further requests ... denied without
			// emitting further events".
			return Deny, SecurityEvent{}, true
		}
	}

	return Admit, SecurityEvent{}, false
}

func (p *Pipeline) checkOption82(req AdmitRequest, now time.Time) (v Verdict, ev SecurityEvent, denied bool) {
	relayed := req.Message != nil && !req.Message.Header.GatewayIP.IsZero()
	if !p.conf.Option82.Required || !relayed {
		return Admit, SecurityEvent{}, false
	}

	raw, ok := req.Message.GetOption(OptRelayAgentInfo)
	if !ok {
		return p.deny(now, EventOption82Missing, SeverityHigh, req, "relay agent information absent")
	}

	info := ParseOption82(raw)
	if !info.HasCircuitID || !info.HasRemoteID {
		return p.deny(now, EventOption82Missing, SeverityHigh, req, "circuit-id or remote-id absent")
	}

	trusted := p.conf.Option82.TrustedCircuitIDs
	if len(trusted) > 0 && !trusted[string(info.CircuitID)] {
		return p.deny(now, EventOption82Untrusted, SeverityHigh, req, "circuit-id not in trusted relay-agent table")
	}

	return Admit, SecurityEvent{}, false
}

func (p *Pipeline) checkAuth(req AdmitRequest, now time.Time) (v Verdict, ev SecurityEvent, denied bool) {
	if !p.conf.Auth.Enabled {
		return Admit, SecurityEvent{}, false
	}

	tag, ok := req.Message.GetOption(OptClientAuth)
	if !ok || !VerifyClientAuth(p.conf.Auth.SharedKey, req.SourceMAC, tag, now) {
		return p.deny(now, EventAuthFailed, SeverityHigh, req, "client auth tag missing or invalid")
	}

	return Admit, SecurityEvent{}, false
}
