package dhcp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Message-type label values used by MessagesByType.
const (
	metricTypeDiscover = "discover"
	metricTypeOffer    = "offer"
	metricTypeRequest  = "request"
	metricTypeAck      = "ack"
	metricTypeNak      = "nak"
	metricTypeDecline  = "decline"
	metricTypeRelease  = "release"
	metricTypeInform   = "inform"
)

// MessagesByType tracks inbound and outbound messages by their DHCP
// message type.
var MessagesByType = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "simpledhcpd_messages_total",
	Help: "Total number of DHCP messages processed, by message type and direction",
}, []string{"type", "direction"})

// SecurityEventsByKind tracks security pipeline verdicts by event kind and
// severity, mirroring the counters EventRing already keeps in-process.
var SecurityEventsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "simpledhcpd_security_events_total",
	Help: "Total number of security pipeline events, by kind and severity",
}, []string{"kind", "severity"})

// LeasesActive is a gauge of active leases by subnet. RegisterMetrics
// registers it, but nothing in this package sets it, so it reads zero.
var LeasesActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "simpledhcpd_leases_active",
	Help: "Number of active leases currently held, by subnet",
}, []string{"subnet"})

// PoolExhausted counts DISCOVER/REQUEST drops caused by an exhausted
// address pool, by subnet.
var PoolExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "simpledhcpd_pool_exhausted_total",
	Help: "Total number of allocation attempts that failed due to pool exhaustion, by subnet",
}, []string{"subnet"})

// LeaseConflicts counts conflicts resolved by the lease store, by the
// strategy applied.
var LeaseConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "simpledhcpd_lease_conflicts_total",
	Help: "Total number of lease conflicts resolved, by strategy",
}, []string{"strategy"})

// RegisterMetrics registers all DHCP metrics with registry.
func RegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(
		MessagesByType,
		SecurityEventsByKind,
		LeasesActive,
		PoolExhausted,
		LeaseConflicts,
	)
}

// messageTypeLabel maps a MessageType to its metric label, defaulting to
// its numeric string form for anything unrecognized.
func messageTypeLabel(t MessageType) (label string) {
	switch t {
	case MsgTypeDiscover:
		return metricTypeDiscover
	case MsgTypeOffer:
		return metricTypeOffer
	case MsgTypeRequest:
		return metricTypeRequest
	case MsgTypeAck:
		return metricTypeAck
	case MsgTypeNak:
		return metricTypeNak
	case MsgTypeDecline:
		return metricTypeDecline
	case MsgTypeRelease:
		return metricTypeRelease
	case MsgTypeInform:
		return metricTypeInform
	default:
		return t.String()
	}
}

// IncrementMessage increments MessagesByType for a message of type t moving
// in the given direction ("in" or "out").
func IncrementMessage(t MessageType, direction string) {
	MessagesByType.WithLabelValues(messageTypeLabel(t), direction).Inc()
}

// IncrementSecurityEvent increments SecurityEventsByKind for ev.
func IncrementSecurityEvent(ev SecurityEvent) {
	SecurityEventsByKind.WithLabelValues(string(ev.Kind), ev.Severity.String()).Inc()
}

// conflictStrategyLabel maps a ConflictStrategy to its metric label.
func conflictStrategyLabel(s ConflictStrategy) (label string) {
	switch s {
	case ConflictReplace:
		return "replace"
	case ConflictExtend:
		return "extend"
	case ConflictNegotiate:
		return "negotiate"
	default:
		return "reject"
	}
}

// IncrementLeaseConflict increments LeaseConflicts for the strategy applied
// to resolve a conflict.
func IncrementLeaseConflict(s ConflictStrategy) {
	LeaseConflicts.WithLabelValues(conflictStrategyLabel(s)).Inc()
}
