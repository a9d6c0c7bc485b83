package link

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// ============================================================================
// Prometheus Metrics for Link Delivery Tracking
// ============================================================================

// Label values.
const (
	LabelRole    = "role"
	LabelOutcome = "outcome"
	LabelReason  = "reason"
	LabelAction  = "action"
	LabelMode    = "mode"
	LabelSettled = "settled"

	ReasonUnknownDelivery = "unknown_delivery"
	ReasonAlreadySettled  = "already_settled"
	ReasonAfterDetach     = "after_detach"
	ReasonCreditOverrun   = "credit_overrun"

	ReasonMalformedRange   = "malformed_range"
	ReasonDuplicateID      = "duplicate_delivery"
	ReasonRoleMismatch     = "role_mismatch"
	ReasonInterleavedFrame = "interleaved_frame"

	ModeRetained = "retained"
	ModeClosed   = "closed"
)

// Metrics provides Prometheus metrics for link endpoints.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// TransfersTotal counts transfers sent or received, by role and whether
	// they were settled on arrival.
	TransfersTotal *prometheus.CounterVec

	// SettlementsTotal counts deliveries removed from the unsettled table,
	// by role and final outcome.
	SettlementsTotal *prometheus.CounterVec

	// BenignRacesTotal counts dispositions absorbed as no-ops.
	BenignRacesTotal *prometheus.CounterVec

	// OutcomeMismatchTotal counts conflicting terminal outcomes.
	OutcomeMismatchTotal prometheus.Counter

	// ProtocolViolationsTotal counts fatal conditions, by reason.
	ProtocolViolationsTotal *prometheus.CounterVec

	// CreditExhaustedTotal counts sends refused for lack of credit.
	CreditExhaustedTotal prometheus.Counter

	// UnsettledGauge tracks live unsettled deliveries, by role.
	UnsettledGauge *prometheus.GaugeVec

	// RecoveryDecisionsTotal counts reattach reconciliation decisions.
	RecoveryDecisionsTotal *prometheus.CounterVec

	// DetachesTotal counts detaches, by whether state was retained.
	DetachesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers link metrics with the given Prometheus
// registerer. If reg is nil, metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "transfers_total",
			Help:      "Total number of transfers sent or received",
		}, []string{LabelRole, LabelSettled}),
		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "settlements_total",
			Help:      "Total number of deliveries settled, by outcome",
		}, []string{LabelRole, LabelOutcome}),
		BenignRacesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "benign_races_total",
			Help:      "Total number of dispositions absorbed as no-ops",
		}, []string{LabelReason}),
		OutcomeMismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "outcome_mismatch_total",
			Help:      "Total number of conflicting terminal outcomes ignored",
		}),
		ProtocolViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "protocol_violations_total",
			Help:      "Total number of protocol violations detected",
		}, []string{LabelReason}),
		CreditExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "credit_exhausted_total",
			Help:      "Total number of sends refused for lack of link credit",
		}),
		UnsettledGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "unsettled_deliveries",
			Help:      "Current number of unsettled deliveries",
		}, []string{LabelRole}),
		RecoveryDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "recovery_decisions_total",
			Help:      "Total number of reattach reconciliation decisions",
		}, []string{LabelAction}),
		DetachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittomq",
			Subsystem: "link",
			Name:      "detaches_total",
			Help:      "Total number of link detaches",
		}, []string{LabelMode}),
	}

	if reg != nil {
		m.TransfersTotal = registerOrReuse(reg, m.TransfersTotal).(*prometheus.CounterVec)
		m.SettlementsTotal = registerOrReuse(reg, m.SettlementsTotal).(*prometheus.CounterVec)
		m.BenignRacesTotal = registerOrReuse(reg, m.BenignRacesTotal).(*prometheus.CounterVec)
		m.OutcomeMismatchTotal = registerOrReuse(reg, m.OutcomeMismatchTotal).(prometheus.Counter)
		m.ProtocolViolationsTotal = registerOrReuse(reg, m.ProtocolViolationsTotal).(*prometheus.CounterVec)
		m.CreditExhaustedTotal = registerOrReuse(reg, m.CreditExhaustedTotal).(prometheus.Counter)
		m.UnsettledGauge = registerOrReuse(reg, m.UnsettledGauge).(*prometheus.GaugeVec)
		m.RecoveryDecisionsTotal = registerOrReuse(reg, m.RecoveryDecisionsTotal).(*prometheus.CounterVec)
		m.DetachesTotal = registerOrReuse(reg, m.DetachesTotal).(*prometheus.CounterVec)
	}

	return m
}

// registerOrReuse registers a collector with the given registerer.
// If the collector is already registered, it returns the existing one so
// repeated construction keeps exporting through the same series.
// Panics on non-AlreadyRegisteredError failures.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func settledLabel(settled bool) string {
	if settled {
		return "presettled"
	}
	return "unsettled"
}

func (m *Metrics) recordTransfer(role types.Role, settled bool) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(role.String(), settledLabel(settled)).Inc()
	if !settled {
		m.UnsettledGauge.WithLabelValues(role.String()).Inc()
	}
}

func (m *Metrics) recordSettled(role types.Role, outcome types.DeliveryState) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(role.String(), outcome.Kind.String()).Inc()
	m.UnsettledGauge.WithLabelValues(role.String()).Dec()
}

// recordRecoveredOutcome counts a settlement of a delivery that was never
// live on this endpoint.
func (m *Metrics) recordRecoveredOutcome(role types.Role, outcome types.DeliveryState) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(role.String(), outcome.Kind.String()).Inc()
}

// recordReleased adjusts the gauge for entries leaving the table without a
// settlement, such as those moved into a recovery record.
func (m *Metrics) recordReleased(role types.Role, n int) {
	if m == nil || n == 0 {
		return
	}
	m.UnsettledGauge.WithLabelValues(role.String()).Sub(float64(n))
}

func (m *Metrics) recordBenignRace(reason string) {
	if m == nil {
		return
	}
	m.BenignRacesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordMismatch() {
	if m == nil {
		return
	}
	m.OutcomeMismatchTotal.Inc()
}

func (m *Metrics) recordProtocolViolation(reason string) {
	if m == nil {
		return
	}
	m.ProtocolViolationsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordCreditExhausted() {
	if m == nil {
		return
	}
	m.CreditExhaustedTotal.Inc()
}

func (m *Metrics) recordRecovery(action Action) {
	if m == nil {
		return
	}
	m.RecoveryDecisionsTotal.WithLabelValues(action.String()).Inc()
}

func (m *Metrics) recordDetach(closed bool) {
	if m == nil {
		return
	}
	mode := ModeRetained
	if closed {
		mode = ModeClosed
	}
	m.DetachesTotal.WithLabelValues(mode).Inc()
}
