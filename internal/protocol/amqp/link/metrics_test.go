package link

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordTransfer(types.RoleSender, false)
		m.recordSettled(types.RoleSender, types.Accepted)
		m.recordRecoveredOutcome(types.RoleSender, types.Accepted)
		m.recordReleased(types.RoleSender, 3)
		m.recordBenignRace(ReasonUnknownDelivery)
		m.recordMismatch()
		m.recordProtocolViolation(ReasonMalformedRange)
		m.recordCreditExhausted()
		m.recordRecovery(ActionResume)
		m.recordDetach(true)
	})

	// An endpoint without metrics runs the whole lifecycle.
	e, _ := newSender(t, 2)
	sendN(t, e, 2)
	_, err := e.Detach(DetachOptions{})
	require.NoError(t, err)
}

func TestMetricsRegisterOrReuse(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	a := NewMetrics(reg)
	b := NewMetrics(reg)

	a.recordCreditExhausted()
	b.recordCreditExhausted()
	assert.Equal(t, float64(2), testutil.ToFloat64(a.CreditExhaustedTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestEndpointMetrics(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())
	e, _ := newSender(t, 3, func(o *Options) { o.Metrics = m })
	sendN(t, e, 3)

	_, err := e.Send(msg("over"))
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CreditExhaustedTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TransfersTotal.WithLabelValues("sender", "unsettled")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.UnsettledGauge.WithLabelValues("sender")))

	_, err = e.Detach(DetachOptions{})
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.UnsettledGauge.WithLabelValues("sender")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DetachesTotal.WithLabelValues(ModeRetained)))
}
