package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)

	m.Transition("pending", "routing")
	m.Transition("pending", "routing")
	m.Conflict("routing", "building")
	m.StepError("building", "fatal")
	m.VenueSelected("meteora")
	m.ObserveStep("pending", time.Now().Add(-20*time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending", "routing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("routing", "building")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepErrors.WithLabelValues("building", "fatal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.venueChosen.WithLabelValues("meteora")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "swapflow_order_step_duration_seconds")
	assert.Contains(t, names, "swapflow_order_transitions_total")
}

func TestOrderMetrics_NilIsNoop(t *testing.T) {
	var m *OrderMetrics
	assert.NotPanics(t, func() {
		m.Transition("a", "b")
		m.Conflict("a", "b")
		m.StepError("a", "retriable")
		m.VenueSelected("raydium")
		m.ObserveStep("a", time.Now())
	})
}
