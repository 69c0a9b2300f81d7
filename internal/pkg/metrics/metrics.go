// internal/pkg/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swapflow"

// OrderMetrics 汇总订单执行引擎的指标。nil 接收者上的方法均为空操作。
type OrderMetrics struct {
	transitions  *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	stepErrors   *prometheus.CounterVec
	venueChosen  *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewOrderMetrics 创建并注册所有指标
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	m := &OrderMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Successful conditional order state transitions.",
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transition_conflicts_total",
			Help:      "Conditional transitions lost to a concurrent worker.",
		}, []string{"from", "to"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_step_errors_total",
			Help:      "Step failures by originating state and error kind.",
		}, []string{"state", "kind"}),
		venueChosen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_selected_total",
			Help:      "Routing decisions by chosen venue.",
		}, []string{"venue"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_step_duration_seconds",
			Help:      "Duration of one orchestrator step.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.conflicts, m.stepErrors, m.venueChosen, m.stepDuration)
	}
	return m
}

func (m *OrderMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *OrderMetrics) Conflict(from, to string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(from, to).Inc()
}

func (m *OrderMetrics) StepError(state, kind string) {
	if m == nil {
		return
	}
	m.stepErrors.WithLabelValues(state, kind).Inc()
}

func (m *OrderMetrics) VenueSelected(venue string) {
	if m == nil {
		return
	}
	m.venueChosen.WithLabelValues(venue).Inc()
}

func (m *OrderMetrics) ObserveStep(state string, started time.Time) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(state).Observe(time.Since(started).Seconds())
}
