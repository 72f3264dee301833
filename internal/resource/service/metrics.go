package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts guarded state transitions by entity and target state.
type Metrics struct {
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_state_transitions_total",
			Help: "State transitions applied, by entity and target state.",
		}, []string{"entity", "to_state"}),
	}
	reg.MustRegister(m.transitions)
	return m
}

func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

func (m *Metrics) observe(entity, toState string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, toState).Inc()
}
