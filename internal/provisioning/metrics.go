package provisioning

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts finished backend tasks by operation and outcome.
type Metrics struct {
	tasks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_provisioning_tasks_total",
			Help: "Backend tasks finished, by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
	reg.MustRegister(m.tasks)
	return m
}

func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

func (m *Metrics) observe(op Op, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(string(op), outcome).Inc()
}
