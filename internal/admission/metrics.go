package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes admission decisions to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Decisions   *prometheus.CounterVec
	BufferDepth prometheus.Gauge
	Faulted     prometheus.Gauge
}

// NewMetrics registers the admission metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "knotgate_admission_decisions_total",
			Help: "Total number of admission decisions by reason",
		}, []string{"reason"}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "knotgate_admission_buffer_depth",
			Help: "Number of admitted requests waiting for a dispatch worker",
		}),
		Faulted: f.NewGauge(prometheus.GaugeOpts{
			Name: "knotgate_admission_faulted",
			Help: "1 while the admission stream is faulted by an ERROR overflow",
		}),
	}
}

func (m *Metrics) observe(reason Reason) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(n))
}

func (m *Metrics) setFaulted(faulted bool) {
	if m == nil {
		return
	}
	if faulted {
		m.Faulted.Set(1)
		return
	}
	m.Faulted.Set(0)
}
