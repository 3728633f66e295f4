package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the dispatcher's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events  *prometheus.CounterVec
	backlog prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Routed gateway events by name and result (handled, ignored, failed).",
		}, []string{"event", "result"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamly",
			Subsystem: "dispatch",
			Name:      "callback_backlog",
			Help:      "Callback invocations queued and not yet run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.backlog)
	}
	return m
}

func (m *Metrics) routed(event, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, result).Inc()
}

func (m *Metrics) setBacklog(depth int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(depth))
}
