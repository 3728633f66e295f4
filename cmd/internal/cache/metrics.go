package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the cache's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	evictions         prometheus.Counter
	readThrough       *prometheus.CounterVec
	bootstrapDuration prometheus.Histogram
	bootstrapFailures prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "cache",
			Name:      "message_evictions_total",
			Help:      "Messages evicted from a full channel window.",
		}),
		readThrough: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "cache",
			Name:      "read_through_total",
			Help:      "Message lookups that missed the window and went to the server, by outcome.",
		}, []string{"result"}),
		bootstrapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "teamly",
			Subsystem: "cache",
			Name:      "bootstrap_duration_seconds",
			Help:      "Wall time of a full cache bootstrap.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		bootstrapFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "cache",
			Name:      "bootstrap_team_failures_total",
			Help:      "Teams whose bootstrap unit failed and were left empty.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.evictions, m.readThrough, m.bootstrapDuration, m.bootstrapFailures)
	}
	return m
}

func (m *Metrics) evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) readThroughResult(result string) {
	if m == nil {
		return
	}
	m.readThrough.WithLabelValues(result).Inc()
}

func (m *Metrics) bootstrapped(d time.Duration) {
	if m == nil {
		return
	}
	m.bootstrapDuration.Observe(d.Seconds())
}

func (m *Metrics) teamFailed() {
	if m == nil {
		return
	}
	m.bootstrapFailures.Inc()
}
