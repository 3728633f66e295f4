package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the gateway's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	state          prometheus.Gauge
	framesReceived *prometheus.CounterVec
	decodeFailures prometheus.Counter
	heartbeatsSent prometheus.Counter
	reconnects     prometheus.Counter
	rateLimitWaits prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamly",
			Subsystem: "gateway",
			Name:      "state",
			Help:      "Connection state (0=disconnected 1=connecting 2=connected 3=degraded 4=stopped).",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by event name.",
		}, []string{"event"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "gateway",
			Name:      "frame_decode_failures_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "gateway",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat frames written.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a failed dial or a dropped connection.",
		}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamly",
			Subsystem: "gateway",
			Name:      "rate_limit_waits_total",
			Help:      "Outbound frames that had to wait for rate limiter budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.framesReceived, m.decodeFailures, m.heartbeatsSent, m.reconnects, m.rateLimitWaits)
	}
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) frameReceived(event string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) heartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) rateLimited() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}
