package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the realtime core collectors. A nil *Metrics records nothing.
type Metrics struct {
	Connections prometheus.Gauge
	Evictions   prometheus.Counter
	Dispatched  *prometheus.CounterVec
}

// Dispatch outcomes used as the "outcome" label.
const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeUnknown   = "unknown_type"
	outcomeMalformed = "malformed"
	outcomeLimited   = "rate_limited"
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Currently registered realtime connections.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_evictions_total",
			Help: "Connections terminated after missing two heartbeat probes.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_dispatched_total",
			Help: "Inbound envelopes by type and dispatch outcome.",
		}, []string{"type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Evictions, m.Dispatched)
	}
	return m
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

// dispatched keeps label cardinality bounded: callers pass "unknown" for
// types without a handler.
func (m *Metrics) dispatched(msgType, outcome string) {
	if m != nil {
		m.Dispatched.WithLabelValues(msgType, outcome).Inc()
	}
}
