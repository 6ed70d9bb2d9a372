package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the sync client's collectors. A nil *Metrics is valid and
// records nothing, so components can take one unconditionally.
type Metrics struct {
	state        prometheus.Gauge
	reconnects   prometheus.Counter
	events       *prometheus.CounterVec
	decodeErrors prometheus.Counter
	fetches      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "truthdare_live_connection_state",
			Help: "Lifecycle state of the push connection (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthdare_live_reconnects_total",
			Help: "Connection attempts scheduled after a transport failure.",
		}),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "truthdare_live_events_total",
				Help: "Decoded push events by event type.",
			},
			[]string{"event_type"},
		),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthdare_live_decode_errors_total",
			Help: "Push frames dropped because they could not be decoded.",
		}),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "truthdare_live_fetches_total",
				Help: "Authoritative room state fetches by outcome.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.state, m.reconnects, m.events, m.decodeErrors, m.fetches)
	return m
}

func (m *Metrics) SetState(v int) {
	if m == nil {
		return
	}
	m.state.Set(float64(v))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// Fetch results: "applied", "discarded", "failed".
func (m *Metrics) Fetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}
