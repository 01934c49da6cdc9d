package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultchat"

// Metrics collects client-side counters. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	refreshes    *prometheus.CounterVec
	logouts      prometheus.Counter
	authRetries  prometheus.Counter
	connState    prometheus.Gauge
	reconnects   prometheus.Counter
	frames       *prometheus.CounterVec
	deliveries   prometheus.Counter
	sendRejected prometheus.Counter
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_invalidated_total",
			Help:      "Logout signals emitted after an unrecoverable authorization failure.",
		}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "request_retries_total",
			Help:      "Requests resent once with a refreshed credential.",
		}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current realtime connection state (0=disconnected 1=connecting 2=connected 3=closing).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_total",
			Help:      "Inbound frames by dispatch result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Messages enqueued to subscriptions.",
		}),
		sendRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "send_rejected_total",
			Help:      "Outbound sends rejected because the connection was not live.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.refreshes,
			m.logouts,
			m.authRetries,
			m.connState,
			m.reconnects,
			m.frames,
			m.deliveries,
			m.sendRejected,
		)
	}
	return m
}

// Handler serves the collectors registered in gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RefreshResult(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionInvalidated() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func (m *Metrics) AuthRetry() {
	if m == nil {
		return
	}
	m.authRetries.Inc()
}

func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.Add(float64(n))
}

func (m *Metrics) SendRejected() {
	if m == nil {
		return
	}
	m.sendRejected.Inc()
}
