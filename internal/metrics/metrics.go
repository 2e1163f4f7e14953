// Package metrics exports orpipe's per-binding counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so callers never need to check
// whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Direction labels for forwarded bytes.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

type Metrics struct {
	accepted       *prometheus.CounterVec
	connectFailed  *prometheus.CounterVec
	activeForwards *prometheus.GaugeVec
	bytes          *prometheus.CounterVec
	forwardErrors  *prometheus.CounterVec
}

// New registers orpipe's collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		accepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orpipe_connections_accepted_total",
			Help: "Local connections accepted",
		}, []string{"binding"}),
		connectFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orpipe_connect_failures_total",
			Help: "Overlay connects that failed",
		}, []string{"binding"}),
		activeForwards: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orpipe_forwards_active",
			Help: "Connections currently being forwarded",
		}, []string{"binding"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orpipe_forwarded_bytes_total",
			Help: "Bytes forwarded, sent is local to remote",
		}, []string{"binding", "direction"}),
		forwardErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orpipe_forward_errors_total",
			Help: "Forwards that ended in an error, by failing leg",
		}, []string{"binding", "kind"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Accepted(binding string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(binding).Inc()
}

func (m *Metrics) ConnectFailed(binding string) {
	if m == nil {
		return
	}
	m.connectFailed.WithLabelValues(binding).Inc()
}

// ForwardStarted marks a forward as active. Call the returned func when it
// ends.
func (m *Metrics) ForwardStarted(binding string) func() {
	if m == nil {
		return func() {}
	}
	g := m.activeForwards.WithLabelValues(binding)
	g.Inc()
	return g.Dec
}

// ForwardDone records the outcome of one forward. kind is empty for a clean
// close.
func (m *Metrics) ForwardDone(binding string, sent, received int64, kind string) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(binding, DirectionSent).Add(float64(sent))
	m.bytes.WithLabelValues(binding, DirectionReceived).Add(float64(received))
	if kind != "" {
		m.forwardErrors.WithLabelValues(binding, kind).Inc()
	}
}
