package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tabsplit"

// Metrics tracks channel and receipt activity. A nil *Metrics records nothing.
type Metrics struct {
	activeConnections prometheus.Gauge
	joins             prometheus.Counter
	updates           *prometheus.CounterVec
	deliveries        prometheus.Counter
	evictions         prometheus.Counter
	receipts          *prometheus.CounterVec
}

// NewMetrics registers the collectors on registerer. A nil registerer builds
// unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "active_connections",
			Help:      "Open session channel connections.",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "joins_total",
			Help:      "join-session messages handled.",
		}),
		updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "updates_total",
			Help:      "update-session messages by result.",
		}, []string{"result"}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "deliveries_total",
			Help:      "session-updated frames queued for peers.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "evictions_total",
			Help:      "Connections dropped for falling behind.",
		}),
		receipts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "receipts",
			Name:      "parsed_total",
			Help:      "Receipt uploads by outcome.",
		}, []string{"outcome"}),
	}
}

const (
	updateResultApplied = "applied"
	updateResultInvalid = "invalid"
	updateResultFailed  = "failed"
)

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) joined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) updateHandled(result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(result).Inc()
}

func (m *Metrics) broadcastDelivered(count int) {
	if m == nil || count == 0 {
		return
	}
	m.deliveries.Add(float64(count))
}

func (m *Metrics) memberEvicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) receiptParsed(outcome string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(outcome).Inc()
}
