package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "optiondesk"

// Metrics holds the prometheus collectors for the client. Each instance owns
// its registry so tests can create fresh ones.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed prometheus.Counter
	eventLatency    prometheus.Histogram
	eventsDropped   *prometheus.CounterVec // reason

	feedMessages    *prometheus.CounterVec // feed
	decodeFailures  *prometheus.CounterVec // feed
	feedConnections prometheus.Gauge
	feedReconnects  *prometheus.CounterVec // feed

	staleQuotes prometheus.Counter
	refetches   *prometheus.CounterVec // result: sent, coalesced
	actions     *prometheus.CounterVec // action, outcome
}

// GlobalMetrics is the process-wide instance.
var GlobalMetrics = NewMetrics()

// NewMetrics creates and registers every collector on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_processed_total",
			Help:      "Events applied by the sequencer",
		}),
		eventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "event_latency_seconds",
			Help:      "Time from event creation to application",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded by the sequencer",
		}, []string{"reason"}),

		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feed_messages_total",
			Help:      "Messages received per feed",
		}, []string{"feed"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feed_decode_failures_total",
			Help:      "Malformed messages dropped per feed",
		}, []string{"feed"}),
		feedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "feed_connections",
			Help:      "Open feed stream connections",
		}),
		feedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feed_reconnects_total",
			Help:      "Reconnect attempts per feed",
		}, []string{"feed"}),

		staleQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stale_quotes_total",
			Help:      "Quote updates for coordinates absent from the current chain",
		}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_book_refetches_total",
			Help:      "Order book re-fetch triggers",
		}, []string{"result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "actions_total",
			Help:      "User actions by outcome",
		}, []string{"action", "outcome"}),
	}

	m.registry.MustRegister(
		m.eventsProcessed,
		m.eventLatency,
		m.eventsDropped,
		m.feedMessages,
		m.decodeFailures,
		m.feedConnections,
		m.feedReconnects,
		m.staleQuotes,
		m.refetches,
		m.actions,
	)
	return m
}

// RecordEvent records an applied event with its queueing latency.
func (m *Metrics) RecordEvent(latency time.Duration) {
	m.eventsProcessed.Inc()
	if latency >= 0 {
		m.eventLatency.Observe(latency.Seconds())
	}
}

// RecordDropped records an event the sequencer discarded.
func (m *Metrics) RecordDropped(reason string) {
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordFeedMessage(feed string) {
	m.feedMessages.WithLabelValues(feed).Inc()
}

func (m *Metrics) RecordDecodeFailure(feed string) {
	m.decodeFailures.WithLabelValues(feed).Inc()
}

func (m *Metrics) RecordReconnect(feed string) {
	m.feedReconnects.WithLabelValues(feed).Inc()
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.feedConnections.Inc()
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.feedConnections.Dec()
}

func (m *Metrics) RecordStaleQuote() {
	m.staleQuotes.Inc()
}

// RecordRefetch counts a re-fetch trigger; result is "sent" or "coalesced".
func (m *Metrics) RecordRefetch(result string) {
	m.refetches.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordAction(action, outcome string) {
	m.actions.WithLabelValues(action, outcome).Inc()
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
