package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbound message results.
const (
	resultPersisted    = "persisted"
	resultInvalid      = "invalid"
	resultStorageError = "storage_error"
	resultAckFailed    = "ack_failed"
)

// Metrics holds the server's Prometheus collectors. Each server owns its
// own registry so that several servers can coexist in one test binary.
type Metrics struct {
	registry          *prometheus.Registry
	activeConnections prometheus.Gauge
	inbound           *prometheus.CounterVec
	fanout            *prometheus.CounterVec
	storeCreate       prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gochat",
			Name:      "active_connections",
			Help:      "Authenticated WebSocket sessions currently running.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "inbound_messages_total",
			Help:      "Inbound message frames by result.",
		}, []string{"result"}),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "fanout_total",
			Help:      "Recipient delivery attempts by outcome.",
		}, []string{"outcome"}),
		storeCreate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gochat",
			Name:      "store_create_seconds",
			Help:      "Latency of persisting an inbound message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.activeConnections,
		m.inbound,
		m.fanout,
		m.storeCreate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
