// Package metrics exposes the Prometheus collectors of the messaging
// backend. All recording methods are safe on a nil *Metrics so components
// can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections  prometheus.Gauge
	HandshakeRejected  *prometheus.CounterVec
	MessagesPersisted  prometheus.Counter
	PersistFailures    prometheus.Counter
	Deliveries         prometheus.Counter
	DeliveryFailures   prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPRequestSeconds *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "Live (user, chat) connections held by the registry.",
		}),
		HandshakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_handshake_rejected_total",
			Help:      "Rejected connection attempts by reason.",
		}, []string{"reason"}),
		MessagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages persisted by the pipeline.",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persist_failures_total",
			Help:      "Messages dropped because persistence failed.",
		}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_deliveries_total",
			Help:      "Successful channel deliveries during broadcast.",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_delivery_failures_total",
			Help:      "Channels evicted after a failed delivery.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) HandshakeRejection(reason string) {
	if m == nil {
		return
	}
	m.HandshakeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessagePersisted() {
	if m == nil {
		return
	}
	m.MessagesPersisted.Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.Deliveries.Add(float64(n))
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
