package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the chat server collectors on a private registry so several
// servers can live in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.HistogramVec
	connections  prometheus.Gauge
	messages     *prometheus.CounterVec
	wsEvents     *prometheus.CounterVec
	outboxEvents *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workly",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workly",
			Subsystem: "chat",
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workly",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages by outcome.",
		}, []string{"outcome"}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workly",
			Subsystem: "chat",
			Name:      "ws_events_total",
			Help:      "Inbound websocket events by name.",
		}, []string{"event"}),
		outboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workly",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox dispatch results.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.requests,
		m.connections,
		m.messages,
		m.wsEvents,
		m.outboxEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route, status string, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) MessageSent()     { m.messages.WithLabelValues("sent").Inc() }
func (m *Metrics) MessageRejected() { m.messages.WithLabelValues("rejected").Inc() }

func (m *Metrics) WSEvent(name string) { m.wsEvents.WithLabelValues(name).Inc() }

func (m *Metrics) OutboxResult(result string) { m.outboxEvents.WithLabelValues(result).Inc() }
