// Package metrics exposes gateway counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clawgate"

// Inbound outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeQueueFull = "queue_full"
	OutcomeInvalid   = "invalid"
)

// Metrics holds every collector on its own registry so tests can create
// independent instances.
type Metrics struct {
	registry *prometheus.Registry

	InboundTotal     *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	WebhookRequests  *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	WSClients        prometheus.Gauge
	PlatformUp       *prometheus.GaugeVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		InboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by platform and outcome.",
		}, []string{"platform", "outcome"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_chunks_total",
			Help:      "Outbound chunk deliveries by platform and result.",
		}, []string{"platform", "result"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_send_seconds",
			Help:      "Latency of a single outbound chunk send.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by platform and HTTP status code.",
		}, []string{"platform", "code"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events broadcast to controlling clients.",
		}, []string{"event"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
		PlatformUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "platform_account_up",
			Help:      "1 when a platform account is connected.",
		}, []string{"platform", "account"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.InboundTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.WebhookRequests,
		m.EventsPublished,
		m.WSClients,
		m.PlatformUp,
	)
	return m
}

// Sizer is implemented by the message queue.
type Sizer interface {
	Len() int
	Cap() int
}

// TrackQueue exports the queue's depth and capacity as gauges.
func (m *Metrics) TrackQueue(q Sizer) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in the inbound queue.",
		}, func() float64 { return float64(q.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_capacity",
			Help:      "Capacity of the inbound queue.",
		}, func() float64 { return float64(q.Cap()) }),
	)
}

// Inbound counts one inbound message.
func (m *Metrics) Inbound(platform, outcome string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(platform, outcome).Inc()
}

// Event counts one broadcast event.
func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(name).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
