package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lanreg"

// CartMetrics covers the checkout pipeline and the HTTP surface
type CartMetrics struct {
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	Assemblies       *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Fulfillments     *prometheus.CounterVec
	GatewayLatencyMS *prometheus.HistogramVec
}

var latencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// NewCartMetrics creates the collectors and registers them with reg
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	m := &CartMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"handler"}),
		Assemblies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "assemblies_total",
			Help:      "Cart assembly attempts by result code.",
		}, []string{"result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "webhook_events_total",
			Help:      "Payment events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "transitions_total",
			Help:      "Cart state changes.",
		}, []string{"from", "to", "source"}),
		Fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "fulfillments_total",
			Help:      "Fulfillment side effects by kind and result.",
		}, []string{"kind", "result"}),
		GatewayLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_ms",
			Help:      "Payment provider call latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"provider", "operation"}),
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.Assemblies, m.WebhookEvents, m.Transitions, m.Fulfillments, m.GatewayLatencyMS)
	return m
}

// ObserveGateway records the latency of a provider call started at start
func (m *CartMetrics) ObserveGateway(provider, operation string, start time.Time) {
	m.GatewayLatencyMS.WithLabelValues(provider, operation).Observe(float64(time.Since(start).Milliseconds()))
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
