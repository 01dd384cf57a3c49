// Package metrics provides Prometheus instrumentation for the chat backend.
// It exposes gauges for live notification subscribers, counters for event
// throughput and drops, and histograms for request and AI completion latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NotifySubscribers tracks the current number of live subscriber channels
	// on the notification bus.
	NotifySubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parla_notify_subscribers",
		Help: "Current number of live notification subscriber channels",
	})

	// NotifyPublished counts events published to the bus, labeled by event type.
	NotifyPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parla_notify_published_total",
		Help: "Total number of events published to the notification bus",
	}, []string{"type"})

	// NotifyDropped counts events dropped because a subscriber queue was full.
	NotifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parla_notify_dropped_total",
		Help: "Total number of events dropped due to full subscriber queues",
	})

	// MessagesStored counts chat messages persisted, labeled by role.
	MessagesStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parla_messages_stored_total",
		Help: "Total number of chat messages persisted",
	}, []string{"role"})

	// CompletionLatency records AI completion round-trip latency in seconds.
	CompletionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parla_completion_latency_seconds",
		Help:    "AI completion request latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
	})

	// RequestDuration records HTTP handler latency in seconds, labeled by route.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parla_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		NotifySubscribers,
		NotifyPublished,
		NotifyDropped,
		MessagesStored,
		CompletionLatency,
		RequestDuration,
	)
}

// Handler returns the HTTP handler that serves the Prometheus metrics
// endpoint, mounted at /metrics by the API server.
func Handler() http.Handler {
	return promhttp.Handler()
}
