package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the service counters exposed on /metrics.
type Metrics struct {
	ChatRequests      *prometheus.CounterVec
	ChatDuration      prometheus.Histogram
	RetrievedChunks   prometheus.Histogram
	ProviderFailures  *prometheus.CounterVec
	DegradedResponses prometheus.Counter
}

// NewMetrics registers the service metrics on the given registerer (pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests by outcome",
		}, []string{"status"}),
		ChatDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "End-to-end chat request latency",
			Buckets: prometheus.DefBuckets,
		}),
		RetrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_retrieved_chunks",
			Help:    "Chunks surviving relevance filtering per request",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_failures_total",
			Help: "External dependency failures by kind",
		}, []string{"dependency"}),
		DegradedResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_degraded_responses_total",
			Help: "Responses produced without retrieval grounding due to upstream failure",
		}),
	}
}
