// Package prom is an alternate metrics backend for deployments that scrape
// Prometheus directly instead of running an OTLP collector. It exposes the
// same named counters and histograms as observer.Instruments, registered
// against a prometheus.Registry instead of an OTEL MeterProvider.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instruments holds Prometheus collectors mirroring observer.Instruments.
type Instruments struct {
	Registry *prometheus.Registry

	TokenUsage         *prometheus.CounterVec
	CostTotal          *prometheus.CounterVec
	ExtractionRequests *prometheus.CounterVec
	SubqueryExecutions *prometheus.CounterVec
	EmbedRequests      *prometheus.CounterVec
	IngestExecutions   prometheus.Counter

	ExtractionDuration *prometheus.HistogramVec
	SubqueryDuration   *prometheus.HistogramVec
	EmbedDuration      *prometheus.HistogramVec
	IngestDuration     prometheus.Histogram
}

// New builds an Instruments backed by a fresh registry, registering every
// collector under the memengine_ namespace.
func New() *Instruments {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Instruments{
		Registry: reg,

		TokenUsage: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "token_usage_total",
			Help:      "Total tokens consumed by extraction and embedding calls.",
		}, []string{"model"}),

		CostTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "cost_usd_total",
			Help:      "Cumulative model cost in USD.",
		}, []string{"model"}),

		ExtractionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "extraction_requests_total",
			Help:      "Extraction model call count.",
		}, []string{"model"}),

		SubqueryExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "retriever_subqueries_total",
			Help:      "Retriever sub-query execution count by kind (vector, bm25, graph).",
		}, []string{"kind"}),

		EmbedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "embedding_requests_total",
			Help:      "Embedding request count.",
		}, []string{"model"}),

		IngestExecutions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memengine",
			Name:      "ingest_executions_total",
			Help:      "Conversation ingest count.",
		}),

		ExtractionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memengine",
			Name:      "extraction_duration_ms",
			Help:      "Extraction model call duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"model"}),

		SubqueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memengine",
			Name:      "retriever_subquery_duration_ms",
			Help:      "Retriever sub-query duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"kind"}),

		EmbedDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memengine",
			Name:      "embedding_duration_ms",
			Help:      "Embedding call duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"model"}),

		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memengine",
			Name:      "ingest_duration_ms",
			Help:      "Conversation ingest duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(20, 2, 10),
		}),
	}
}
