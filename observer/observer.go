// Package observer provides OTEL-based observability for the memory engine.
//
// It supplies an OTEL-backed memengine.Tracer (see tracer.go) plus a set of
// metric instruments covering the engine's external model calls (extraction,
// embedding), its hybrid retrieval sub-queries, and conversation ingest.
// Users export to any OTEL-compatible backend by setting standard OTEL env
// vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	enginelog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/solace-run/memengine/observer"

// Instruments holds all OTEL instruments used by the engine's observability
// points: Extractor model calls, EmbeddingClient calls, Retriever sub-queries,
// and conversation ingest.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger enginelog.Logger

	// Counters
	TokenUsage         metric.Int64Counter
	CostTotal          metric.Float64Counter
	ExtractionRequests metric.Int64Counter
	SubqueryExecutions metric.Int64Counter
	EmbedRequests      metric.Int64Counter

	// Histograms
	ExtractionDuration metric.Float64Histogram
	SubqueryDuration   metric.Float64Histogram
	EmbedDuration      metric.Float64Histogram

	// Ingest-level
	IngestExecutions metric.Int64Counter
	IngestDuration   metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("memengine")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("memengine.token.usage",
		metric.WithDescription("Total tokens consumed by extraction and embedding calls"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	costTotal, err := meter.Float64Counter("memengine.cost.total",
		metric.WithDescription("Cumulative model cost in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	extractionRequests, err := meter.Int64Counter("memengine.extraction.requests",
		metric.WithDescription("Extraction model call count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	subqueryExecutions, err := meter.Int64Counter("memengine.retriever.subqueries",
		metric.WithDescription("Retriever sub-query execution count (vector, bm25, graph)"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	embedRequests, err := meter.Int64Counter("memengine.embedding.requests",
		metric.WithDescription("Embedding request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	extractionDuration, err := meter.Float64Histogram("memengine.extraction.duration",
		metric.WithDescription("Extraction model call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	subqueryDuration, err := meter.Float64Histogram("memengine.retriever.subquery.duration",
		metric.WithDescription("Retriever sub-query duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	embedDuration, err := meter.Float64Histogram("memengine.embedding.duration",
		metric.WithDescription("Embedding call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	ingestExecutions, err := meter.Int64Counter("memengine.ingest.executions",
		metric.WithDescription("Conversation ingest count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram("memengine.ingest.duration",
		metric.WithDescription("Conversation ingest duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:             tracer,
		Meter:              meter,
		Logger:             logger,
		TokenUsage:         tokenUsage,
		CostTotal:          costTotal,
		ExtractionRequests: extractionRequests,
		SubqueryExecutions: subqueryExecutions,
		EmbedRequests:      embedRequests,
		ExtractionDuration: extractionDuration,
		SubqueryDuration:   subqueryDuration,
		EmbedDuration:      embedDuration,
		IngestExecutions:   ingestExecutions,
		IngestDuration:     ingestDuration,
		Cost:               NewCostCalculator(pricing),
	}, nil
}
