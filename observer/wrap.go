package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/solace-run/memengine"
)

// ObservedExtractionModel wraps a memengine.ExtractionModel with tracing and
// metrics: request count, call duration, and span-level error recording.
type ObservedExtractionModel struct {
	inner  memengine.ExtractionModel
	model  string
	inst   *Instruments
	tracer memengine.Tracer
}

// WrapExtractionModel instruments model for use as the engine's
// ExtractionModel. tracer may be nil, in which case only metrics are recorded.
func WrapExtractionModel(model memengine.ExtractionModel, name string, inst *Instruments, tracer memengine.Tracer) *ObservedExtractionModel {
	return &ObservedExtractionModel{inner: model, model: name, inst: inst, tracer: tracer}
}

func (o *ObservedExtractionModel) Complete(ctx context.Context, prompt string) (string, error) {
	var span memengine.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "extraction.complete", memengine.StringAttr("model", o.model))
		defer span.End()
	}

	start := time.Now()
	result, err := o.inner.Complete(ctx, prompt)
	elapsed := float64(time.Since(start).Milliseconds())

	attrs := metric.WithAttributes(AttrModel.String(o.model))
	o.inst.ExtractionRequests.Add(ctx, 1, attrs)
	o.inst.ExtractionDuration.Record(ctx, elapsed, attrs)

	if err != nil && span != nil {
		span.Error(err)
	}
	return result, err
}

var _ memengine.ExtractionModel = (*ObservedExtractionModel)(nil)

// ObservedEmbeddingModel wraps a memengine.EmbeddingModel with tracing and
// metrics: request count, call duration, and text/dimension attributes.
type ObservedEmbeddingModel struct {
	inner  memengine.EmbeddingModel
	model  string
	inst   *Instruments
	tracer memengine.Tracer
}

// WrapEmbeddingModel instruments model for use as the engine's EmbeddingModel.
// tracer may be nil, in which case only metrics are recorded.
func WrapEmbeddingModel(model memengine.EmbeddingModel, name string, inst *Instruments, tracer memengine.Tracer) *ObservedEmbeddingModel {
	return &ObservedEmbeddingModel{inner: model, model: name, inst: inst, tracer: tracer}
}

func (o *ObservedEmbeddingModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var span memengine.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "embedding.embed",
			memengine.StringAttr("model", o.model),
			memengine.IntAttr("text_count", len(texts)))
		defer span.End()
	}

	start := time.Now()
	vecs, err := o.inner.Embed(ctx, texts)
	elapsed := float64(time.Since(start).Milliseconds())

	attrs := metric.WithAttributes(AttrModel.String(o.model))
	o.inst.EmbedRequests.Add(ctx, 1, attrs)
	o.inst.EmbedDuration.Record(ctx, elapsed, attrs)

	if err != nil && span != nil {
		span.Error(err)
	}
	return vecs, err
}

func (o *ObservedEmbeddingModel) Dimensions() int { return o.inner.Dimensions() }

var _ memengine.EmbeddingModel = (*ObservedEmbeddingModel)(nil)
