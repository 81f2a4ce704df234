package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/spherical-ai/spherical/libs/product-enrichment"

// Metrics holds the OpenTelemetry instruments recorded by the pipeline,
// the retriever and the RAG generator.
type Metrics struct {
	// PipelineItems counts envelopes leaving a stage, by stage and status.
	PipelineItems metric.Int64Counter

	// RAGFallbacks counts answers served from retrieval instead of generation.
	RAGFallbacks metric.Int64Counter

	// ExternalDuration records round-trip latency to embedding, index,
	// generation and storage services.
	ExternalDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PipelineItems, err = m.Int64Counter("enrichment.pipeline.items",
		metric.WithDescription("Records emitted by each pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.RAGFallbacks, err = m.Int64Counter("enrichment.rag.fallbacks",
		metric.WithDescription("Generation results replaced by retrieval fallbacks."),
	); err != nil {
		return nil, err
	}
	if met.ExternalDuration, err = m.Float64Histogram("enrichment.external.duration",
		metric.WithDescription("Latency of calls to external services."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide instance bound to the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observability: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordItem counts one envelope for a stage.
func (m *Metrics) RecordItem(ctx context.Context, stage, status string) {
	if m == nil {
		return
	}
	m.PipelineItems.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordFallback counts one fallback for the given RAG mode.
func (m *Metrics) RecordFallback(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.RAGFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// ObserveExternal records the time elapsed since start for a service call.
func (m *Metrics) ObserveExternal(ctx context.Context, service string, start time.Time) {
	if m == nil {
		return
	}
	m.ExternalDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("service", service)),
	)
}
