package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/metadata"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/rows"
)

// ImageMaterializer re-hosts a product's primary image.
type ImageMaterializer interface {
	Materialize(ctx context.Context, p *catalog.Product) error
}

// VectorWriter publishes computed product vectors to the vector index.
type VectorWriter interface {
	UpsertVectors(ctx context.Context, productID string, text, image []float32, categories []string) error
}

// Config holds pipeline configuration.
type Config struct {
	// Workers is the number of goroutines per stage.
	Workers int
	// PreProcess enables the NLP description of each product.
	PreProcess bool
}

// Deps are the collaborators of a Pipeline. Index and Sink are optional.
type Deps struct {
	Normalizer *catalog.Normalizer
	Images     ImageMaterializer
	Embedder   embedding.Embedder
	Writer     metadata.ProductWriter
	Index      VectorWriter
	Sink       FailureSink
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	JobID       uuid.UUID
	Read        int64
	Parsed      int64
	Rejected    int64
	ParseFailed int64
	ImageFailed int64
	EmbedFailed int64
	WriteFailed int64
	Written     int64
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Failed is the number of items routed to a failure stream.
func (r *RunResult) Failed() int64 {
	return r.ParseFailed + r.ImageFailed + r.EmbedFailed + r.WriteFailed
}

type counters struct {
	read, parsed, rejected atomic.Int64
}

// Pipeline is a concurrent, unordered multi-stage enrichment pipeline.
type Pipeline struct {
	cfg        Config
	normalizer *catalog.Normalizer
	images     ImageMaterializer
	embedder   embedding.Embedder
	writer     metadata.ProductWriter
	index      VectorWriter
	sink       FailureSink
	logger     *observability.Logger
	metrics    *observability.Metrics
	counts     *counters
}

// New creates a pipeline.
func New(cfg Config, d Deps) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	normalizer := d.Normalizer
	if normalizer == nil {
		normalizer = catalog.NewNormalizer(catalog.DefaultNormalizerConfig())
	}
	sink := d.Sink
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Pipeline{
		cfg:        cfg,
		normalizer: normalizer,
		images:     d.Images,
		embedder:   d.Embedder,
		writer:     d.Writer,
		index:      d.Index,
		sink:       sink,
		logger:     logger.WithOperation("pipeline"),
		metrics:    d.Metrics,
		counts:     &counters{},
	}
}

// Run streams every row of src through the stages and waits until all
// items have been written or routed to the failure sink. A run must not
// overlap another run of the same Pipeline.
func (p *Pipeline) Run(ctx context.Context, src rows.Source) (*RunResult, error) {
	result := &RunResult{JobID: uuid.New(), StartedAt: time.Now()}
	jobID := result.JobID.String()
	p.counts = &counters{}
	logger := p.logger.WithJob(jobID)

	logger.Info().Int("workers", p.cfg.Workers).Msg("Starting pipeline run")

	rowCh := make(chan catalog.Row)
	streamErr := make(chan error, 1)
	go func() {
		defer close(rowCh)
		streamErr <- src.Stream(ctx, rowCh)
	}()

	ok, parseFailed := Partition(ctx, p.stage(ctx, StageParse, p.envelopes(ctx, rowCh), p.parse))
	ok, imageFailed := Partition(ctx, p.stage(ctx, StageImage, ok, p.materialize))
	ok, embedFailed := Partition(ctx, p.stage(ctx, StageEmbed, ok, p.embed))
	written, writeFailed := Partition(ctx, p.stage(ctx, StageWrite, ok, p.write))

	var wg sync.WaitGroup
	failureCounts := map[string]*int64{
		StageParse: &result.ParseFailed,
		StageImage: &result.ImageFailed,
		StageEmbed: &result.EmbedFailed,
		StageWrite: &result.WriteFailed,
	}
	for stage, failures := range map[string]<-chan Envelope{
		StageParse: parseFailed,
		StageImage: imageFailed,
		StageEmbed: embedFailed,
		StageWrite: writeFailed,
	} {
		wg.Add(1)
		go func(stage string, failures <-chan Envelope) {
			defer wg.Done()
			for env := range failures {
				atomic.AddInt64(failureCounts[stage], 1)
				p.sink.Record(ctx, NewFailureRecord(jobID, env))
			}
		}(stage, failures)
	}

	for range written {
		result.Written++
	}
	wg.Wait()

	result.Read = p.counts.read.Load()
	result.Parsed = p.counts.parsed.Load()
	result.Rejected = p.counts.rejected.Load()
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	logger.Info().
		Int64("read", result.Read).
		Int64("rejected", result.Rejected).
		Int64("failed", result.Failed()).
		Int64("written", result.Written).
		Dur("duration", result.Duration).
		Msg("Pipeline run completed")

	if err := <-streamErr; err != nil {
		return result, fmt.Errorf("stream rows: %w", err)
	}
	return result, ctx.Err()
}

// envelopes wraps raw rows for the parse stage.
func (p *Pipeline) envelopes(ctx context.Context, in <-chan catalog.Row) <-chan Envelope {
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for row := range in {
			p.counts.read.Add(1)
			select {
			case out <- Envelope{Status: StatusSuccess, Row: row}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// stage runs fn on Workers goroutines. The output closes once in is
// drained.
func (p *Pipeline) stage(ctx context.Context, name string, in <-chan Envelope, fn stageFunc) <-chan Envelope {
	out := make(chan Envelope)
	logger := p.logger.WithStage(name)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for env := range in {
				res, emit := p.safely(ctx, logger, name, env, fn)
				if !emit {
					continue
				}
				if name == StageParse && res.Status == StatusSuccess {
					p.counts.parsed.Add(1)
				}
				p.metrics.RecordItem(ctx, name, res.Status.String())
				select {
				case out <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// safely converts a panic inside a stage into a failure envelope.
func (p *Pipeline) safely(ctx context.Context, logger *observability.Logger, name string, env Envelope, fn stageFunc) (out Envelope, emit bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Stage panicked")
			out = Failure(name, env.Product, fmt.Sprintf("%s stage panicked: %v", name, r))
			out.Row = env.Row
			emit = true
		}
	}()
	return fn(ctx, env)
}
