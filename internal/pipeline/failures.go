package pipeline

import (
	"context"
	"sync"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/broker"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

// FailureRecord is the structured form of a failed item exposed to
// operators.
type FailureRecord struct {
	JobID     string      `json:"job_id"`
	Stage     string      `json:"stage"`
	Status    string      `json:"status"`
	ProductID string      `json:"product_id,omitempty"`
	Message   string      `json:"message"`
	Row       catalog.Row `json:"row,omitempty"`
}

// NewFailureRecord builds the record of a failure envelope.
func NewFailureRecord(jobID string, env Envelope) FailureRecord {
	rec := FailureRecord{
		JobID:   jobID,
		Stage:   env.Stage,
		Status:  env.Status.String(),
		Message: env.Message,
		Row:     env.Row,
	}
	if env.Product != nil {
		rec.ProductID = env.Product.OriginID()
	}
	return rec
}

// FailureSink receives every failed item of a run.
type FailureSink interface {
	Record(ctx context.Context, rec FailureRecord)
}

// LogSink writes failures to the log.
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{logger: logger}
}

// Record implements FailureSink.
func (s *LogSink) Record(ctx context.Context, rec FailureRecord) {
	s.logger.Error().
		Str("job_id", rec.JobID).
		Str("stage", rec.Stage).
		Str("product_id", rec.ProductID).
		Str("message", rec.Message).
		Msg("Pipeline item failed")
}

// BusSink publishes failures on a broker channel.
type BusSink struct {
	bus     broker.Bus
	channel string
	logger  *observability.Logger
}

// NewBusSink creates a BusSink.
func NewBusSink(bus broker.Bus, channel string, logger *observability.Logger) *BusSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &BusSink{bus: bus, channel: channel, logger: logger}
}

// Record implements FailureSink. Publish errors are logged.
func (s *BusSink) Record(ctx context.Context, rec FailureRecord) {
	if err := s.bus.Publish(ctx, s.channel, rec); err != nil {
		s.logger.Warn().Err(err).Str("channel", s.channel).Msg("Failed to publish failure record")
	}
}

// MultiSink fans a record out to every sink.
type MultiSink []FailureSink

// Record implements FailureSink.
func (m MultiSink) Record(ctx context.Context, rec FailureRecord) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}

// MemorySink keeps failures in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []FailureRecord
}

// Record implements FailureSink.
func (m *MemorySink) Record(ctx context.Context, rec FailureRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Records returns a copy of the recorded failures.
func (m *MemorySink) Records() []FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FailureRecord(nil), m.records...)
}
