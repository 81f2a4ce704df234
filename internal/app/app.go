// Package app wires configured components for the pipeline and API
// entrypoints.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/broker"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/config"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/enrichment"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/generation"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/materialize"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/metadata"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/objectstore"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/pipeline"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/vectorindex"
)

// Components holds every long-lived collaborator built from a Config.
type Components struct {
	Config     *config.Config
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	DB         *sql.DB
	Metadata   *metadata.Store
	Index      vectorindex.Index
	Embedder   embedding.Embedder
	Generator  generation.Generator
	Objects    objectstore.Store
	Bus        broker.Bus
	Retriever  *retrieval.Retriever
	Indexer    *retrieval.Indexer
	Enrichment *enrichment.Service

	closers []func() error
}

// New builds the components. On error everything built so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	c := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if cfg.Observability.MetricsEnabled {
		c.Metrics = observability.DefaultMetrics()
	}

	if err = c.openMetadata(ctx); err != nil {
		return nil, err
	}
	if err = c.openIndex(ctx); err != nil {
		return nil, err
	}
	if c.Embedder, err = NewEmbedder(cfg.Embedding); err != nil {
		return nil, err
	}
	if c.Generator, err = NewGenerator(cfg.Generation, logger); err != nil {
		return nil, err
	}
	if err = c.openObjects(ctx); err != nil {
		return nil, err
	}
	if err = c.openBus(ctx); err != nil {
		return nil, err
	}

	c.Retriever = retrieval.NewRetriever(c.Embedder, c.Index, retrieval.Config{
		Depth:             cfg.Category.Depth,
		Namespaces:        cfg.Category.Filter,
		NumberOfNeighbors: cfg.Vectors.NumberOfNeighbors,
	}, logger, c.Metrics)
	c.Indexer = retrieval.NewIndexer(c.Embedder, c.Index, cfg.TopLevelNamespace(), logger)
	c.Enrichment = enrichment.NewService(enrichment.Deps{
		Searcher:   c.Retriever,
		Attributes: c.Metadata,
		Categories: c.Metadata,
		Generator:  c.Generator,
		Logger:     logger,
		Metrics:    c.Metrics,
	})

	return c, nil
}

// Materializer builds an image materializer on the configured object store.
func (c *Components) Materializer() *materialize.Materializer {
	return materialize.New(c.Objects, materialize.Config{
		Timeout:     c.Config.Pipeline.DownloadTimeout,
		UserAgent:   c.Config.Pipeline.UserAgent,
		Concurrency: c.Config.Pipeline.DownloadConcurrency,
	}, c.Metrics)
}

// Pipeline builds an enrichment pipeline. Failures are logged and, when a
// failure channel is configured, published on the bus.
func (c *Components) Pipeline() *pipeline.Pipeline {
	cfg := c.Config
	sinks := pipeline.MultiSink{pipeline.NewLogSink(c.Logger)}
	if cfg.Pipeline.FailureChannel != "" {
		sinks = append(sinks, pipeline.NewBusSink(c.Bus, cfg.Pipeline.FailureChannel, c.Logger))
	}

	normalizer := catalog.NewNormalizer(catalog.NormalizerConfig{
		PriceFactor:   cfg.Pipeline.PriceFactor,
		CategoryDepth: cfg.Category.Depth,
	})

	return pipeline.New(pipeline.Config{
		Workers:    cfg.Pipeline.Workers,
		PreProcess: cfg.Pipeline.PreProcess,
	}, pipeline.Deps{
		Normalizer: normalizer,
		Images:     c.Materializer(),
		Embedder:   c.Embedder,
		Writer:     c.Metadata,
		Index:      c.Indexer,
		Sink:       sinks,
		Logger:     c.Logger,
		Metrics:    c.Metrics,
	})
}

// Close releases every opened resource in reverse order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Components) openMetadata(ctx context.Context) error {
	cfg := c.Config
	db, err := metadata.Open(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	c.closers = append(c.closers, db.Close)

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
		}
	case "postgres":
		pg := cfg.Database.Postgres
		db.SetMaxOpenConns(pg.MaxOpenConns)
		db.SetMaxIdleConns(pg.MaxIdleConns)
		db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	}

	c.DB = db
	c.Metadata = metadata.NewStore(db, metadata.Options{
		Levels:             len(cfg.Category.Filter),
		Depth:              cfg.Category.Depth,
		AllowTrailingNulls: cfg.Category.AllowTrailingNulls,
		Logger:             c.Logger,
	})
	if err := c.Metadata.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate metadata store: %w", err)
	}
	return nil
}

func (c *Components) openIndex(ctx context.Context) error {
	cfg := c.Config.Vector
	switch cfg.Adapter {
	case "pgvector":
		idx, err := vectorindex.NewPGVectorIndex(ctx, vectorindex.PGVectorConfig{
			DSN:       cfg.DSN,
			Table:     cfg.Table,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return err
		}
		c.Index = idx
	default:
		c.Index = vectorindex.NewMemoryIndex(cfg.Dimension)
	}
	c.closers = append(c.closers, c.Index.Close)
	return nil
}

func (c *Components) openObjects(ctx context.Context) error {
	cfg := c.Config.Storage
	switch cfg.Backend {
	case "gcs":
		store, err := objectstore.NewGCSStore(ctx, cfg.Bucket)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, store.Close)
		c.Objects = store
	default:
		c.Objects = objectstore.NewFSStore(afero.NewOsFs(), cfg.BasePath)
	}
	return nil
}

func (c *Components) openBus(ctx context.Context) error {
	cfg := c.Config.Cache
	switch cfg.Driver {
	case "redis":
		bus, err := broker.NewRedisBus(ctx, broker.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		c.Bus = bus
	default:
		c.Bus = broker.NewMemoryBus()
	}
	c.closers = append(c.closers, c.Bus.Close)
	return nil
}

// NewEmbedder creates the configured embedding client.
func NewEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	ec := embedding.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
		Timeout:   cfg.Timeout,
	}
	switch cfg.Provider {
	case "http":
		return embedding.NewHTTPClient(ec)
	case "openai":
		return embedding.NewOpenAIClient(ec)
	case "mock":
		return embedding.NewMockClient(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// NewGenerator creates the configured text generation client.
func NewGenerator(cfg config.GenerationConfig, logger *observability.Logger) (generation.Generator, error) {
	gc := generation.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}
	switch cfg.Provider {
	case "openai":
		return generation.NewOpenAIGenerator(gc)
	case "openrouter":
		return generation.NewOpenRouterGenerator(gc, logger)
	case "mock":
		return generation.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}
