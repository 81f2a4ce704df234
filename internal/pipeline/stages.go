package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/metadata"
)

// stageFunc handles one envelope. When emit is false the item leaves the
// pipeline without being counted as a failure.
type stageFunc func(ctx context.Context, env Envelope) (out Envelope, emit bool)

// parse normalizes the raw row. Rows without images are rejected.
func (p *Pipeline) parse(ctx context.Context, env Envelope) (Envelope, bool) {
	product, report := p.normalizer.Normalize(env.Row, p.cfg.PreProcess)
	if product == nil {
		p.counts.rejected.Add(1)
		p.logger.Debug().Str("uniq_id", env.Row.Get(catalog.ColUniqID)).Msg("Row has no images, skipping")
		return env, false
	}
	if product.OriginID() == "" {
		out := Failure(StageParse, product, "row has no uniq_id")
		out.Row = env.Row
		return out, true
	}
	if report.DroppedSpecSegments > 0 {
		p.logger.Debug().
			Str("product_id", product.OriginID()).
			Int("dropped", report.DroppedSpecSegments).
			Msg("Dropped malformed specification segments")
	}
	return Success(StageParse, product), true
}

// materialize copies the primary image into object storage.
func (p *Pipeline) materialize(ctx context.Context, env Envelope) (Envelope, bool) {
	if err := p.images.Materialize(ctx, env.Product); err != nil {
		return Failure(StageImage, env.Product, err.Error()), true
	}
	return Success(StageImage, env.Product), true
}

// embed attaches text and image vectors computed from the contextual text
// and the durable image URI.
func (p *Pipeline) embed(ctx context.Context, env Envelope) (Envelope, bool) {
	product := env.Product
	img := product.PrimaryImage()
	if img == nil || img.URL == "" {
		return Failure(StageEmbed, product, "product image was not materialized"), true
	}

	start := time.Now()
	res, err := p.embedder.Embed(ctx, embedding.Request{
		Text:  product.ContextualText(),
		Image: &embedding.ImageInput{URI: img.URL},
	})
	p.metrics.ObserveExternal(ctx, "embedding", start)
	if err != nil {
		return Failure(StageEmbed, product, fmt.Sprintf("embedding failed: %v", err)), true
	}

	product.TextEmbedding = res.TextVector
	product.ImageEmbedding = res.ImageVector
	return Success(StageEmbed, product), true
}

// write persists the enriched product and, when an index writer is set,
// publishes its vectors for retrieval.
func (p *Pipeline) write(ctx context.Context, env Envelope) (Envelope, bool) {
	product := env.Product

	// A stored success row implies its datapoints are already indexed.
	if p.index != nil {
		var categories []string
		if len(product.Categories) > 0 && product.Categories[0] != nil {
			categories = product.Categories[0].Path()
		}
		if err := p.index.UpsertVectors(ctx, product.OriginID(), product.TextEmbedding, product.ImageEmbedding, categories); err != nil {
			return Failure(StageWrite, product, fmt.Sprintf("index product: %v", err)), true
		}
	}

	start := time.Now()
	warnings, err := p.writer.WriteProduct(ctx, metadata.ProductRecord{
		Status:  env.Status.String(),
		Product: product,
	})
	p.metrics.ObserveExternal(ctx, "metadata", start)
	if err != nil {
		return Failure(StageWrite, product, fmt.Sprintf("write product: %v", err)), true
	}
	if len(warnings) > 0 {
		p.logger.Warn().
			Str("product_id", product.OriginID()).
			Strs("warnings", warnings).
			Msg("Data quality warnings while writing product")
	}
	return Success(StageWrite, product), true
}
