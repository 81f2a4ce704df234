package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/vectorindex"
)

// ErrNothingToIndex is returned when a product has neither description nor
// image.
var ErrNothingToIndex = errors.New("product has no description or image to index")

// IndexRequest is a product to add to or refresh in the vector index.
type IndexRequest struct {
	ProductID   string
	Description string
	Image       *embedding.ImageInput
	Categories  []string
}

// Indexer writes product vectors into the index.
type Indexer struct {
	embedder  embedding.Embedder
	index     vectorindex.Index
	namespace string
	logger    *observability.Logger
}

// NewIndexer creates an indexer restricting datapoints on namespace.
func NewIndexer(embedder embedding.Embedder, index vectorindex.Index, namespace string, logger *observability.Logger) *Indexer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Indexer{
		embedder:  embedder,
		index:     index,
		namespace: namespace,
		logger:    logger.WithOperation("indexer"),
	}
}

// Upsert embeds the product and writes a text datapoint when it has a
// description and an image datapoint when it has an image. Categories
// become the allow list of the top level namespace.
func (i *Indexer) Upsert(ctx context.Context, req IndexRequest) error {
	if req.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	if req.Description == "" && req.Image == nil {
		return ErrNothingToIndex
	}

	res, err := i.embedder.Embed(ctx, embedding.Request{Text: req.Description, Image: req.Image})
	if err != nil {
		return fmt.Errorf("embed product %s: %w", req.ProductID, err)
	}

	var text, image []float32
	if req.Description != "" {
		text = res.TextVector
	}
	if req.Image != nil {
		image = res.ImageVector
	}
	return i.UpsertVectors(ctx, req.ProductID, text, image, req.Categories)
}

// UpsertVectors writes already computed vectors of a product. An empty
// vector is skipped.
func (i *Indexer) UpsertVectors(ctx context.Context, productID string, text, image []float32, categories []string) error {
	var restricts []vectorindex.Restrict
	if len(categories) > 0 {
		restricts = []vectorindex.Restrict{{Namespace: i.namespace, AllowList: categories}}
	}

	for _, dp := range []vectorindex.Datapoint{
		{ID: productID + TextSuffix, Vector: text, Restricts: restricts},
		{ID: productID + ImageSuffix, Vector: image, Restricts: restricts},
	} {
		if len(dp.Vector) == 0 {
			continue
		}
		if err := i.index.Upsert(ctx, dp); err != nil {
			return fmt.Errorf("upsert %s: %w", dp.ID, err)
		}
	}

	i.logger.Debug().Str("product_id", productID).Strs("categories", categories).Msg("Indexed product")
	return nil
}

// Remove deletes both datapoints of a product. Both removals are attempted
// even if the first fails.
func (i *Indexer) Remove(ctx context.Context, productID string) error {
	var errs []error
	for _, suffix := range []string{TextSuffix, ImageSuffix} {
		if err := i.index.Remove(ctx, productID+suffix); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", productID+suffix, err))
		}
	}
	return errors.Join(errs...)
}
