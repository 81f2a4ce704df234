// Package retrieval finds catalog products similar to a query product and
// keeps the vector index in sync with the catalog.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/vectorindex"
)

// Datapoint id suffixes for the text and image vectors of a product.
const (
	TextSuffix  = "_T"
	ImageSuffix = "_I"
)

// ProductID strips the vector suffix from a datapoint id.
func ProductID(datapointID string) string {
	if len(datapointID) < 2 {
		return ""
	}
	return datapointID[:len(datapointID)-2]
}

// Config controls filter binding and fan-out.
type Config struct {
	// Depth is the maximum number of category filters honored.
	Depth int
	// Namespaces names the restrict namespace of each category level.
	Namespaces []string
	// NumberOfNeighbors is used when a caller passes a non-positive count.
	NumberOfNeighbors int
}

// Query describes the product to find neighbors for.
type Query struct {
	Description string
	Image       *embedding.ImageInput
	Filters     []string
}

// Retriever runs nearest-neighbor searches over the vector index.
type Retriever struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRetriever creates a retriever.
func NewRetriever(embedder embedding.Embedder, index vectorindex.Index, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Retriever {
	if cfg.NumberOfNeighbors <= 0 {
		cfg.NumberOfNeighbors = 10
	}
	if cfg.Depth <= 0 || cfg.Depth > len(cfg.Namespaces) {
		cfg.Depth = len(cfg.Namespaces)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger.WithOperation("retrieval"),
		metrics:  metrics,
	}
}

// Neighbors returns up to numNeighbors matches for each embedding, in
// embedding order then rank order. The same product may appear more than
// once. Filter i restricts category level i; filters beyond the configured
// depth are dropped with a warning.
func (r *Retriever) Neighbors(ctx context.Context, embeds [][]float32, filters []string, numNeighbors int) ([]vectorindex.Neighbor, error) {
	if numNeighbors <= 0 {
		numNeighbors = r.cfg.NumberOfNeighbors
	}
	if len(embeds) == 0 {
		return []vectorindex.Neighbor{}, nil
	}

	if len(filters) > r.cfg.Depth {
		r.logger.Warn().
			Int("filters", len(filters)).
			Int("depth", r.cfg.Depth).
			Msg("Number of category filters is greater than supported category depth. Truncating")
		filters = filters[:r.cfg.Depth]
	}

	restricts := make([]vectorindex.Restrict, len(filters))
	for i, f := range filters {
		restricts[i] = vectorindex.Restrict{Namespace: r.cfg.Namespaces[i], AllowList: []string{f}}
	}

	start := time.Now()
	results, err := r.index.Query(ctx, embeds, numNeighbors, restricts)
	r.metrics.ObserveExternal(ctx, "vector_index", start)
	if err != nil {
		return nil, fmt.Errorf("find neighbors: %w", err)
	}

	out := make([]vectorindex.Neighbor, 0, len(embeds)*numNeighbors)
	for _, neighbors := range results {
		out = append(out, neighbors...)
	}
	return out, nil
}

// EmbedAndSearch embeds the query description and image and searches with
// every produced vector. The text vector comes first.
func (r *Retriever) EmbedAndSearch(ctx context.Context, q Query) ([]vectorindex.Neighbor, error) {
	start := time.Now()
	res, err := r.embedder.Embed(ctx, embedding.Request{Text: q.Description, Image: q.Image})
	r.metrics.ObserveExternal(ctx, "embedding", start)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var embeds [][]float32
	if len(res.TextVector) > 0 {
		embeds = append(embeds, res.TextVector)
	}
	if len(res.ImageVector) > 0 {
		embeds = append(embeds, res.ImageVector)
	}
	return r.Neighbors(ctx, embeds, q.Filters, 0)
}
