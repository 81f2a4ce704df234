// Package enrichment generates product attributes, category rankings and
// marketing copy from similar catalog products. Generated answers that
// cannot be parsed fall back to what retrieval found.
package enrichment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/generation"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/metadata"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/vectorindex"
)

// Searcher finds index neighbors of a query product.
type Searcher interface {
	EmbedAndSearch(ctx context.Context, q retrieval.Query) ([]vectorindex.Neighbor, error)
}

// Fallback modes recorded in metrics.
const (
	modeAttributes = "attributes"
	modeCategories = "categories"
)

// Service runs the retrieve, generate and fall back protocol.
type Service struct {
	searcher   Searcher
	attributes metadata.AttributeStore
	categories metadata.CategoryStore
	generator  generation.Generator
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Deps are the collaborators of a Service.
type Deps struct {
	Searcher   Searcher
	Attributes metadata.AttributeStore
	Categories metadata.CategoryStore
	Generator  generation.Generator
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		searcher:   d.Searcher,
		attributes: d.Attributes,
		categories: d.Categories,
		generator:  d.Generator,
		logger:     logger.WithOperation("enrichment"),
		metrics:    d.Metrics,
	}
}

// neighborIDs returns the distinct product ids behind the neighbors in
// first-seen order.
func neighborIDs(neighbors []vectorindex.Neighbor) []string {
	seen := make(map[string]struct{}, len(neighbors))
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		id := retrieval.ProductID(n.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// sortByDistance orders neighbors nearest first, keeping retrieval order
// between equal distances.
func sortByDistance(neighbors []vectorindex.Neighbor) []vectorindex.Neighbor {
	out := append([]vectorindex.Neighbor(nil), neighbors...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

func (s *Service) search(ctx context.Context, description string, image *embedding.ImageInput, filters []string) ([]vectorindex.Neighbor, error) {
	neighbors, err := s.searcher.EmbedAndSearch(ctx, retrieval.Query{
		Description: description,
		Image:       image,
		Filters:     filters,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	return sortByDistance(neighbors), nil
}

func (s *Service) generate(ctx context.Context, prompt string, params generation.Params) (string, error) {
	start := time.Now()
	out, err := s.generator.Generate(ctx, prompt, params)
	s.metrics.ObserveExternal(ctx, "generation", start)
	return out, err
}
