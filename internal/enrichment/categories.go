package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/generation"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/retrieval"
)

// NoMatchingCategories is the single entry of the list returned when
// category filters leave no candidates for ranking.
const NoMatchingCategories = "ERROR: No existing products match that category"

var rankParams = generation.Params{MaxTokens: 256, Temperature: 0}

// CategoryRequest asks for ranked category paths of a new product.
type CategoryRequest struct {
	Description string
	Image       *embedding.ImageInput
	Filters     []string
}

// RankInfo describes how a category answer was produced.
type RankInfo struct {
	Candidates      int
	FallbackApplied bool
	Reason          string
}

// NoMatchSentinel returns the list answered when filters match nothing.
func NoMatchSentinel() [][]string {
	return [][]string{{NoMatchingCategories}}
}

// CategoryCandidates retrieves the category paths of similar products,
// nearest first. Neighbors without a stored path are skipped.
func (s *Service) CategoryCandidates(ctx context.Context, req CategoryRequest) ([][]string, error) {
	neighbors, err := s.search(ctx, req.Description, req.Image, req.Filters)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	paths, err := s.categories.Categories(ctx, neighborIDs(neighbors))
	if err != nil {
		return nil, fmt.Errorf("load candidate categories: %w", err)
	}

	candidates := make([][]string, 0, len(neighbors))
	for _, n := range neighbors {
		id := retrieval.ProductID(n.ID)
		path, ok := paths[id]
		if !ok {
			s.logger.Warn().Str("product_id", id).Msg("No category metadata for neighbor, skipping")
			continue
		}
		candidates = append(candidates, path)
	}
	return candidates, nil
}

// Categories ranks the category paths of similar products by relevance to
// the request. When ranking fails the distinct candidates are returned in
// retrieval order.
func (s *Service) Categories(ctx context.Context, req CategoryRequest) ([][]string, *RankInfo, error) {
	candidates, err := s.CategoryCandidates(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	info := &RankInfo{Candidates: len(candidates)}
	if len(candidates) == 0 {
		if len(req.Filters) > 0 {
			return NoMatchSentinel(), info, nil
		}
		return [][]string{}, info, nil
	}

	distinct := dedupePaths(candidates)
	text, err := s.generate(ctx, RankPrompt(req.Description, distinct), rankParams)
	if err != nil {
		s.logger.Error().Err(err).Msg("Category ranking failed, returning retrieved categories")
		return s.rankFallback(ctx, distinct, info, err.Error()), info, nil
	}

	parsed := ParseRanking(text, len(candidates[0]))
	if !parsed.OK {
		s.logger.Warn().Str("reason", parsed.Reason).Str("response", text).
			Msg("Could not parse category ranking, returning retrieved categories")
		return s.rankFallback(ctx, distinct, info, parsed.Reason), info, nil
	}
	return parsed.Paths, info, nil
}

func (s *Service) rankFallback(ctx context.Context, distinct [][]string, info *RankInfo, reason string) [][]string {
	s.metrics.RecordFallback(ctx, modeCategories)
	info.FallbackApplied = true
	info.Reason = reason
	return distinct
}

// RankPrompt builds the category ranking prompt over distinct paths.
func RankPrompt(description string, paths [][]string) string {
	lines := make([]string, len(paths))
	for i, p := range paths {
		lines[i] = strings.Join(p, "->")
	}
	return "Given the following product description:\n" + description +
		"\n\nRank the following categories from most relevant to least:\n" +
		strings.Join(lines, "\n") +
		"\n\nDo not include any commentary in the result."
}
