package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/generation"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/retrieval"
)

// NoMatchingAttributes is the error text returned when category filters
// leave no candidates for attribute generation.
const NoMatchingAttributes = "ERROR: no existing products match that category"

var attributeParams = generation.Params{MaxTokens: 256, Temperature: 0}

// AttributeRequest asks for attributes of a new product.
type AttributeRequest struct {
	Description string
	Image       *embedding.ImageInput
	Filters     []string
}

// AttributeResult is the answer to an AttributeRequest. Error is set instead
// of Attributes when no catalog product matched the filters.
type AttributeResult struct {
	Attributes      []Attribute
	Error           string
	FallbackApplied bool
}

// AttributeCandidate is a retrieved catalog product used as a few-shot
// example.
type AttributeCandidate struct {
	ID          string
	Distance    float64
	Description string
	Attributes  map[string]string
}

// AttributeCandidates retrieves similar products joined with their stored
// attributes, nearest first. Neighbors without a stored record are skipped.
func (s *Service) AttributeCandidates(ctx context.Context, req AttributeRequest) ([]AttributeCandidate, error) {
	neighbors, err := s.search(ctx, req.Description, req.Image, req.Filters)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	records, err := s.attributes.Attributes(ctx, neighborIDs(neighbors))
	if err != nil {
		return nil, fmt.Errorf("load candidate attributes: %w", err)
	}

	candidates := make([]AttributeCandidate, 0, len(neighbors))
	for _, n := range neighbors {
		id := retrieval.ProductID(n.ID)
		rec, ok := records[id]
		if !ok {
			s.logger.Warn().Str("product_id", id).Msg("No attribute metadata for neighbor, skipping")
			continue
		}
		candidates = append(candidates, AttributeCandidate{
			ID:          id,
			Distance:    n.Distance,
			Description: rec.Description,
			Attributes:  rec.Attributes,
		})
	}
	return candidates, nil
}

// Attributes generates attributes for the request from similar catalog
// products. A generation error or an unparsable answer returns the nearest
// candidate's attributes.
func (s *Service) Attributes(ctx context.Context, req AttributeRequest) (*AttributeResult, error) {
	candidates, err := s.AttributeCandidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(req.Filters) > 0 && len(candidates) == 0 {
		return &AttributeResult{Error: NoMatchingAttributes}, nil
	}

	prompt := AttributePrompt(req.Description, candidates)
	text, err := s.generate(ctx, prompt, attributeParams)
	if err != nil {
		s.logger.Error().Err(err).Msg("Attribute generation failed, falling back to nearest candidate")
		return s.attributeFallback(ctx, candidates), nil
	}

	parsed := ParseAttributes(text)
	if !parsed.OK {
		s.logger.Warn().Str("reason", parsed.Reason).Str("response", text).
			Msg("Could not parse generated attributes, falling back to nearest candidate")
		return s.attributeFallback(ctx, candidates), nil
	}
	return &AttributeResult{Attributes: parsed.Attributes}, nil
}

func (s *Service) attributeFallback(ctx context.Context, candidates []AttributeCandidate) *AttributeResult {
	s.metrics.RecordFallback(ctx, modeAttributes)
	res := &AttributeResult{Attributes: []Attribute{}, FallbackApplied: true}
	if len(candidates) > 0 {
		res.Attributes = sortedAttributes(candidates[0].Attributes)
	}
	return res
}

// AttributePrompt builds the few-shot attribute prompt.
func AttributePrompt(description string, candidates []AttributeCandidate) string {
	var examples strings.Builder
	for _, c := range candidates {
		pairs := sortedAttributes(c.Attributes)
		rendered := make([]string, len(pairs))
		for i, p := range pairs {
			rendered[i] = p.Name + ":" + p.Value
		}
		examples.WriteString("Description: " + c.Description + "\nAttributes:\n")
		examples.WriteString(strings.Join(rendered, "|"))
		examples.WriteString("\n\n")
	}

	return "Here are examples of Product Descriptions followed by Attributes:\n\n" +
		examples.String() +
		"\n\nINSTRUCTIONS:\n" +
		"Generate attributes based on the description below.\n" +
		"Each attribute should be a key:value pair.\n" +
		"Do not write any values that contain \"NA\" on the list. Examples \"Material: NA\" or \"Type: NA\"\n" +
		"Use a pipe separator \"|\" to separate attributes.\n\n" +
		"Description: " + description + "\nAttributes:"
}
