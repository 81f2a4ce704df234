package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/generation"
)

var marketingParams = generation.Params{MaxTokens: 1024, Temperature: 0.5}

// MarketingRequest asks for marketing copy of a product.
type MarketingRequest struct {
	Description string
	Attributes  []Attribute
}

// MarketingCopy writes a product description from the given description and
// attributes.
func (s *Service) MarketingCopy(ctx context.Context, req MarketingRequest) (string, error) {
	text, err := s.generate(ctx, MarketingPrompt(req), marketingParams)
	if err != nil {
		return "", fmt.Errorf("generate marketing copy: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// MarketingPrompt renders one "name: value" line per attribute.
func MarketingPrompt(req MarketingRequest) string {
	lines := make([]string, len(req.Attributes))
	for i, a := range req.Attributes {
		lines[i] = a.Name + ": " + a.Value
	}
	return "Generate a compelling and accurate product description for a product with the following description and attributes.\n\n" +
		"Description:\n" + req.Description +
		"\n\nAttributes:\n" + strings.Join(lines, "\n")
}
