package embedding

import (
	"context"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// DefaultOpenAIModel is the default OpenAI embeddings model.
const DefaultOpenAIModel = oai.EmbeddingModelTextEmbedding3Small

// OpenAIClient embeds text through the OpenAI embeddings API. It has no
// image modality, so image requests fail with ErrImageUnsupported.
type OpenAIClient struct {
	client    oai.Client
	model     string
	dimension int
}

// NewOpenAIClient creates an OpenAI backed embedder.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embeddings: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &OpenAIClient{
		client:    oai.NewClient(reqOpts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed implements Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, r Request) (*Result, error) {
	if r.Image != nil {
		return nil, ErrImageUnsupported
	}
	if r.Text == "" {
		return nil, ErrEmptyRequest
	}

	resp, err := c.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: c.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(r.Text),
		},
		Dimensions: param.NewOpt(int64(c.dimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return &Result{TextVector: float64ToFloat32(resp.Data[0].Embedding)}, nil
}

// Dimension implements Embedder.
func (c *OpenAIClient) Dimension() int {
	return c.dimension
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

var _ Embedder = (*OpenAIClient)(nil)
