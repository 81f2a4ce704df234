package generation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIModel is the default chat model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator generates text through OpenAI chat completions.
type OpenAIGenerator struct {
	client oai.Client
	model  string
}

// Config holds generator configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewOpenAIGenerator creates an OpenAI backed generator.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai generation: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
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

	return &OpenAIGenerator{client: oai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// Generate implements Generator. TopK has no chat completions equivalent
// and is ignored.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.model),
		Messages:    []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
		Temperature: param.NewOpt(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.MaxTokens))
	}
	if p.TopP > 0 {
		params.TopP = param.NewOpt(p.TopP)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai generation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Generator = (*OpenAIGenerator)(nil)
