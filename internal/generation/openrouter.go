package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/domain"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

const (
	openRouterURL        = "https://openrouter.ai/api/v1"
	defaultOpenRouterLLM = "google/gemini-2.5-flash"
)

// OpenRouterGenerator talks to the OpenRouter chat completions endpoint.
type OpenRouterGenerator struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
	logger     *observability.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	TopK        int           `json:"top_k,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenRouterGenerator creates an OpenRouter client.
func NewOpenRouterGenerator(cfg Config, logger *observability.Logger) (*OpenRouterGenerator, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("openrouter API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenRouterLLM
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &OpenRouterGenerator{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryConfig(),
		logger:     logger,
	}, nil
}

// WithRetryConfig replaces the retry policy.
func (g *OpenRouterGenerator) WithRetryConfig(cfg *RetryConfig) *OpenRouterGenerator {
	g.retry = cfg
	return g
}

// Generate implements Generator.
func (g *OpenRouterGenerator) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
	})
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	resp, err := g.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("HTTP-Referer", "https://spherical.ai")
		req.Header.Set("X-Title", "Product Enrichment")

		return g.httpClient.Do(req)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.APIError("Failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", domain.APIError("Failed to decode response", err)
	}
	if len(chat.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return chat.Choices[0].Message.Content, nil
}

var _ Generator = (*OpenRouterGenerator)(nil)
