// Package embedding provides multimodal embedding generation services.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrImageUnsupported is returned by embedders that only handle text.
var ErrImageUnsupported = errors.New("embedder does not support image input")

// ErrEmptyRequest is returned when a request carries neither text nor image.
var ErrEmptyRequest = errors.New("embedding request has no text or image")

// ImageInput references an image either by durable URI or inline bytes.
type ImageInput struct {
	URI   string
	Bytes []byte
}

// Request asks for embeddings of a text and an optional image. Both vectors
// share one embedding space.
type Request struct {
	Text  string
	Image *ImageInput
}

// Result holds the produced vectors. ImageVector is nil when the request
// had no image.
type Result struct {
	TextVector  []float32
	ImageVector []float32
}

// Embedder produces embeddings.
type Embedder interface {
	Embed(ctx context.Context, req Request) (*Result, error)
	Dimension() int
}

// Config holds embedding client configuration.
type Config struct {
	APIKey    string
	Model     string // e.g., "multimodalembedding@001"
	BaseURL   string
	Dimension int // Default: 1408
	Timeout   time.Duration
}

// HTTPClient calls a multimodal embedding endpoint over JSON.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
}

// NewHTTPClient creates a multimodal embedding client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.Model == "" {
		cfg.Model = "multimodalembedding@001"
	}

	if cfg.Dimension <= 0 {
		cfg.Dimension = 1408
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
	}, nil
}

type multimodalRequest struct {
	Model     string               `json:"model"`
	Dimension int                  `json:"dimension"`
	Instances []multimodalInstance `json:"instances"`
}

type multimodalInstance struct {
	Text  string           `json:"text,omitempty"`
	Image *multimodalImage `json:"image,omitempty"`
}

type multimodalImage struct {
	URI                string `json:"gcsUri,omitempty"`
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
}

type multimodalResponse struct {
	Predictions []struct {
		TextEmbedding  []float32 `json:"textEmbedding"`
		ImageEmbedding []float32 `json:"imageEmbedding"`
	} `json:"predictions"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Embed generates text and image embeddings in one call.
func (c *HTTPClient) Embed(ctx context.Context, r Request) (*Result, error) {
	if r.Text == "" && r.Image == nil {
		return nil, ErrEmptyRequest
	}

	instance := multimodalInstance{Text: r.Text}
	if r.Image != nil {
		instance.Image = &multimodalImage{URI: r.Image.URI}
		if len(r.Image.Bytes) > 0 {
			instance.Image.BytesBase64Encoded = base64.StdEncoding.EncodeToString(r.Image.Bytes)
		}
	}

	jsonBody, err := json.Marshal(multimodalRequest{
		Model:     c.model,
		Dimension: c.dimension,
		Instances: []multimodalInstance{instance},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings/multimodal", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp multimodalResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("API error: %s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var embResp multimodalResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(embResp.Predictions) == 0 {
		return nil, fmt.Errorf("API returned no predictions")
	}

	pred := embResp.Predictions[0]
	result := &Result{TextVector: pred.TextEmbedding}
	if r.Image != nil {
		if len(pred.ImageEmbedding) == 0 {
			return nil, fmt.Errorf("API returned no image embedding")
		}
		result.ImageVector = pred.ImageEmbedding
	}
	return result, nil
}

// Dimension returns the embedding dimension.
func (c *HTTPClient) Dimension() int {
	return c.dimension
}

// Model returns the model name.
func (c *HTTPClient) Model() string {
	return c.model
}

var _ Embedder = (*HTTPClient)(nil)
