package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/domain"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestOpenRouterGenerator_Generate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-or-test", r.Header.Get("Authorization"))
		assert.Equal(t, "Product Enrichment", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"Color:Red|Material:Cotton"}}]}`))
	}))
	defer server.Close()

	g, err := NewOpenRouterGenerator(Config{APIKey: "sk-or-test", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "describe", Params{MaxTokens: 256, Temperature: 0, TopK: 40})
	require.NoError(t, err)
	assert.Equal(t, "Color:Red|Material:Cotton", out)

	assert.Equal(t, defaultOpenRouterLLM, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "describe", got.Messages[0].Content)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, 40, got.TopK)
}

func TestOpenRouterGenerator_RetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	g, err := NewOpenRouterGenerator(Config{APIKey: "k", BaseURL: server.URL}, observability.NopLogger())
	require.NoError(t, err)
	g.WithRetryConfig(fastRetry())

	out, err := g.Generate(context.Background(), "p", Params{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenRouterGenerator_NonRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	g, err := NewOpenRouterGenerator(Config{APIKey: "k", BaseURL: server.URL}, nil)
	require.NoError(t, err)
	g.WithRetryConfig(fastRetry())

	_, err = g.Generate(context.Background(), "p", Params{})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeAPI))
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenRouterGenerator_GivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g, err := NewOpenRouterGenerator(Config{APIKey: "k", BaseURL: server.URL}, nil)
	require.NoError(t, err)
	g.WithRetryConfig(fastRetry())

	_, err = g.Generate(context.Background(), "p", Params{})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenRouterGenerator_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	g, err := NewOpenRouterGenerator(Config{APIKey: "k", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p", Params{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewOpenRouterGenerator(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantModel string
		wantError bool
	}{
		{name: "default model", cfg: Config{APIKey: "sk-or-test"}, wantModel: defaultOpenRouterLLM},
		{name: "custom model", cfg: Config{APIKey: "sk-or-test", Model: "google/gemini-2.5-pro"}, wantModel: "google/gemini-2.5-pro"},
		{name: "empty api key", cfg: Config{}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewOpenRouterGenerator(tt.cfg, nil)
			if tt.wantError {
				assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, g.model)
			assert.Equal(t, openRouterURL, g.baseURL)
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, time.Second, calculateBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 30*time.Second, calculateBackoff(10, cfg))
}

func TestShouldRetry(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, shouldRetry(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 404} {
		assert.False(t, shouldRetry(code), "status %d", code)
	}
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Great shorts."}}]}`))
	}))
	defer server.Close()

	g, err := NewOpenAIGenerator(Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "write copy", Params{MaxTokens: 1024, Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "Great shorts.", out)
	assert.Equal(t, 0.5, body["temperature"])
	assert.Equal(t, float64(1024), body["max_completion_tokens"])
}

func TestOpenAIGenerator_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIGenerator(Config{})
	assert.Error(t, err)
}

func TestMockGenerator(t *testing.T) {
	g := NewMockGenerator("first", "second")
	ctx := context.Background()

	out, _ := g.Generate(ctx, "a", Params{MaxTokens: 1})
	assert.Equal(t, "first", out)
	out, _ = g.Generate(ctx, "b", Params{})
	assert.Equal(t, "second", out)
	out, _ = g.Generate(ctx, "c", Params{})
	assert.Equal(t, "second", out)

	calls := g.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].Prompt)
	assert.Equal(t, 1, calls[0].Params.MaxTokens)

	failing := NewFailingGenerator(errors.New("quota"))
	_, err := failing.Generate(ctx, "x", Params{})
	assert.EqualError(t, err, "quota")
}
