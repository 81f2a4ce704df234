// Package generation provides text generation services backed by chat
// completion APIs.
package generation

import (
	"context"
	"errors"
	"sync"
)

// ErrEmptyResponse is returned when the model answers with no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Params are the sampling parameters of one generation.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// Call is one recorded MockGenerator invocation.
type Call struct {
	Prompt string
	Params Params
}

// MockGenerator returns scripted responses in order. When the script runs
// out, the last response is repeated.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []Call
}

// NewMockGenerator creates a generator replying with responses.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// NewFailingGenerator creates a generator that always returns err.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{err: err}
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Prompt: prompt, Params: params})
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}

	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// Calls returns the recorded invocations.
func (m *MockGenerator) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ Generator = (*MockGenerator)(nil)
