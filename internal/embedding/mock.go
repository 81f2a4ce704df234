package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockClient generates deterministic embeddings from a hash of the input.
// Equal inputs always map to equal vectors, which is enough for dry runs and
// tests that exercise retrieval ordering.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock embedder.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 16
	}
	return &MockClient{dimension: dimension}
}

// Embed implements Embedder.
func (m *MockClient) Embed(ctx context.Context, r Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Text == "" && r.Image == nil {
		return nil, ErrEmptyRequest
	}

	result := &Result{TextVector: m.vector("text:" + strings.ToLower(r.Text))}
	if r.Image != nil {
		key := r.Image.URI
		if key == "" {
			key = string(r.Image.Bytes)
		}
		result.ImageVector = m.vector("image:" + key)
	}
	return result, nil
}

// Dimension implements Embedder.
func (m *MockClient) Dimension() int {
	return m.dimension
}

func (m *MockClient) vector(seed string) []float32 {
	vec := make([]float32, m.dimension)
	var norm float64
	for i := range vec {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(seed))
		v := float64(h.Sum32())/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

var _ Embedder = (*MockClient)(nil)
