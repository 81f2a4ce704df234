package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force in-memory index using cosine distance. It is
// meant for development, tests and small catalogs.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]indexedPoint
}

type indexedPoint struct {
	restricts []Restrict
	vector    []float32
}

// NewMemoryIndex creates an empty index. A zero dimension is taken from the
// first upserted vector.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		points:    make(map[string]indexedPoint),
	}
}

// Upsert implements Index.
func (m *MemoryIndex) Upsert(ctx context.Context, dp Datapoint) error {
	if dp.ID == "" {
		return fmt.Errorf("datapoint id is required")
	}
	if len(dp.Vector) == 0 {
		return fmt.Errorf("datapoint %s has an empty vector", dp.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension == 0 {
		m.dimension = len(dp.Vector)
	}
	if len(dp.Vector) != m.dimension {
		return fmt.Errorf("%w: expected %d, got %d for id %s", ErrDimensionMismatch, m.dimension, len(dp.Vector), dp.ID)
	}

	restricts := make([]Restrict, len(dp.Restricts))
	copy(restricts, dp.Restricts)
	m.points[dp.ID] = indexedPoint{
		restricts: restricts,
		vector:    normalizeVector(dp.Vector),
	}
	return nil
}

// Remove implements Index.
func (m *MemoryIndex) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

// Query implements Index.
func (m *MemoryIndex) Query(ctx context.Context, vectors [][]float32, k int, restricts []Restrict) ([][]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]Neighbor, len(vectors))
	for i, v := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.dimension != 0 && len(v) != m.dimension {
			return nil, fmt.Errorf("%w: query %d has %d dimensions, index has %d", ErrDimensionMismatch, i, len(v), m.dimension)
		}
		out[i] = m.search(normalizeVector(v), k, restricts)
	}
	return out, nil
}

func (m *MemoryIndex) search(query []float32, k int, restricts []Restrict) []Neighbor {
	results := make([]Neighbor, 0, len(m.points))
	for id, p := range m.points {
		if !Matches(p.restricts, restricts) {
			continue
		}
		results = append(results, Neighbor{ID: id, Distance: cosineDistance(query, p.vector)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].ID < results[j].ID
		}
		return results[i].Distance < results[j].Distance
	})

	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results
}

// Len returns the number of stored datapoints.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Close implements Index.
func (m *MemoryIndex) Close() error {
	return nil
}

// cosineDistance computes cosine distance between two normalized vectors.
func cosineDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	// Clamp to [-1, 1] range due to floating point errors
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}

	return 1 - dot
}

func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	normalized := make([]float32, len(v))
	if norm == 0 {
		copy(normalized, v)
		return normalized
	}
	for i, x := range v {
		normalized[i] = float32(float64(x) / norm)
	}
	return normalized
}

var _ Index = (*MemoryIndex)(nil)
