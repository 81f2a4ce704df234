package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clothing(tokens ...string) []Restrict {
	return []Restrict{{Namespace: "L0", AllowList: tokens}}
}

func TestMatches(t *testing.T) {
	dp := []Restrict{{Namespace: "L0", AllowList: []string{"Clothing"}}, {Namespace: "L1", AllowList: []string{"Women's Clothing"}}}

	assert.True(t, Matches(dp, nil))
	assert.True(t, Matches(dp, clothing("Footwear", "Clothing")))
	assert.False(t, Matches(dp, clothing("Footwear")))
	assert.True(t, Matches(dp, []Restrict{{Namespace: "L0", AllowList: []string{"Clothing"}}, {Namespace: "L1", AllowList: []string{"Women's Clothing"}}}))
	assert.False(t, Matches(dp, []Restrict{{Namespace: "L2", AllowList: []string{"Shorts"}}}))
	assert.False(t, Matches(nil, clothing("Clothing")))
}

func TestMemoryIndex_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "a_T", Vector: []float32{1, 0}, Restricts: clothing("Clothing")}))
	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "b_T", Vector: []float32{0.7, 0.7}, Restricts: clothing("Clothing")}))
	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "c_T", Vector: []float32{0, 1}, Restricts: clothing("Footwear")}))

	res, err := idx.Query(ctx, [][]float32{{1, 0}, {0, 2}}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)

	require.Len(t, res[0], 2)
	assert.Equal(t, "a_T", res[0][0].ID)
	assert.InDelta(t, 0, res[0][0].Distance, 1e-6)
	assert.Equal(t, "b_T", res[0][1].ID)

	assert.Equal(t, "c_T", res[1][0].ID)
}

func TestMemoryIndex_QueryRespectsRestricts(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)

	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "a_T", Vector: []float32{1, 0}, Restricts: clothing("Clothing")}))
	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "c_T", Vector: []float32{1, 0}, Restricts: clothing("Footwear")}))

	res, err := idx.Query(ctx, [][]float32{{1, 0}}, 10, clothing("Footwear"))
	require.NoError(t, err)
	require.Len(t, res[0], 1)
	assert.Equal(t, "c_T", res[0][0].ID)

	res, err = idx.Query(ctx, [][]float32{{1, 0}}, 10, clothing("Jewellery"))
	require.NoError(t, err)
	assert.Empty(t, res[0])
}

func TestMemoryIndex_UpsertReplacesAndRemoveDeletes(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "a_T", Vector: []float32{1, 0}, Restricts: clothing("Clothing")}))
	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "a_T", Vector: []float32{0, 1}, Restricts: clothing("Footwear")}))
	assert.Equal(t, 1, idx.Len())

	res, err := idx.Query(ctx, [][]float32{{0, 1}}, 1, clothing("Footwear"))
	require.NoError(t, err)
	require.Len(t, res[0], 1)
	assert.InDelta(t, 0, res[0][0].Distance, 1e-6)

	require.NoError(t, idx.Remove(ctx, "a_T"))
	require.NoError(t, idx.Remove(ctx, "missing"))
	assert.Equal(t, 0, idx.Len())
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	err := idx.Upsert(ctx, Datapoint{ID: "a_T", Vector: []float32{1, 0, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Query(ctx, [][]float32{{1}}, 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryIndex_UpsertCopiesInput(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)

	vec := []float32{1, 0}
	restricts := clothing("Clothing")
	require.NoError(t, idx.Upsert(ctx, Datapoint{ID: "a_T", Vector: vec, Restricts: restricts}))
	vec[0], vec[1] = 0, 1
	restricts[0].Namespace = "L9"

	res, err := idx.Query(ctx, [][]float32{{1, 0}}, 1, clothing("Clothing"))
	require.NoError(t, err)
	require.Len(t, res[0], 1)
	assert.InDelta(t, 0, res[0][0].Distance, 1e-6)
}

func TestRestrictMap(t *testing.T) {
	m := restrictMap([]Restrict{
		{Namespace: "L0", AllowList: []string{"Clothing"}},
		{Namespace: "L0", AllowList: []string{"Apparel"}},
		{Namespace: "L1", AllowList: []string{"Shorts"}},
	})
	assert.Equal(t, map[string][]string{"L0": {"Clothing", "Apparel"}, "L1": {"Shorts"}}, m)
}

func TestPGVectorIndex_SearchQuery(t *testing.T) {
	p := &PGVectorIndex{table: `"product_vectors"`, dimension: 2}

	q, args := p.searchQuery([]float32{1, 0}, 5, clothing("Clothing"))
	assert.Contains(t, q, `FROM   "product_vectors"`)
	assert.Contains(t, q, "(restricts -> $2::text) ?| $3::text[]")
	assert.Contains(t, q, "LIMIT  $4")
	require.Len(t, args, 4)
	assert.Equal(t, "L0", args[1])
	assert.Equal(t, []string{"Clothing"}, args[2])
	assert.Equal(t, 5, args[3])

	q, args = p.searchQuery([]float32{1, 0}, 3, nil)
	assert.NotContains(t, q, "WHERE")
	assert.Len(t, args, 2)
}

func TestPGVectorIndex_SearchQueryOrdersByOperator(t *testing.T) {
	p := &PGVectorIndex{table: `"product_vectors"`, dimension: 2}

	// The HNSW index only serves ORDER BY on the bare distance operator.
	q, _ := p.searchQuery([]float32{1, 0}, 5, clothing("Clothing"))
	assert.Contains(t, q, "ORDER  BY embedding <=> $1\n")
	assert.NotContains(t, q, "distance, id")
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, `"idx_product_vectors_embedding"`, indexName(`"product_vectors"`, "embedding"))
}
