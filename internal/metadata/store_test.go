package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
)

func newTestStore(t *testing.T, opts Options) (*Store, *sql.DB) {
	t.Helper()
	db, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, opts)
	require.NoError(t, store.Migrate(context.Background()))
	return store, db
}

func enrichedProduct(id string, path ...string) *catalog.Product {
	var root *catalog.Category
	if len(path) > 0 {
		root = catalog.NewCategory(path[0])
		node := root
		for _, name := range path[1:] {
			node = node.AddChild(name)
		}
	}
	p := &catalog.Product{
		BusinessKeys: []catalog.BusinessKey{
			{Name: catalog.KeySKU, Value: "SKU-" + id},
			{Name: catalog.KeyOriginID, Value: id},
		},
		Headers: []catalog.ProductHeader{{
			Name:            "Cycling Shorts",
			LongDescription: "Cotton lycra shorts",
			AttributeValues: []catalog.AttributeValue{
				catalog.NewStringAttribute("Fabric", "Cotton Lycra"),
				catalog.NewStringAttribute("Pattern", "Solid"),
			},
		}},
	}
	if root != nil {
		p.Categories = []*catalog.Category{root}
	}
	return p
}

func TestStore_WriteAndRead(t *testing.T) {
	store, _ := newTestStore(t, Options{Levels: 4, Depth: 4, AllowTrailingNulls: true})
	ctx := context.Background()

	warnings, err := store.WriteProduct(ctx, ProductRecord{Status: "success", Product: enrichedProduct("a1", "Clothing", "Women's Clothing", "Shorts")})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	attrs, err := store.Attributes(ctx, []string{"a1", "missing"})
	require.NoError(t, err)
	require.Contains(t, attrs, "a1")
	assert.NotContains(t, attrs, "missing")
	assert.Equal(t, map[string]string{"Fabric": "Cotton Lycra", "Pattern": "Solid"}, attrs["a1"].Attributes)
	assert.Equal(t, "Cotton lycra shorts", attrs["a1"].Description)

	cats, err := store.Categories(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Clothing", "Women's Clothing", "Shorts"}, cats["a1"])

	p, status, err := store.Product(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "success", status)
	assert.Equal(t, "a1", p.OriginID())
}

func TestStore_WriteProductIsIdempotent(t *testing.T) {
	store, db := newTestStore(t, Options{})
	ctx := context.Background()

	p := enrichedProduct("a1", "Clothing")
	_, err := store.WriteProduct(ctx, ProductRecord{Status: "success", Product: p})
	require.NoError(t, err)
	p.Headers[0].LongDescription = "Updated"
	_, err = store.WriteProduct(ctx, ProductRecord{Status: "success", Product: p})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&count))
	assert.Equal(t, 1, count)

	attrs, err := store.Attributes(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, "Updated", attrs["a1"].Description)
}

func TestStore_WriteProductWarnings(t *testing.T) {
	store, _ := newTestStore(t, Options{Levels: 2})
	p := enrichedProduct("a1", "Clothing", "Women's Clothing", "Shorts")
	p.Headers[0].AttributeValues = nil
	p.Headers[0].LongDescription = ""

	warnings, err := store.WriteProduct(context.Background(), ProductRecord{Status: "success", Product: p})
	require.NoError(t, err)
	assert.Len(t, warnings, 3)

	noCategory := enrichedProduct("b2")
	warnings, err = store.WriteProduct(context.Background(), ProductRecord{Status: "success", Product: noCategory})
	require.NoError(t, err)
	assert.Equal(t, []string{"product b2 has no top level category"}, warnings)
}

func TestStore_WriteProductRejectsMissingID(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	_, err := store.WriteProduct(context.Background(), ProductRecord{Product: &catalog.Product{}})
	assert.Error(t, err)
	_, err = store.WriteProduct(context.Background(), ProductRecord{})
	assert.Error(t, err)
}

func TestStore_AttributesInvalidJSONDegradesToEmpty(t *testing.T) {
	store, db := newTestStore(t, Options{})
	ctx := context.Background()
	_, err := store.WriteProduct(ctx, ProductRecord{Product: enrichedProduct("a1", "Clothing")})
	require.NoError(t, err)
	_, err = store.WriteProduct(ctx, ProductRecord{Product: enrichedProduct("b2", "Clothing")})
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE products SET attributes = 'not json' WHERE id = 'a1'`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE products SET attributes = 'null' WHERE id = 'b2'`)
	require.NoError(t, err)

	attrs, err := store.Attributes(ctx, []string{"a1", "b2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{}, attrs["a1"].Attributes)
	assert.Equal(t, map[string]string{}, attrs["b2"].Attributes)
}

func TestStore_CategoriesDepthTruncates(t *testing.T) {
	store, _ := newTestStore(t, Options{Levels: 4, Depth: 2, AllowTrailingNulls: true})
	ctx := context.Background()
	_, err := store.WriteProduct(ctx, ProductRecord{Product: enrichedProduct("a1", "Clothing", "Women's Clothing", "Shorts", "Cycling")})
	require.NoError(t, err)

	cats, err := store.Categories(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Clothing", "Women's Clothing"}, cats["a1"])
}

func TestStore_CategoriesNullHandling(t *testing.T) {
	ctx := context.Background()

	strict, _ := newTestStore(t, Options{Levels: 3, AllowTrailingNulls: false})
	_, err := strict.WriteProduct(ctx, ProductRecord{Product: enrichedProduct("a1", "Clothing")})
	require.NoError(t, err)
	cats, err := strict.Categories(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.NotContains(t, cats, "a1")

	lenient, _ := newTestStore(t, Options{Levels: 3, AllowTrailingNulls: true})
	_, err = lenient.WriteProduct(ctx, ProductRecord{Product: enrichedProduct("b2")})
	require.NoError(t, err)
	cats, err = lenient.Categories(ctx, []string{"b2"})
	require.NoError(t, err)
	assert.NotContains(t, cats, "b2")
}

func TestStore_CategoriesSkipsRootlessProducts(t *testing.T) {
	store, _ := newTestStore(t, Options{Levels: 4, Depth: 4, AllowTrailingNulls: true})
	ctx := context.Background()
	normalizer := catalog.NewNormalizer(catalog.DefaultNormalizerConfig())

	rows := []catalog.Row{
		{
			catalog.ColUniqID:       "good",
			catalog.ColProductName:  "Crew Neck Tee",
			catalog.ColCategoryTree: `["Men >> Tops"]`,
			catalog.ColImage:        `["http://img5a.flixcart.com/image/top/good.jpeg"]`,
			catalog.ColDescription:  "Cotton tee",
			catalog.ColBrand:        "Basics",
		},
		{
			// the brand token empties the root segment
			catalog.ColUniqID:       "bad",
			catalog.ColProductName:  "Fuel Shirt",
			catalog.ColCategoryTree: `["Fuel Shirts >> Tops"]`,
			catalog.ColImage:        `["http://img5a.flixcart.com/image/top/bad.jpeg"]`,
			catalog.ColDescription:  "Printed shirt",
			catalog.ColBrand:        "Fuel",
		},
	}
	for _, row := range rows {
		p, _ := normalizer.Normalize(row, false)
		require.NotNil(t, p)
		_, err := store.WriteProduct(ctx, ProductRecord{Status: "success", Product: p})
		require.NoError(t, err)
	}

	cats, err := store.Categories(ctx, []string{"good", "bad"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Men", "Tops"}, cats["good"])
	assert.NotContains(t, cats, "bad")
}

func TestJoinCategoryPath(t *testing.T) {
	v := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
	null := sql.NullString{}

	path, err := joinCategoryPath([]sql.NullString{v("A"), v("B"), null, v("D")}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, path)

	_, err = joinCategoryPath([]sql.NullString{v("A"), null}, false)
	assert.ErrorIs(t, err, ErrNullCategoryPart)

	_, err = joinCategoryPath([]sql.NullString{null, v("B")}, true)
	assert.ErrorIs(t, err, ErrNullTopCategory)
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	ctx := context.Background()
	_, err := store.WriteProduct(ctx, ProductRecord{Product: enrichedProduct("a1", "Clothing")})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "a1"))
	_, _, err = store.Product(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}
