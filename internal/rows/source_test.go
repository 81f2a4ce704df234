package rows

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/broker"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

const sampleCSV = "uniq_id,product_name,image,brand\n" +
	`a1,Cycling Shorts,"[""http://img/image/1.jpg""]",Alisha` + "\n" +
	`b2,"Sneakers, Red","[""http://img/image/2.jpg"", ""http://img/image/3.jpg""]",Fuel` + "\n"

func TestCSVSource_Stream(t *testing.T) {
	rows, err := Collect(context.Background(), NewCSVSource(strings.NewReader(sampleCSV)))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "a1", rows[0].Get(catalog.ColUniqID))
	assert.Equal(t, `["http://img/image/1.jpg"]`, rows[0].Get(catalog.ColImage))
	assert.Equal(t, "Sneakers, Red", rows[1].Get(catalog.ColProductName))
	assert.Equal(t, "Fuel", rows[1].Get(catalog.ColBrand))
}

func TestCSVSource_EmptyInput(t *testing.T) {
	rows, err := Collect(context.Background(), NewCSVSource(strings.NewReader("")))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestXLSXSource_Stream(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"uniq_id", "product_name", "retail_price"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"x9", "Kurta", "1299"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	rows, err := Collect(context.Background(), NewXLSXSource(&buf))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x9", rows[0].Get(catalog.ColUniqID))
	assert.Equal(t, "1299", rows[0].Get(catalog.ColRetailPrice))
}

func TestOpen_ByExtension(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o600))
	src, closer, err := Open(csvPath)
	require.NoError(t, err)
	defer closer.Close()
	assert.IsType(t, &CSVSource{}, src)

	txtPath := filepath.Join(dir, "rows.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, _, err = Open(txtPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestBusSource_Stream(t *testing.T) {
	bus := broker.NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewBusSource(bus, "rows", observability.NopLogger())
	out := make(chan catalog.Row, 4)
	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, out) }()

	// wait for the subscription before publishing
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, "rows", map[string]interface{}{"uniq_id": "z1", "retail_price": 499, "brand": nil})
		return len(out) > 0
	}, time.Second, 10*time.Millisecond)

	row := <-out
	assert.Equal(t, "z1", row.Get(catalog.ColUniqID))
	assert.Equal(t, "499", row.Get(catalog.ColRetailPrice))
	_, hasBrand := row[catalog.ColBrand]
	assert.False(t, hasBrand)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestDecodeRow_RejectsNonObject(t *testing.T) {
	_, err := decodeRow([]byte(`["not", "an", "object"]`))
	assert.Error(t, err)
}
