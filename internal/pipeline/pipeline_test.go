package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/broker"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/materialize"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/metadata"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/objectstore"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/vectorindex"
)

type sliceSource []catalog.Row

func (s sliceSource) Stream(ctx context.Context, out chan<- catalog.Row) error {
	for _, r := range s {
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type failingWriter struct{}

func (failingWriter) WriteProduct(ctx context.Context, rec metadata.ProductRecord) ([]string, error) {
	return nil, errors.New("disk full")
}

type failingIndex struct{}

func (failingIndex) UpsertVectors(ctx context.Context, productID string, text, image []float32, categories []string) error {
	return errors.New("index unavailable")
}

type panickingImages struct{}

func (panickingImages) Materialize(ctx context.Context, p *catalog.Product) error {
	panic("boom")
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, r embedding.Request) (*embedding.Result, error) {
	return nil, errors.New("quota exceeded")
}

func (failingEmbedder) Dimension() int { return 4 }

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/image/ok") {
			_, _ = w.Write([]byte("jpeg-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func rawRow(id, image string) catalog.Row {
	return catalog.Row{
		catalog.ColUniqID:                id,
		catalog.ColProductName:           "Alisha Solid Women's Cycling Shorts",
		catalog.ColCategoryTree:          `["Clothing >> Women's Clothing >> Shorts"]`,
		catalog.ColPID:                   "SRTEH2FF9KEDEFGF",
		catalog.ColRetailPrice:           "999",
		catalog.ColImage:                 image,
		catalog.ColDescription:           "Cotton lycra cycling shorts",
		catalog.ColBrand:                 "Alisha",
		catalog.ColProductSpecifications: `{"product_specification"=>[{"key"=>"Fabric", "value"=>"Cotton Lycra"}]}`,
	}
}

func newMetadataStore(t *testing.T) *metadata.Store {
	t.Helper()
	db, err := metadata.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store := metadata.NewStore(db, metadata.Options{Levels: 4, Depth: 4, AllowTrailingNulls: true})
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

type fixture struct {
	fs     afero.Fs
	store  *metadata.Store
	index  *vectorindex.MemoryIndex
	sink   *MemorySink
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		fs:     afero.NewMemMapFs(),
		store:  newMetadataStore(t),
		index:  vectorindex.NewMemoryIndex(0),
		sink:   &MemorySink{},
		server: imageServer(t),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Images:   materialize.New(objectstore.NewFSStore(f.fs, "/bucket"), materialize.Config{}, nil),
		Embedder: embedding.NewMockClient(8),
		Writer:   f.store,
		Index:    retrieval.NewIndexer(nil, f.index, "L0", nil),
		Sink:     f.sink,
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t)
	p := New(Config{Workers: 2}, f.deps())

	imageURL := f.server.URL + "/image/ok/shorts.jpeg"
	res, err := p.Run(context.Background(), sliceSource{rawRow("c2d766ca", `["`+imageURL+`"]`)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Read)
	assert.Equal(t, int64(1), res.Parsed)
	assert.Equal(t, int64(1), res.Written)
	assert.Zero(t, res.Failed())
	assert.NotEqual(t, "", res.JobID.String())

	product, status, err := f.store.Product(context.Background(), "c2d766ca")
	require.NoError(t, err)
	assert.Equal(t, "success", status)
	assert.NotEmpty(t, product.TextEmbedding)
	assert.NotEmpty(t, product.ImageEmbedding)

	img := product.PrimaryImage()
	require.NotNil(t, img)
	assert.Equal(t, "file:///bucket/images/c2d766ca.jpg", img.URL)
	assert.Equal(t, imageURL, img.OriginURL)

	data, err := afero.ReadFile(f.fs, "/bucket/images/c2d766ca.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	assert.Equal(t, 2, f.index.Len(), "text and image datapoints are indexed")
	hits, err := f.index.Query(context.Background(), [][]float32{product.TextEmbedding}, 1,
		[]vectorindex.Restrict{{Namespace: "L0", AllowList: []string{"Clothing"}}})
	require.NoError(t, err)
	require.Len(t, hits[0], 1)
	assert.Equal(t, "c2d766ca_T", hits[0][0].ID)
}

func TestPipeline_RerunOverwrites(t *testing.T) {
	f := newFixture(t)
	p := New(Config{Workers: 1}, f.deps())
	row := rawRow("c2d766ca", `["`+f.server.URL+`/image/ok/a.jpeg"]`)

	for i := 0; i < 2; i++ {
		res, err := p.Run(context.Background(), sliceSource{row})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Written)
	}

	files, err := afero.ReadDir(f.fs, "/bucket/images")
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, 2, f.index.Len())
}

func TestPipeline_PartitionsFailures(t *testing.T) {
	f := newFixture(t)
	p := New(Config{Workers: 3}, f.deps())

	res, err := p.Run(context.Background(), sliceSource{
		rawRow("ok-1", `["`+f.server.URL+`/image/ok/1.jpeg"]`),
		rawRow("missing", `["`+f.server.URL+`/image/gone.jpeg"]`),
		rawRow("no-images", `[]`),
		rawRow("", `["`+f.server.URL+`/image/ok/2.jpeg"]`),
		rawRow("ok-2", `["`+f.server.URL+`/image/ok/3.jpeg"]`),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Read)
	assert.Equal(t, int64(1), res.Rejected)
	assert.Equal(t, int64(1), res.ParseFailed)
	assert.Equal(t, int64(1), res.ImageFailed)
	assert.Equal(t, int64(2), res.Written)

	records := f.sink.Records()
	require.Len(t, records, 2)
	sort.Slice(records, func(i, j int) bool { return records[i].Stage < records[j].Stage })
	assert.Equal(t, StageImage, records[0].Stage)
	assert.Equal(t, "missing", records[0].ProductID)
	assert.Equal(t, "failed to download image from "+f.server.URL+"/image/gone.jpeg", records[0].Message)
	assert.Equal(t, StageParse, records[1].Stage)
	assert.Equal(t, "failure", records[1].Status)
	assert.Equal(t, res.JobID.String(), records[1].JobID)

	_, _, err = f.store.Product(context.Background(), "missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestPipeline_EmbedAndWriteFailures(t *testing.T) {
	f := newFixture(t)
	row := rawRow("c2d766ca", `["`+f.server.URL+`/image/ok/a.jpeg"]`)

	d := f.deps()
	d.Embedder = failingEmbedder{}
	res, err := New(Config{}, d).Run(context.Background(), sliceSource{row})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.EmbedFailed)
	assert.Contains(t, f.sink.Records()[0].Message, "quota exceeded")

	d = f.deps()
	d.Writer = failingWriter{}
	res, err = New(Config{}, d).Run(context.Background(), sliceSource{row})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.WriteFailed)
	assert.Zero(t, res.Written)
}

func TestPipeline_IndexFailureLeavesNoSuccessRow(t *testing.T) {
	f := newFixture(t)
	d := f.deps()
	d.Index = failingIndex{}

	res, err := New(Config{}, d).Run(context.Background(), sliceSource{
		rawRow("c2d766ca", `["`+f.server.URL+`/image/ok/a.jpeg"]`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.WriteFailed)
	assert.Zero(t, res.Written)

	records := f.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StageWrite, records[0].Stage)
	assert.Equal(t, "failure", records[0].Status)
	assert.Contains(t, records[0].Message, "index unavailable")

	_, _, err = f.store.Product(context.Background(), "c2d766ca")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestPipeline_StagePanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	d := f.deps()
	d.Images = panickingImages{}

	res, err := New(Config{}, d).Run(context.Background(), sliceSource{
		rawRow("c2d766ca", `["`+f.server.URL+`/image/ok/a.jpeg"]`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ImageFailed)
	assert.Contains(t, f.sink.Records()[0].Message, "boom")
}

func TestPipeline_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{}, f.deps()).Run(ctx, sliceSource{rawRow("a", `["x"]`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPartition_RoutesByTag(t *testing.T) {
	in := make(chan Envelope, 4)
	in <- Success(StageParse, nil)
	in <- Failure(StageParse, nil, "bad")
	in <- Envelope{Status: Status(7)}
	in <- Success(StageParse, nil)
	close(in)

	success, failure := Partition(context.Background(), in)
	var nSuccess, nFailure int
	done := make(chan struct{})
	go func() {
		for range failure {
			nFailure++
		}
		close(done)
	}()
	for range success {
		nSuccess++
	}
	<-done

	assert.Equal(t, 2, nSuccess)
	assert.Equal(t, 2, nFailure, "unknown tags are failures")
}

func TestBusSink_Publishes(t *testing.T) {
	bus := broker.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	msgs, stop, err := bus.Subscribe(ctx, "failures")
	require.NoError(t, err)
	defer stop()

	sink := MultiSink{NewLogSink(nil), NewBusSink(bus, "failures", nil)}
	sink.Record(ctx, FailureRecord{JobID: "j1", Stage: StageImage, Message: "failed to download image from x"})

	payload := <-msgs
	assert.Contains(t, string(payload), `"stage":"image"`)
	assert.Contains(t, string(payload), `"job_id":"j1"`)
}
