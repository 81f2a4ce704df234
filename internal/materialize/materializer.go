// Package materialize copies product images from their origin into durable
// object storage.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/objectstore"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

// DefaultUserAgent is sent with every image download.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// ErrNoImage is returned when a product has no image to materialize.
var ErrNoImage = errors.New("product has no image")

// Config holds downloader configuration.
type Config struct {
	Timeout     time.Duration
	UserAgent   string
	Concurrency int
}

// Materializer downloads product images and re-hosts them.
type Materializer struct {
	client  *http.Client
	store   objectstore.Store
	cfg     Config
	metrics *observability.Metrics
}

// New creates a materializer writing to store.
func New(store objectstore.Store, cfg Config, metrics *observability.Metrics) *Materializer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Materializer{
		client:  &http.Client{Timeout: cfg.Timeout},
		store:   store,
		cfg:     cfg,
		metrics: metrics,
	}
}

// ObjectKey is the storage key for a product's primary image.
func ObjectKey(p *catalog.Product) string {
	return fmt.Sprintf("images/%s.jpg", p.OriginID())
}

// Materialize fetches the first image of the first header, uploads it under
// ObjectKey and points the image URL at the stored copy. The product is
// left unchanged on error.
func (m *Materializer) Materialize(ctx context.Context, p *catalog.Product) error {
	img := p.PrimaryImage()
	if img == nil {
		return ErrNoImage
	}

	data, err := m.Download(ctx, img.OriginURL)
	if err != nil {
		return err
	}

	start := time.Now()
	uri, err := m.store.Upload(ctx, ObjectKey(p), data, "image/jpeg")
	m.metrics.ObserveExternal(ctx, "object_store", start)
	if err != nil {
		return fmt.Errorf("store image for %s: %w", p.OriginID(), err)
	}

	img.URL = uri
	return nil
}

// Download fetches url and returns the body. Non-2xx responses fail.
func (m *Materializer) Download(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	defer m.metrics.ObserveExternal(ctx, "image_download", start)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download image from %s: %w", url, err)
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to download image from %s", url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to download image from %s: %w", url, err)
	}
	return data, nil
}

// Download is the outcome for one URL of a batch.
type Download struct {
	URL  string
	Data []byte
	Err  error
}

// BatchSummary reports a parallel download.
type BatchSummary struct {
	Total     int
	Succeeded int
	Results   []Download
}

// String renders the summary as succeeded/total.
func (s BatchSummary) String() string {
	return fmt.Sprintf("%d/%d", s.Succeeded, s.Total)
}

// Failed returns the downloads that errored.
func (s BatchSummary) Failed() []Download {
	var failed []Download
	for _, d := range s.Results {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

// DownloadAll fetches urls in parallel, bounded by the configured
// concurrency. A failed URL does not stop the others. Results keep the
// order of urls.
func (m *Materializer) DownloadAll(ctx context.Context, urls []string) BatchSummary {
	summary := BatchSummary{Total: len(urls), Results: make([]Download, len(urls))}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.cfg.Concurrency)

	for i, url := range urls {
		eg.Go(func() error {
			data, err := m.Download(egCtx, url)
			summary.Results[i] = Download{URL: url, Data: data, Err: err}
			if err == nil {
				mu.Lock()
				summary.Succeeded++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return summary
}
