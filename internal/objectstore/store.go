// Package objectstore uploads binary objects to durable storage and returns
// a URI the embedding service can read.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
)

// ErrInvalidKey is returned for empty or escaping object keys.
var ErrInvalidKey = errors.New("invalid object key")

// Store writes objects by key. Uploading an existing key overwrites it.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FSStore keeps objects on an afero filesystem under a base path.
type FSStore struct {
	fs       afero.Fs
	basePath string
}

// NewFSStore creates a filesystem store rooted at basePath.
func NewFSStore(fs afero.Fs, basePath string) *FSStore {
	if basePath == "" {
		basePath = "."
	}
	return &FSStore{fs: fs, basePath: basePath}
}

// Upload implements Store. The returned URI is a file:// URI.
func (s *FSStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	full := path.Join(s.basePath, clean)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", clean, err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", clean, err)
	}

	if strings.HasPrefix(full, "/") {
		return "file://" + full, nil
	}
	return "file:///" + full, nil
}

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store using application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Upload implements Store. The returned URI is a gs:// URI.
func (s *GCSStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	w := s.client.Bucket(s.bucket).Object(clean).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", clean, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload %s: %w", clean, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, clean), nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrInvalidKey
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

var (
	_ Store = (*FSStore)(nil)
	_ Store = (*GCSStore)(nil)
)
