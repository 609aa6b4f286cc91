// Package gcs writes export artifacts to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// objectWriter is the subset of *storage.Writer used for uploads.
type objectWriter interface {
	io.WriteCloser
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	bucket    string
	prefix    string
	newWriter func(ctx context.Context, object, contentType string) objectWriter
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return &BlobStore{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		newWriter: func(ctx context.Context, object, contentType string) objectWriter {
			w := bucket.Object(object).NewWriter(ctx)
			if contentType != "" {
				w.ContentType = contentType
			}
			return w
		},
	}, nil
}

// ObjectName returns the bucket object name used for p.
func (s *BlobStore) ObjectName(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := s.ObjectName(p)
	writer := s.newWriter(ctx, object, contentType)
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
