// Package gcs archives raw upstream payloads in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket payloads are written to.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

// BlobStore uploads payloads to one bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed archive.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads data and returns a gs:// URI. The writer is always closed;
// a failed copy surfaces both errors.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	name := strings.TrimLeft(path, "/")
	if strings.TrimSpace(name) == "" {
		return "", errors.New("path is required")
	}
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	_, copyErr := io.Copy(w, data)
	closeErr := w.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return ObjectURI(s.bucket, name), nil
}

// ObjectURI formats the gs:// location of an object.
func ObjectURI(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimLeft(name, "/"))
}
