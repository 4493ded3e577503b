// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes crawl artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store from an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Connect initializes a new GCS client, verifies the bucket is reachable and
// returns a ready blob store. Authentication is handled via Google's
// Application Default Credentials.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	// Fail fast on startup if the bucket is missing or unreadable.
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", cfg.Bucket, err)
	}
	return New(client, cfg)
}

// Upload writes data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) Upload(ctx context.Context, objectName string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(objectName) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", objectName, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", objectName, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for object %s: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}
