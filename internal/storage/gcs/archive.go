// Package gcs archives finished result documents to Google Cloud
// Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Archive uploads result documents to a configured bucket.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed archive.
func New(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ArchiveResult uploads a job's result document as JSON and returns its
// gs:// URI.
func (a *Archive) ArchiveResult(ctx context.Context, jobID string, doc scrape.ResultDocument) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("job id is required")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode result document: %w", err)
	}
	path := jobID + ".json"
	if a.prefix != "" {
		path = a.prefix + "/" + path
	}
	return a.putObject(ctx, path, "application/json", bytes.NewReader(data))
}

func (a *Archive) putObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	writer := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, path), nil
}
