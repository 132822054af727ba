package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// It's a shared utility for all services.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/markdown; charset=utf-8"

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// ReadObject downloads a whole object.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// MarkdownArchive keeps the combined markdown of completed crawl jobs.
type MarkdownArchive struct {
	client *storage.Client
	bucket string
}

func NewMarkdownArchive(client *storage.Client, bucket string) *MarkdownArchive {
	return &MarkdownArchive{client: client, bucket: bucket}
}

// Archive stores content under <jobID>/combined.md. Re-archiving the same job
// is a no-op.
func (a *MarkdownArchive) Archive(ctx context.Context, jobID, content string) (string, error) {
	objectName := fmt.Sprintf("%s/combined.md", jobID)
	if err := SaveToGCSAtomically(ctx, a.client.Bucket(a.bucket), objectName, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

// Reader adapts a storage client to object reads by bucket and name.
type Reader struct {
	client *storage.Client
}

func NewReader(client *storage.Client) *Reader {
	return &Reader{client: client}
}

func (r *Reader) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	return ReadObject(ctx, r.client, bucket, object)
}
