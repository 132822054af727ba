package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/gcp"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ObjectReader downloads a storage object.
type ObjectReader interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// ImportFunction upserts listing files dropped into a bucket.
type ImportFunction struct {
	objects  ObjectReader
	upserter *ListingUpserter
}

// NewImporter creates an ImportFunction backed by GCS and Firestore.
func NewImporter(ctx context.Context, cfg config.Config) (*ImportFunction, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	upserter, err := newFirestoreUpserter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ImportFunction{objects: gcp.NewReader(storageClient), upserter: upserter}, nil
}

// Process reads a JSON listings file and upserts its contents. Objects that
// are not .json files are ignored.
func (f *ImportFunction) Process(ctx context.Context, e GCSEvent) (models.UpsertResult, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.HasSuffix(strings.ToLower(e.Name), ".json") {
		logCtx.Info("Ignoring non-JSON object.")
		return models.UpsertResult{}, nil
	}

	data, err := f.objects.Read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download listings file", "error", err)
		return models.UpsertResult{}, err
	}

	listings, err := decodeListingsFile(data)
	if err != nil {
		logCtx.Error("Failed to decode listings file", "error", err)
		return models.UpsertResult{}, err
	}
	if len(listings) == 0 {
		logCtx.Warn("Listings file is empty.")
		return models.UpsertResult{}, nil
	}

	res, err := f.upserter.Upsert(ctx, listings)
	if err != nil {
		return models.UpsertResult{}, err
	}
	logCtx.Info("Listings file imported.", "new", res.New, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

func decodeListingsFile(data []byte) ([]models.Listing, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var listings []models.Listing
		if err := json.Unmarshal(data, &listings); err != nil {
			return nil, fmt.Errorf("json.Unmarshal: %w", err)
		}
		return listings, nil
	}
	var req models.StoreListingsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return req.Convocatorias, nil
}
