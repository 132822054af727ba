package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/services"
)

var (
	importerInstance *services.ImportFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ImportListings", importListings)
}

// main is required by the Go Functions Framework.
func main() {}

// importListings is triggered when a listings file lands in the import bucket.
func importListings(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var cfg config.Config
		cfg, initErr = config.Load()
		if initErr == nil {
			importerInstance, initErr = services.NewImporter(context.Background(), cfg)
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed so the event is retried.
	_, err := importerInstance.Process(ctx, gcsEvent)
	return err
}
