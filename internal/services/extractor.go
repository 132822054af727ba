package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/gcp"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

// ListingModel generates the raw JSON answer for an extraction prompt.
type ListingModel interface {
	GenerateListings(ctx context.Context, prompt string) (string, error)
}

// ExtractorFunction turns crawled markdown into listings and stores them.
type ExtractorFunction struct {
	model    ListingModel
	upserter *ListingUpserter
}

// NewExtractor wires the Vertex AI model and the listing store.
func NewExtractor(ctx context.Context, cfg config.Config) (*ExtractorFunction, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}

	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.ExtractionModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return assembleExtractor(vertexClient, func() (*ListingUpserter, error) {
		return newFirestoreUpserter(ctx, cfg)
	})
}

// assembleExtractor releases the model when the listing store cannot be built.
func assembleExtractor(model ListingModel, newUpserter func() (*ListingUpserter, error)) (*ExtractorFunction, error) {
	upserter, err := newUpserter()
	if err != nil {
		if closer, ok := model.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				slog.Warn("Failed to close extraction model.", "error", cerr)
			}
		}
		return nil, err
	}
	return &ExtractorFunction{model: model, upserter: upserter}, nil
}

// Ingest extracts listings from entries and upserts them. Listings the model
// produced with invalid fields are dropped instead of failing the batch.
func (f *ExtractorFunction) Ingest(ctx context.Context, entries []models.Entry) (models.UpsertResult, error) {
	listings, err := f.Extract(ctx, entries)
	if err != nil {
		return models.UpsertResult{}, err
	}

	valid := listings[:0]
	for _, l := range listings {
		check := l
		if err := check.Normalize(); err != nil {
			slog.Warn("Dropping extracted convocatoria.", "titulo", l.Titulo, "error", err)
			continue
		}
		valid = append(valid, l)
	}
	if len(valid) == 0 {
		slog.Info("No convocatorias extracted.", "entries", len(entries))
		return models.UpsertResult{}, nil
	}
	return f.upserter.Upsert(ctx, valid)
}

// Extract asks the model for the listings found in entries.
func (f *ExtractorFunction) Extract(ctx context.Context, entries []models.Entry) ([]models.Listing, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	logCtx := slog.With("entries", len(entries))

	raw, err := f.model.GenerateListings(ctx, buildExtractionPrompt(entries))
	if err != nil {
		logCtx.Error("Call to Vertex AI for extraction failed", "error", err)
		return nil, err
	}

	listings, err := parseListings(raw)
	if err != nil {
		logCtx.Error("Failed to parse extracted convocatorias", "error", err, "responseBody", raw)
		return nil, err
	}
	for i := range listings {
		if listings[i].Fuente == "" {
			listings[i].Fuente = sourceHost(listings[i].Enlace)
		}
	}
	logCtx.Info("Extracted convocatorias.", "count", len(listings))
	return listings, nil
}

func buildExtractionPrompt(entries []models.Entry) string {
	sources := make([]string, len(entries))
	for i, e := range entries {
		sources[i] = fmt.Sprintf("=== FUENTE %d: %s ===\n%s\n=== FIN FUENTE %d ===", i+1, e.URL, e.Markdown, i+1)
	}
	return fmt.Sprintf(gcp.ExtractorUserPrompt, len(entries), strings.Join(sources, "\n\n"), len(entries))
}

// parseListings accepts a bare JSON array or an object with a convocatorias
// array, optionally wrapped in a markdown code fence.
func parseListings(raw string) ([]models.Listing, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("model returned an empty response instead of JSON")
	}

	if strings.HasPrefix(text, "{") {
		var wrapped struct {
			Convocatorias []models.Listing `json:"convocatorias"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse JSON object from model: %w", err)
		}
		return wrapped.Convocatorias, nil
	}

	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model response contains no JSON array")
	}
	var listings []models.Listing
	if err := json.Unmarshal([]byte(text[start:end+1]), &listings); err != nil {
		return nil, fmt.Errorf("failed to parse JSON array from model: %w", err)
	}
	return listings, nil
}

func sourceHost(link *string) string {
	if link == nil {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(*link))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
