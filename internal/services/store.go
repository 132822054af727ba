package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/gcp"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

// ListingLister reads stored listings back.
type ListingLister interface {
	List(ctx context.Context, estado string, limit int) ([]models.StoredListing, error)
}

// StoreConfig holds configuration for the store-listings service.
type StoreConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// StoreFunction holds dependencies for the listing store endpoints.
type StoreFunction struct {
	upserter *ListingUpserter
	lister   ListingLister
	config   StoreConfig
}

// NewStore creates a StoreFunction backed by Firestore.
func NewStore(ctx context.Context, cfg config.Config) (*StoreFunction, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	listings, resolver, err := newFirestoreListings(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("Listing store initialized.", "collection", cfg.Collection, "policy", string(cfg.DedupPolicy))
	return newStore(listings, resolver, StoreConfig{DefaultLimit: cfg.ListDefaultLimit, MaxLimit: cfg.ListMaxLimit}), nil
}

// listingBackend is a store that can both upsert and list listings.
type listingBackend interface {
	ListingRepository
	ListingLister
}

// newStore serves upserts and listings from the same backend.
func newStore(listings listingBackend, resolver KeyResolver, cfg StoreConfig) *StoreFunction {
	return &StoreFunction{
		upserter: NewListingUpserter(listings, resolver),
		lister:   listings,
		config:   cfg,
	}
}

func newFirestoreListings(ctx context.Context, cfg config.Config) (*gcp.ListingStore, KeyResolver, error) {
	resolver, err := NewKeyResolver(cfg.DedupPolicy)
	if err != nil {
		return nil, nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return gcp.NewListingStore(firestoreClient, cfg.Collection), resolver, nil
}

func newFirestoreUpserter(ctx context.Context, cfg config.Config) (*ListingUpserter, error) {
	listings, resolver, err := newFirestoreListings(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewListingUpserter(listings, resolver), nil
}

// Upsert stores a batch of listings.
func (f *StoreFunction) Upsert(ctx context.Context, req *models.StoreListingsRequest) (models.UpsertResult, error) {
	if req.Convocatorias == nil {
		return models.UpsertResult{}, apperror.Validationf("Invalid data format: 'convocatorias' must be an array")
	}
	return f.upserter.Upsert(ctx, req.Convocatorias)
}

// List returns stored listings, newest first.
func (f *StoreFunction) List(ctx context.Context, req models.ListListingsRequest) (*models.ListListingsResponse, error) {
	estado := strings.ToLower(strings.TrimSpace(req.Estado))
	if estado != "" && estado != models.EstadoAbierta && estado != models.EstadoCerrada {
		return nil, apperror.Validationf("invalid estado %q (expected abierta or cerrada)", req.Estado)
	}

	limit := req.Limit
	switch {
	case limit < 0:
		return nil, apperror.Validationf("limit must be positive, got %d", limit)
	case limit == 0:
		limit = f.config.DefaultLimit
	case limit > f.config.MaxLimit:
		limit = f.config.MaxLimit
	}

	data, err := f.lister.List(ctx, estado, limit)
	if err != nil {
		slog.Error("Failed to list convocatorias", "error", err, "estado", estado, "limit", limit)
		return nil, asUpstream("Database operation failed", err)
	}
	if data == nil {
		data = []models.StoredListing{}
	}
	return &models.ListListingsResponse{Success: true, Count: len(data), Data: data}, nil
}
