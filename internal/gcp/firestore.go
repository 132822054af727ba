package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
	"google.golang.org/api/iterator"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ListingStore persists convocatorias in one Firestore collection.
type ListingStore struct {
	client     *firestore.Client
	collection string
}

func NewListingStore(client *firestore.Client, collection string) *ListingStore {
	return &ListingStore{client: client, collection: collection}
}

// BatchExists reads all documents in one GetAll call. Missing documents come
// back as snapshots that do not exist, so the result stays aligned with ids.
func (s *ListingStore) BatchExists(ctx context.Context, ids []string) ([]bool, error) {
	col := s.client.Collection(s.collection)
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = col.Doc(id)
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d convocatorias: %w", len(ids), err)
	}

	exists := make([]bool, len(snaps))
	for i, snap := range snaps {
		exists[i] = snap != nil && snap.Exists()
	}
	return exists, nil
}

// Commit applies every op inside one write-only transaction with a single
// attempt, so the batch lands completely or not at all. Keyed creates use Set
// so a document created concurrently between read and commit is overwritten.
func (s *ListingStore) Commit(ctx context.Context, ops []models.WriteOp) error {
	col := s.client.Collection(s.collection)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, op := range ops {
			data := make(map[string]interface{}, len(op.Fields)+3)
			for k, v := range op.Fields {
				data[k] = v
			}
			if op.DedupKey != "" {
				data["dedupKey"] = op.DedupKey
			}
			data["updatedAt"] = firestore.ServerTimestamp

			switch {
			case op.Kind == models.WriteMerge:
				if err := tx.Set(col.Doc(op.DocID), data, firestore.MergeAll); err != nil {
					return fmt.Errorf("stage merge of %s: %w", op.DocID, err)
				}
			case op.DocID == "":
				data["createdAt"] = firestore.ServerTimestamp
				if err := tx.Create(col.NewDoc(), data); err != nil {
					return fmt.Errorf("stage create: %w", err)
				}
			default:
				data["createdAt"] = firestore.ServerTimestamp
				if err := tx.Set(col.Doc(op.DocID), data); err != nil {
					return fmt.Errorf("stage create of %s: %w", op.DocID, err)
				}
			}
		}
		return nil
	}, firestore.MaxAttempts(1))
	if err != nil {
		return fmt.Errorf("failed to commit %d writes: %w", len(ops), err)
	}
	return nil
}

// List returns the newest listings first, optionally filtered by estado.
func (s *ListingStore) List(ctx context.Context, estado string, limit int) ([]models.StoredListing, error) {
	query := s.client.Collection(s.collection).OrderBy("createdAt", firestore.Desc).Limit(limit)
	if estado != "" {
		query = query.Where("estado", "==", estado)
	}

	it := query.Documents(ctx)
	defer it.Stop()

	var listings []models.StoredListing
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list convocatorias: %w", err)
		}
		var l models.StoredListing
		if err := snap.DataTo(&l); err != nil {
			return nil, fmt.Errorf("failed to decode convocatoria %s: %w", snap.Ref.ID, err)
		}
		l.ID = snap.Ref.ID
		listings = append(listings, l)
	}
	return listings, nil
}
