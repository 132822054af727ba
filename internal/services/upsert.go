package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

// ListingRepository is the document store behind the upsert.
type ListingRepository interface {
	// BatchExists reports, aligned with docIDs, whether each document exists.
	// It is a single round trip regardless of len(docIDs).
	BatchExists(ctx context.Context, docIDs []string) ([]bool, error)
	// Commit applies all ops atomically or none of them.
	Commit(ctx context.Context, ops []models.WriteOp) error
}

// ListingUpserter stores listings with identity-based deduplication.
type ListingUpserter struct {
	repo     ListingRepository
	resolver KeyResolver
	// dropUnkeyed skips records without a key instead of creating them.
	dropUnkeyed bool
}

// NewListingUpserter builds an upserter. Under the link policy the link is
// required, so unkeyed records are skipped; under the title policy they are
// created with a store-assigned id.
func NewListingUpserter(repo ListingRepository, resolver KeyResolver) *ListingUpserter {
	return &ListingUpserter{
		repo:        repo,
		resolver:    resolver,
		dropUnkeyed: resolver.Policy() == config.DedupByLink,
	}
}

type keyedListing struct {
	listing models.Listing
	key     Key
	keyed   bool
}

// Upsert reads existence of every distinct key in one call, stages a create
// or merge per record and commits everything in one atomic batch. Records
// sharing a key within the call collapse onto one document: the first counts
// as new (or updated if it already exists) and the rest as updated.
// Nothing is written if the read fails; a failed commit writes nothing.
func (u *ListingUpserter) Upsert(ctx context.Context, listings []models.Listing) (models.UpsertResult, error) {
	if len(listings) == 0 {
		return models.UpsertResult{}, apperror.Validationf("convocatorias must be a non-empty array")
	}

	pairs := make([]keyedListing, len(listings))
	var docIDs []string
	seen := make(map[string]bool)
	for i, l := range listings {
		if err := l.Normalize(); err != nil {
			return models.UpsertResult{}, fmt.Errorf("convocatoria %d: %w", i, err)
		}
		key, ok := u.resolver.Resolve(l)
		pairs[i] = keyedListing{listing: l, key: key, keyed: ok}
		if ok && !seen[key.DocID] {
			seen[key.DocID] = true
			docIDs = append(docIDs, key.DocID)
		}
	}

	logCtx := slog.With("policy", string(u.resolver.Policy()), "records", len(listings), "distinctKeys", len(docIDs))

	exists := make(map[string]bool, len(docIDs))
	if len(docIDs) > 0 {
		found, err := u.repo.BatchExists(ctx, docIDs)
		if err != nil {
			logCtx.Error("Existence read failed, nothing staged.", "error", err)
			return models.UpsertResult{}, asUpstream("read existing convocatorias", err)
		}
		if len(found) != len(docIDs) {
			return models.UpsertResult{}, apperror.NewUpstream(
				fmt.Sprintf("existence read returned %d results for %d keys", len(found), len(docIDs)), 0, nil, nil)
		}
		for i, id := range docIDs {
			exists[id] = found[i]
		}
	}

	res := models.UpsertResult{Total: len(listings)}
	var ops []models.WriteOp
	staged := make(map[string]int)
	for _, p := range pairs {
		if !p.keyed {
			if u.dropUnkeyed {
				res.Skipped++
				continue
			}
			ops = append(ops, models.WriteOp{Kind: models.WriteCreate, Fields: p.listing.Fields()})
			res.New++
			res.Unkeyed++
			continue
		}

		if idx, ok := staged[p.key.DocID]; ok {
			for k, v := range p.listing.Fields() {
				ops[idx].Fields[k] = v
			}
			res.Updated++
			continue
		}

		op := models.WriteOp{Kind: models.WriteCreate, DocID: p.key.DocID, DedupKey: p.key.Value, Fields: p.listing.Fields()}
		if exists[p.key.DocID] {
			op.Kind = models.WriteMerge
			res.Updated++
		} else {
			res.New++
		}
		staged[p.key.DocID] = len(ops)
		ops = append(ops, op)
	}

	if len(ops) == 0 {
		logCtx.Info("Nothing to write.", "skipped", res.Skipped)
		return res, nil
	}

	if err := u.repo.Commit(ctx, ops); err != nil {
		logCtx.Error("Batch commit failed, no convocatorias written.", "error", err, "writes", len(ops))
		if appErr, ok := apperror.As(err); ok && appErr.Code() == apperror.CommitFailed {
			return models.UpsertResult{}, appErr
		}
		return models.UpsertResult{}, apperror.NewCommit("commit convocatorias batch", err)
	}

	logCtx.Info("Convocatorias upserted.", "new", res.New, "updated", res.Updated, "skipped", res.Skipped, "unkeyed", res.Unkeyed, "writes", len(ops))
	return res, nil
}

func asUpstream(message string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.NewUpstream(message, 0, nil, err)
}
