package services

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

// maxDocIDLength bounds generated document ids, well under Firestore's
// 1500-byte limit.
const maxDocIDLength = 256

// Key identifies a listing for deduplication. Value is the raw dedup value;
// DocID is its path-safe encoding used as the Firestore document id.
type Key struct {
	Value string
	DocID string
}

// KeyResolver computes the dedup key of a listing. ok is false when the
// listing has nothing usable to key on.
type KeyResolver interface {
	Resolve(l models.Listing) (key Key, ok bool)
	Policy() config.DedupPolicy
}

// NewKeyResolver returns the resolver for the deployment's policy.
func NewKeyResolver(policy config.DedupPolicy) (KeyResolver, error) {
	switch policy {
	case config.DedupByTitle, "":
		return TitleResolver{}, nil
	case config.DedupByLink:
		return LinkResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", policy)
	}
}

// TitleResolver keys on the trimmed titulo with exact-match semantics.
type TitleResolver struct{}

func (TitleResolver) Resolve(l models.Listing) (Key, bool) {
	title := strings.TrimSpace(l.Titulo)
	if title == "" {
		return Key{}, false
	}
	return Key{Value: title, DocID: EncodeDocID(title)}, true
}

func (TitleResolver) Policy() config.DedupPolicy { return config.DedupByTitle }

// LinkResolver keys on the full enlace string.
type LinkResolver struct{}

func (LinkResolver) Resolve(l models.Listing) (Key, bool) {
	if l.Enlace == nil {
		return Key{}, false
	}
	link := strings.TrimSpace(*l.Enlace)
	if link == "" {
		return Key{}, false
	}
	return Key{Value: link, DocID: EncodeDocID(link)}, true
}

func (LinkResolver) Policy() config.DedupPolicy { return config.DedupByLink }

// EncodeDocID maps any string to a deterministic document id drawn from the
// URL-safe base64 alphabet. Values whose encoding exceeds maxDocIDLength keep
// a prefix and end with "." plus the SHA-256 of the full value; "." never
// appears in an unhashed id, so the two forms cannot collide.
func EncodeDocID(value string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(value))
	if len(encoded) <= maxDocIDLength {
		return encoded
	}
	sum := sha256.Sum256([]byte(value))
	digest := base64.RawURLEncoding.EncodeToString(sum[:])
	return encoded[:maxDocIDLength-len(digest)-1] + "." + digest
}
