package coord

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("not found")

// Clock abstracts time for the staleness and timeout logic.
type Clock interface {
	Now() time.Time
}

// ProductStore is the persistence collaborator. Every operation is keyed by an
// opaque per-operator credential; the coordinator forwards it verbatim.
type ProductStore interface {
	SaveProduct(ctx context.Context, operatorKey string, p Product) error
	SaveReviews(ctx context.Context, operatorKey string, storeID string, reviews []Review) error
	SaveTaobaoPairings(ctx context.Context, operatorKey string, storeID string, pairings []Pairing) error
	SaveKeywords(ctx context.Context, operatorKey string, storeID string, keywords []string) error
	GetProducts(ctx context.Context, operatorKey string, storeID string) ([]Product, error)
}

// BlobStore uploads raw artifact bytes and returns a stable URL.
type BlobStore interface {
	Upload(ctx context.Context, objectName string, contentType string, data []byte) (string, error)
}

// Hasher fingerprints artifact payloads so uploads can be traced back to
// their exact content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Publisher notifies the downstream enrichment pipeline about accepted
// products. Failures are logged and swallowed by callers; crawl progress must
// not depend on publish success.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
