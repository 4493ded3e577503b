// Package coord defines the domain types and collaborator interfaces shared by
// the coordination engine packages.
package coord

import (
	"fmt"
	"strings"
	"time"
)

// StoreStatus is the crawl lifecycle state of one store within a run.
type StoreStatus string

// Supported store lifecycle states.
const (
	StatusWaiting    StoreStatus = "waiting"
	StatusCollecting StoreStatus = "collecting"
	StatusVisiting   StoreStatus = "visiting"
	StatusDone       StoreStatus = "done"
)

// ParseStoreStatus validates a worker-supplied state string. Workers are
// browser scripts, so arbitrary values must be rejected rather than stored.
func ParseStoreStatus(s string) (StoreStatus, error) {
	switch StoreStatus(s) {
	case StatusWaiting, StatusCollecting, StatusVisiting, StatusDone:
		return StoreStatus(s), nil
	default:
		return "", fmt.Errorf("unknown store state %q", s)
	}
}

// StoreState is the externally visible crawl state of one (store, run) pair.
// Lock is true while a worker holds the claim to drive the store's visit
// sequence; it is only meaningful alongside StatusVisiting.
type StoreState struct {
	StoreID   string      `json:"storeId"`
	RunID     string      `json:"runId"`
	State     StoreStatus `json:"state"`
	Lock      bool        `json:"lock"`
	Expected  int         `json:"expected"`
	Progress  int         `json:"progress"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Candidate is a discovered storefront offered to store selection.
type Candidate struct {
	StoreID      string `json:"id"`
	URL          string `json:"url"`
	ProductCount int    `json:"productCount"`
}

// Product is one scraped product. Artifact endpoints fill fields
// incrementally; persistence upserts on (store, product) identity.
type Product struct {
	StoreID     string `json:"storeId"`
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	ReviewCount int    `json:"reviewCount"`
	ImageURL    string `json:"imageUrl"`
}

// Review is one customer review scraped for a product.
type Review struct {
	ProductID string `json:"productId"`
	Author    string `json:"author"`
	Rating    int    `json:"rating"`
	Body      string `json:"body"`
}

// Pairing links a marketplace product to a Taobao cross-market match.
type Pairing struct {
	ProductID string  `json:"productId"`
	TaobaoID  string  `json:"taobaoId"`
	TaobaoURL string  `json:"taobaoUrl"`
	Score     float64 `json:"score"`
}

// NormalizeStoreID case-folds store identifiers so that workers reporting the
// same store with different casing share one state entry.
func NormalizeStoreID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
