// Package memory provides in-memory collaborator implementations for local
// development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
)

type productKey struct {
	operator string
	store    string
	product  string
}

// ProductStore is a map-backed implementation of coord.ProductStore. Saves
// merge into existing records the way the postgres upsert does.
type ProductStore struct {
	mu       sync.RWMutex
	products map[productKey]coord.Product
	order    []productKey
	reviews  map[string][]coord.Review
	pairings map[string][]coord.Pairing
	keywords map[string][]string
}

// NewProductStore constructs a ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[productKey]coord.Product),
		reviews:  make(map[string][]coord.Review),
		pairings: make(map[string][]coord.Pairing),
		keywords: make(map[string][]string),
	}
}

// SaveProduct upserts a product, merging non-zero fields into any existing
// record for the same identity.
func (s *ProductStore) SaveProduct(_ context.Context, operatorKey string, p coord.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := productKey{operatorKey, p.StoreID, p.ProductID}
	existing, ok := s.products[k]
	if !ok {
		s.order = append(s.order, k)
		s.products[k] = p
		return nil
	}
	if p.Name != "" {
		existing.Name = p.Name
	}
	if p.Price != 0 {
		existing.Price = p.Price
	}
	if p.ReviewCount != 0 {
		existing.ReviewCount = p.ReviewCount
	}
	if p.ImageURL != "" {
		existing.ImageURL = p.ImageURL
	}
	s.products[k] = existing
	return nil
}

// SaveReviews appends reviews for a store.
func (s *ProductStore) SaveReviews(_ context.Context, operatorKey, storeID string, reviews []coord.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := operatorKey + "/" + storeID
	s.reviews[k] = append(s.reviews[k], reviews...)
	return nil
}

// SaveTaobaoPairings appends pairings for a store.
func (s *ProductStore) SaveTaobaoPairings(_ context.Context, operatorKey, storeID string, pairings []coord.Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := operatorKey + "/" + storeID
	s.pairings[k] = append(s.pairings[k], pairings...)
	return nil
}

// SaveKeywords appends keywords for a store.
func (s *ProductStore) SaveKeywords(_ context.Context, operatorKey, storeID string, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := operatorKey + "/" + storeID
	s.keywords[k] = append(s.keywords[k], keywords...)
	return nil
}

// GetProducts returns the products saved for a store in insertion order.
func (s *ProductStore) GetProducts(_ context.Context, operatorKey, storeID string) ([]coord.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []coord.Product
	for _, k := range s.order {
		if k.operator == operatorKey && k.store == storeID {
			out = append(out, s.products[k])
		}
	}
	return out, nil
}

// Reviews returns the recorded reviews for inspection in tests.
func (s *ProductStore) Reviews(operatorKey, storeID string) []coord.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coord.Review, len(s.reviews[operatorKey+"/"+storeID]))
	copy(out, s.reviews[operatorKey+"/"+storeID])
	return out
}

// Pairings returns the recorded pairings for inspection in tests.
func (s *ProductStore) Pairings(operatorKey, storeID string) []coord.Pairing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coord.Pairing, len(s.pairings[operatorKey+"/"+storeID]))
	copy(out, s.pairings[operatorKey+"/"+storeID])
	return out
}

// Keywords returns the recorded keywords for inspection in tests.
func (s *ProductStore) Keywords(operatorKey, storeID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.keywords[operatorKey+"/"+storeID]))
	copy(out, s.keywords[operatorKey+"/"+storeID])
	return out
}
