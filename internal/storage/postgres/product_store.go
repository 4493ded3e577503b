// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
)

// ProductStoreConfig controls the Postgres connection pool used for product rows.
type ProductStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ProductStore persists scraped products, reviews, pairings and keywords in
// Postgres, implementing coord.ProductStore. Rows are scoped by the operator
// key so several crawl operators can share one database.
type ProductStore struct {
	pool pgxPool
}

// NewProductStore creates a Postgres-backed ProductStore using the provided config.
func NewProductStore(ctx context.Context, cfg ProductStoreConfig) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProductStore{pool: pool}, nil
}

// NewProductStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProductStoreWithPool(pool pgxPool) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProductStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveProduct upserts one product row on (operator_key, store_id, product_id).
// Artifact endpoints report fields piecemeal, so zero values in the incoming
// product must not clobber columns an earlier call already filled.
func (s *ProductStore) SaveProduct(ctx context.Context, operatorKey string, p coord.Product) error {
	if p.StoreID == "" || p.ProductID == "" {
		return fmt.Errorf("store id and product id are required")
	}
	query := `
		INSERT INTO products (
			operator_key, store_id, product_id, name, price, review_count, image_url, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (operator_key, store_id, product_id) DO UPDATE SET
			name         = COALESCE(NULLIF(EXCLUDED.name, ''), products.name),
			price        = CASE WHEN EXCLUDED.price > 0 THEN EXCLUDED.price ELSE products.price END,
			review_count = CASE WHEN EXCLUDED.review_count > 0 THEN EXCLUDED.review_count ELSE products.review_count END,
			image_url    = COALESCE(NULLIF(EXCLUDED.image_url, ''), products.image_url),
			updated_at   = now();
	`
	_, err := s.pool.Exec(ctx, query,
		operatorKey, p.StoreID, p.ProductID, p.Name, p.Price, p.ReviewCount, p.ImageURL,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// SaveReviews inserts review rows for a store. Re-submitted reviews are ignored.
func (s *ProductStore) SaveReviews(ctx context.Context, operatorKey string, storeID string, reviews []coord.Review) error {
	query := `
		INSERT INTO reviews (operator_key, store_id, product_id, author, rating, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING;
	`
	for _, r := range reviews {
		if _, err := s.pool.Exec(ctx, query,
			operatorKey, storeID, r.ProductID, r.Author, r.Rating, r.Body,
		); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}
	return nil
}

// SaveTaobaoPairings upserts cross-market matches, keeping the latest score.
func (s *ProductStore) SaveTaobaoPairings(ctx context.Context, operatorKey string, storeID string, pairings []coord.Pairing) error {
	query := `
		INSERT INTO taobao_pairings (operator_key, store_id, product_id, taobao_id, taobao_url, score)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (operator_key, store_id, product_id, taobao_id) DO UPDATE SET
			taobao_url = EXCLUDED.taobao_url,
			score      = EXCLUDED.score;
	`
	for _, p := range pairings {
		if _, err := s.pool.Exec(ctx, query,
			operatorKey, storeID, p.ProductID, p.TaobaoID, p.TaobaoURL, p.Score,
		); err != nil {
			return fmt.Errorf("upsert pairing: %w", err)
		}
	}
	return nil
}

// SaveKeywords inserts search keywords observed for a store.
func (s *ProductStore) SaveKeywords(ctx context.Context, operatorKey string, storeID string, keywords []string) error {
	query := `
		INSERT INTO store_keywords (operator_key, store_id, keyword)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING;
	`
	for _, kw := range keywords {
		if _, err := s.pool.Exec(ctx, query, operatorKey, storeID, kw); err != nil {
			return fmt.Errorf("insert keyword: %w", err)
		}
	}
	return nil
}

// GetProducts returns every product row stored for a store.
func (s *ProductStore) GetProducts(ctx context.Context, operatorKey string, storeID string) ([]coord.Product, error) {
	query := `
		SELECT store_id, product_id, name, price, review_count, image_url
		FROM products
		WHERE operator_key = $1 AND store_id = $2
		ORDER BY product_id;
	`
	rows, err := s.pool.Query(ctx, query, operatorKey, storeID)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []coord.Product
	for rows.Next() {
		var p coord.Product
		if err := rows.Scan(
			&p.StoreID, &p.ProductID, &p.Name, &p.Price, &p.ReviewCount, &p.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}
