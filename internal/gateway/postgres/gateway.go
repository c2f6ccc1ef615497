// Package postgres provides the Postgres-backed persistence gateway.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phonewatch/scraper/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Gateway persists products, retailer links, price observations, and scraper
// logs. Upserts are keyed so that re-submitting the same scrape never creates
// duplicate product or link rows; only price observations accumulate.
type Gateway struct {
	pool  querier
	clock scrape.Clock
}

// New connects a pool and returns a Gateway.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	return &Gateway{pool: pool, clock: systemClock{}}, nil
}

// NewWithPool constructs a Gateway from an existing pool (primarily for
// testing). A nil clock defaults to the system clock.
func NewWithPool(pool querier, clock scrape.Clock) (*Gateway, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Gateway{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (g *Gateway) Close() {
	if g == nil || g.pool == nil {
		return
	}
	g.pool.Close()
}

const upsertProductSQL = `
INSERT INTO products (brand, model, variant, normalized_name, slug, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (slug) DO UPDATE SET
	variant = EXCLUDED.variant,
	updated_at = EXCLUDED.updated_at
RETURNING id`

// UpsertProduct inserts the canonical product or, when the slug already
// exists, refreshes its variant. Brand, model, and normalized name are fixed
// at first insert.
func (g *Gateway) UpsertProduct(ctx context.Context, identity scrape.CanonicalIdentity) (int64, error) {
	if identity.Slug == "" {
		return 0, fmt.Errorf("product slug is required")
	}
	var id int64
	err := g.pool.QueryRow(ctx, upsertProductSQL,
		identity.Brand, identity.Model, identity.Variant,
		identity.NormalizedName, identity.Slug, g.clock.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert product %q: %w", identity.Slug, err)
	}
	return id, nil
}

const upsertRetailerSQL = `
INSERT INTO retailers (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

const upsertLinkSQL = `
INSERT INTO retailer_links (product_id, retailer_id, scraped_name, url, last_seen_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (product_id, retailer_id) DO UPDATE SET
	scraped_name = EXCLUDED.scraped_name,
	url = EXCLUDED.url,
	last_seen_at = EXCLUDED.last_seen_at
RETURNING id`

// UpsertRetailerLink finds or creates the retailer by name, then inserts or
// refreshes the (product, retailer) link.
func (g *Gateway) UpsertRetailerLink(ctx context.Context, productID int64, retailer, scrapedName, url string) (int64, error) {
	if retailer == "" {
		return 0, fmt.Errorf("retailer name is required")
	}
	var retailerID int64
	if err := g.pool.QueryRow(ctx, upsertRetailerSQL, retailer).Scan(&retailerID); err != nil {
		return 0, fmt.Errorf("upsert retailer %q: %w", retailer, err)
	}
	var linkID int64
	err := g.pool.QueryRow(ctx, upsertLinkSQL,
		productID, retailerID, scrapedName, url, g.clock.Now(),
	).Scan(&linkID)
	if err != nil {
		return 0, fmt.Errorf("upsert retailer link product=%d retailer=%q: %w", productID, retailer, err)
	}
	return linkID, nil
}

const insertPriceSQL = `
INSERT INTO prices (retailer_link_id, price_cash, price_credit, original_price, in_stock, stock_status, promo_text, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// AppendPriceObservation inserts one immutable price row for the link. Rows
// are never updated; re-submitting a scrape appends a second observation.
func (g *Gateway) AppendPriceObservation(ctx context.Context, linkID int64, sample scrape.PriceSample) error {
	_, err := g.pool.Exec(ctx, insertPriceSQL,
		linkID, sample.PriceCash, sample.PriceCredit, sample.OriginalPrice,
		sample.InStock, sample.StockStatus, sample.PromoText, g.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert price observation link=%d: %w", linkID, err)
	}
	return nil
}

const insertLogSQL = `
INSERT INTO scraper_logs (retailer, status, products_found, products_saved, errors, execution_time_ms, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// RecordScraperLog appends one retailer's run outcome to the scraper log.
func (g *Gateway) RecordScraperLog(ctx context.Context, result scrape.ScrapeRunResult) error {
	_, err := g.pool.Exec(ctx, insertLogSQL,
		result.Retailer, string(result.Status),
		result.ProductsFound, result.ProductsSaved,
		result.Errors, result.ExecutionTime.Milliseconds(), result.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scraper log retailer=%q: %w", result.Retailer, err)
	}
	return nil
}
