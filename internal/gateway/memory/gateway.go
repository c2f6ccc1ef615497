// Package memory provides an in-memory persistence gateway with the same
// idempotency contract as the Postgres one. It backs tests and local runs
// without a database.
package memory

import (
	"context"
	"sync"

	"github.com/phonewatch/scraper/internal/scrape"
)

// Product is one stored canonical product.
type Product struct {
	ID       int64
	Identity scrape.CanonicalIdentity
}

// Link is one stored (product, retailer) association.
type Link struct {
	ID          int64
	ProductID   int64
	Retailer    string
	ScrapedName string
	URL         string
}

// Observation is one appended price row.
type Observation struct {
	LinkID int64
	Sample scrape.PriceSample
}

type linkKey struct {
	productID int64
	retailer  string
}

// Gateway stores everything in maps guarded by one mutex.
type Gateway struct {
	mu           sync.Mutex
	nextID       int64
	products     map[string]*Product // by slug
	links        map[linkKey]*Link
	observations []Observation
	logs         []scrape.ScrapeRunResult
}

// New builds an empty Gateway.
func New() *Gateway {
	return &Gateway{
		products: make(map[string]*Product),
		links:    make(map[linkKey]*Link),
	}
}

func (g *Gateway) id() int64 {
	g.nextID++
	return g.nextID
}

// UpsertProduct inserts by slug or refreshes the variant of an existing row.
func (g *Gateway) UpsertProduct(_ context.Context, identity scrape.CanonicalIdentity) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.products[identity.Slug]; ok {
		p.Identity.Variant = identity.Variant
		return p.ID, nil
	}
	p := &Product{ID: g.id(), Identity: identity}
	g.products[identity.Slug] = p
	return p.ID, nil
}

// UpsertRetailerLink inserts or refreshes the (product, retailer) link.
func (g *Gateway) UpsertRetailerLink(_ context.Context, productID int64, retailer, scrapedName, url string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := linkKey{productID: productID, retailer: retailer}
	if l, ok := g.links[key]; ok {
		l.ScrapedName = scrapedName
		l.URL = url
		return l.ID, nil
	}
	l := &Link{ID: g.id(), ProductID: productID, Retailer: retailer, ScrapedName: scrapedName, URL: url}
	g.links[key] = l
	return l.ID, nil
}

// AppendPriceObservation appends one observation; it never deduplicates.
func (g *Gateway) AppendPriceObservation(_ context.Context, linkID int64, sample scrape.PriceSample) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observations = append(g.observations, Observation{LinkID: linkID, Sample: sample})
	return nil
}

// RecordScraperLog appends one run outcome.
func (g *Gateway) RecordScraperLog(_ context.Context, result scrape.ScrapeRunResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logs = append(g.logs, result)
	return nil
}

// Products returns the stored products.
func (g *Gateway) Products() []Product {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Product, 0, len(g.products))
	for _, p := range g.products {
		out = append(out, *p)
	}
	return out
}

// Links returns the stored retailer links.
func (g *Gateway) Links() []Link {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, *l)
	}
	return out
}

// Observations returns every appended price observation.
func (g *Gateway) Observations() []Observation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Observation(nil), g.observations...)
}

// Logs returns every recorded run outcome.
func (g *Gateway) Logs() []scrape.ScrapeRunResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]scrape.ScrapeRunResult(nil), g.logs...)
}
