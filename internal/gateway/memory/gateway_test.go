package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phonewatch/scraper/internal/scrape"
)

func identity() scrape.CanonicalIdentity {
	return scrape.CanonicalIdentity{
		Brand:          "Samsung",
		Model:          "Galaxy S24",
		Variant:        "256GB Black",
		NormalizedName: "Samsung Galaxy S24 256GB Black",
		Slug:           "samsung-galaxy-s24-256gb-black",
	}
}

func TestUpsertProductIdempotent(t *testing.T) {
	t.Parallel()

	g := New()
	ctx := context.Background()

	id1, err := g.UpsertProduct(ctx, identity())
	require.NoError(t, err)

	updated := identity()
	updated.Variant = "256GB Onyx Black"
	id2, err := g.UpsertProduct(ctx, updated)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Len(t, g.Products(), 1)
	require.Equal(t, "256GB Onyx Black", g.Products()[0].Identity.Variant)
}

func TestUpsertRetailerLinkIdempotent(t *testing.T) {
	t.Parallel()

	g := New()
	ctx := context.Background()

	productID, err := g.UpsertProduct(ctx, identity())
	require.NoError(t, err)

	link1, err := g.UpsertRetailerLink(ctx, productID, "Courts Mauritius", "GALAXY S24", "https://a.mu/1")
	require.NoError(t, err)
	link2, err := g.UpsertRetailerLink(ctx, productID, "Courts Mauritius", "Galaxy S24 256GB", "https://a.mu/2")
	require.NoError(t, err)
	require.Equal(t, link1, link2)
	require.Len(t, g.Links(), 1)
	require.Equal(t, "https://a.mu/2", g.Links()[0].URL)

	// A different retailer gets its own link.
	link3, err := g.UpsertRetailerLink(ctx, productID, "Galaxy Electronics", "Galaxy S24", "https://b.mu/1")
	require.NoError(t, err)
	require.NotEqual(t, link1, link3)
	require.Len(t, g.Links(), 2)
}

func TestAppendPriceObservationAccumulates(t *testing.T) {
	t.Parallel()

	g := New()
	ctx := context.Background()

	productID, err := g.UpsertProduct(ctx, identity())
	require.NoError(t, err)
	linkID, err := g.UpsertRetailerLink(ctx, productID, "Courts Mauritius", "Galaxy S24", "")
	require.NoError(t, err)

	price := 42000.0
	sample := scrape.PriceSample{PriceCash: &price, InStock: true}
	require.NoError(t, g.AppendPriceObservation(ctx, linkID, sample))
	require.NoError(t, g.AppendPriceObservation(ctx, linkID, sample))
	require.Len(t, g.Observations(), 2)
}

func TestRecordScraperLog(t *testing.T) {
	t.Parallel()

	g := New()
	require.NoError(t, g.RecordScraperLog(context.Background(), scrape.ScrapeRunResult{
		Retailer: "Courts Mauritius",
		Status:   scrape.StatusSuccess,
	}))
	require.Len(t, g.Logs(), 1)
}
