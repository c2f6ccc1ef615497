package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/phonewatch/scraper/internal/scrape"
)

const listingPage = `
<html><body>
<div class="product-miniature">
  <h3 class="product-name">Samsung Galaxy S24 Ultra 512GB Titanium Gray</h3>
  <span class="price">Rs 62,900</span>
  <span class="old-price">Rs 69,900</span>
  <span class="discount-percentage">-10%</span>
  <a href="/smartphones/galaxy-s24-ultra">View</a>
</div>
<div class="product-miniature">
  <h3 class="product-name">Apple iPhone 15 128GB Black</h3>
  <span class="price">Rs 48,500</span>
  <span class="stock">Out of stock</span>
  <a href="https://shop.example.mu/iphone-15">View</a>
</div>
<div class="product-miniature">
  <h3 class="product-name">Galaxy S24 tempered glass</h3>
  <span class="price">Rs 450</span>
</div>
<div class="product-miniature">
  <h3 class="product-name">Xiaomi Redmi Note 13</h3>
  <span class="price">4.5</span>
</div>
</body></html>`

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	return ForRetailer("Courts Mauritius", "https://shop.example.mu/smartphones", nil)
}

func TestExtractFromDocument(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingPage))
	require.NoError(t, err)

	listings := testAdapter(t).ExtractFromDocument(doc)
	require.Len(t, listings, 2)

	first := listings[0]
	require.Equal(t, "Samsung Galaxy S24 Ultra 512GB Titanium Gray", first.Name)
	require.NotNil(t, first.PriceCash)
	require.InDelta(t, 62900, *first.PriceCash, 0.001)
	require.NotNil(t, first.OriginalPrice)
	require.InDelta(t, 69900, *first.OriginalPrice, 0.001)
	require.True(t, first.InStock)
	require.Equal(t, "-10%", first.PromoText)
	require.Equal(t, "https://shop.example.mu/smartphones/galaxy-s24-ultra", first.URL)

	second := listings[1]
	require.Equal(t, "Apple iPhone 15 128GB Black", second.Name)
	require.False(t, second.InStock)
	require.Equal(t, "out_of_stock", second.StockStatus)
	require.Equal(t, "https://shop.example.mu/iphone-15", second.URL)
}

func TestExtractFromDocumentNoContainers(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>maintenance</p></body></html>"))
	require.NoError(t, err)

	listings := testAdapter(t).ExtractFromDocument(doc)
	require.Empty(t, listings)
}

func TestExtractBelowPriceFloorDropped(t *testing.T) {
	t.Parallel()

	// The accessory priced at Rs 450 and the rating-as-price row both sit
	// below the floor.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingPage))
	require.NoError(t, err)

	for _, l := range testAdapter(t).ExtractFromDocument(doc) {
		require.GreaterOrEqual(t, *l.PriceCash, float64(priceFloorMUR))
	}
}

func TestKeep(t *testing.T) {
	t.Parallel()

	a := testAdapter(t)
	price := 35000.0

	require.True(t, a.Keep(scrape.RawListing{Name: "Samsung Galaxy A55", PriceCash: &price}))
	require.False(t, a.Keep(scrape.RawListing{Name: "Samsung Galaxy A55"}))
	require.False(t, a.Keep(scrape.RawListing{PriceCash: &price}))
	require.False(t, a.Keep(scrape.RawListing{Name: "Galaxy S24 case", PriceCash: &price}))
}

type fakeSession struct {
	html    string
	htmlErr error
}

func (f *fakeSession) Navigate(context.Context, string) error           { return nil }
func (f *fakeSession) WaitForIdle(context.Context, time.Duration) error { return nil }
func (f *fakeSession) ScrollBy(context.Context, int) error              { return nil }
func (f *fakeSession) Click(context.Context, string) error              { return nil }
func (f *fakeSession) Screenshot(context.Context) ([]byte, error)       { return nil, nil }
func (f *fakeSession) HTML(context.Context) (string, error)             { return f.html, f.htmlErr }
func (f *fakeSession) Close() error                                     { return nil }

func TestExtractSnapshotsSession(t *testing.T) {
	t.Parallel()

	listings, err := testAdapter(t).Extract(context.Background(), &fakeSession{html: listingPage})
	require.NoError(t, err)
	require.Len(t, listings, 2)
}

func TestExtractSnapshotFailureIsTerminal(t *testing.T) {
	t.Parallel()

	_, err := testAdapter(t).Extract(context.Background(), &fakeSession{htmlErr: errors.New("tab crashed")})
	require.Error(t, err)
}

func TestForRetailerUnknownUsesGenericSelectors(t *testing.T) {
	t.Parallel()

	a := ForRetailer("New Shop", "https://newshop.mu/phones?page=1", nil)
	require.Equal(t, "New Shop", a.Retailer())
	require.Equal(t, "https://newshop.mu", a.baseURL)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingPage))
	require.NoError(t, err)
	require.Len(t, a.ExtractFromDocument(doc), 2)
}
