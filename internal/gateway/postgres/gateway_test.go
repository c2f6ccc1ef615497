package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/phonewatch/scraper/internal/scrape"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

func newMockGateway(t *testing.T) (*Gateway, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	g, err := NewWithPool(mock, fixedClock{})
	require.NoError(t, err)
	return g, mock
}

func TestUpsertProduct(t *testing.T) {
	t.Parallel()

	g, mock := newMockGateway(t)
	now := fixedClock{}.Now()

	identity := scrape.CanonicalIdentity{
		Brand:          "Samsung",
		Model:          "Galaxy S24 Ultra",
		Variant:        "512GB Titanium Gray",
		NormalizedName: "Samsung Galaxy S24 Ultra 512GB Titanium Gray",
		Slug:           "samsung-galaxy-s24-ultra-512gb-titanium-gray",
	}

	mock.ExpectQuery("INSERT INTO products").
		WithArgs(identity.Brand, identity.Model, identity.Variant,
			identity.NormalizedName, identity.Slug, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := g.UpsertProduct(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductRequiresSlug(t *testing.T) {
	t.Parallel()

	g, _ := newMockGateway(t)
	_, err := g.UpsertProduct(context.Background(), scrape.CanonicalIdentity{Brand: "Samsung"})
	require.Error(t, err)
}

func TestUpsertRetailerLink(t *testing.T) {
	t.Parallel()

	g, mock := newMockGateway(t)
	now := fixedClock{}.Now()

	mock.ExpectQuery("INSERT INTO retailers").
		WithArgs("Courts Mauritius").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery("INSERT INTO retailer_links").
		WithArgs(int64(7), int64(3), "GALAXY S24 ULTRA 512GB", "https://www.courts.mu/s24", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	linkID, err := g.UpsertRetailerLink(context.Background(), 7,
		"Courts Mauritius", "GALAXY S24 ULTRA 512GB", "https://www.courts.mu/s24")
	require.NoError(t, err)
	require.Equal(t, int64(11), linkID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRetailerLinkRetailerFailure(t *testing.T) {
	t.Parallel()

	g, mock := newMockGateway(t)
	mock.ExpectQuery("INSERT INTO retailers").
		WithArgs("Courts Mauritius").
		WillReturnError(errors.New("connection reset"))

	_, err := g.UpsertRetailerLink(context.Background(), 7, "Courts Mauritius", "x", "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendPriceObservation(t *testing.T) {
	t.Parallel()

	g, mock := newMockGateway(t)
	now := fixedClock{}.Now()

	cash := 62900.0
	original := 69900.0
	sample := scrape.PriceSample{
		PriceCash:     &cash,
		OriginalPrice: &original,
		InStock:       true,
		StockStatus:   "in_stock",
		PromoText:     "-10%",
	}

	mock.ExpectExec("INSERT INTO prices").
		WithArgs(int64(11), sample.PriceCash, sample.PriceCredit, sample.OriginalPrice,
			sample.InStock, sample.StockStatus, sample.PromoText, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, g.AppendPriceObservation(context.Background(), 11, sample))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordScraperLog(t *testing.T) {
	t.Parallel()

	g, mock := newMockGateway(t)
	scrapedAt := fixedClock{}.Now()

	result := scrape.ScrapeRunResult{
		Retailer:      "Galaxy Electronics",
		Status:        scrape.StatusPartial,
		ProductsFound: 10,
		ProductsSaved: 8,
		Errors:        []string{"save \"x\": timeout"},
		ExecutionTime: 42 * time.Second,
		ScrapedAt:     scrapedAt,
	}

	mock.ExpectExec("INSERT INTO scraper_logs").
		WithArgs(result.Retailer, string(result.Status), result.ProductsFound,
			result.ProductsSaved, result.Errors, int64(42000), scrapedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, g.RecordScraperLog(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}
