package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phonewatch/scraper/internal/scrape"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "scraper_settings.yaml"), nil)
}

func TestSnapshotDefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	got := s.Snapshot()
	require.Equal(t, scrape.ModeAgentic, got.Mode)
	require.Equal(t, DefaultMaxProducts, got.MaxProducts)
	require.Len(t, got.Retailers, 4)
	require.True(t, got.Retailers["Courts Mauritius"].Enabled)
	require.True(t, got.Retailers["Galaxy Electronics"].Enabled)
	require.False(t, got.Retailers["Price Guru"].Enabled)
	require.False(t, got.Retailers["361 Degrees"].Enabled)
}

func TestSetModePersists(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	require.NoError(t, s.SetMode(scrape.ModeHybrid))
	require.Equal(t, scrape.ModeHybrid, s.Snapshot().Mode)

	require.Error(t, s.SetMode("turbo"))
}

func TestSetMaxProducts(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	require.NoError(t, s.SetMaxProducts(25))
	require.Equal(t, 25, s.Snapshot().MaxProducts)

	require.Error(t, s.SetMaxProducts(0))
}

func TestToggleRetailer(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	require.NoError(t, s.ToggleRetailer("Price Guru", true))
	require.True(t, s.Snapshot().Retailers["Price Guru"].Enabled)

	require.NoError(t, s.ToggleRetailer("Price Guru", false))
	require.False(t, s.Snapshot().Retailers["Price Guru"].Enabled)

	require.Error(t, s.ToggleRetailer("No Such Shop", true))
}

func TestReplaceValidates(t *testing.T) {
	t.Parallel()

	s := testStore(t)

	valid := scrape.ScraperSettings{
		Mode:        scrape.ModeHybrid,
		MaxProducts: 10,
		Retailers: map[string]scrape.RetailerConfig{
			"Courts Mauritius": {Enabled: true, URL: "https://www.courts.mu/phones"},
		},
	}
	require.NoError(t, s.Replace(valid))

	got := s.Snapshot()
	require.Equal(t, scrape.ModeHybrid, got.Mode)
	require.Equal(t, 10, got.MaxProducts)
	require.Len(t, got.Retailers, 1)

	require.Error(t, s.Replace(scrape.ScraperSettings{Mode: "x", MaxProducts: 1,
		Retailers: valid.Retailers}))
	require.Error(t, s.Replace(scrape.ScraperSettings{Mode: scrape.ModeHybrid, MaxProducts: 0,
		Retailers: valid.Retailers}))
	require.Error(t, s.Replace(scrape.ScraperSettings{Mode: scrape.ModeHybrid, MaxProducts: 1}))
	require.Error(t, s.Replace(scrape.ScraperSettings{Mode: scrape.ModeHybrid, MaxProducts: 1,
		Retailers: map[string]scrape.RetailerConfig{"Shop": {}}}))
}

func TestEnabledRetailersSorted(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	require.NoError(t, s.ToggleRetailer("361 Degrees", true))

	enabled := s.Snapshot().EnabledRetailers()
	require.Len(t, enabled, 3)
	require.Equal(t, "361 Degrees", enabled[0].Name)
	require.Equal(t, "Courts Mauritius", enabled[1].Name)
	require.Equal(t, "Galaxy Electronics", enabled[2].Name)
}
