// Package settings manages the scraper settings document: which retailers are
// enabled, the extraction mode, and the per-retailer product cap. A run reads
// one immutable snapshot at start; mutations apply to subsequent runs only.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/scrape"
)

// DefaultMaxProducts caps listings persisted per retailer per run.
const DefaultMaxProducts = 50

// Store loads and persists settings through a YAML file. All methods are safe
// for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStore builds a Store over the YAML file at path. A missing file is not
// an error; Snapshot falls back to defaults until the first mutation creates
// it.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Defaults is the settings document used when no file exists yet.
func Defaults() scrape.ScraperSettings {
	return scrape.ScraperSettings{
		Mode:        scrape.ModeAgentic,
		MaxProducts: DefaultMaxProducts,
		Retailers: map[string]scrape.RetailerConfig{
			"Courts Mauritius": {
				Enabled: true,
				URL:     "https://www.courts.mu/catalogsearch/result/?q=smartphone",
			},
			"Galaxy Electronics": {
				Enabled: true,
				URL:     "https://www.galaxy.mu/telephones/smartphones.html",
			},
			"Price Guru": {
				Enabled: false,
				URL:     "https://priceguru.mu/collections/smartphones",
			},
			"361 Degrees": {
				Enabled: false,
				URL:     "https://361.mu/product-category/smartphones/",
			},
		},
	}
}

// Snapshot reads the current settings. Unreadable or partially-filled files
// degrade to defaults field by field.
func (s *Store) Snapshot() scrape.ScraperSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() scrape.ScraperSettings {
	out := Defaults()

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				s.logger.Warn("settings file unreadable, using defaults",
					zap.String("path", s.path), zap.Error(err))
			}
		}
		return out
	}

	var parsed scrape.ScraperSettings
	if err := v.Unmarshal(&parsed); err != nil {
		s.logger.Warn("settings file malformed, using defaults",
			zap.String("path", s.path), zap.Error(err))
		return out
	}

	if parsed.Mode == scrape.ModeAgentic || parsed.Mode == scrape.ModeHybrid {
		out.Mode = parsed.Mode
	}
	if parsed.MaxProducts > 0 {
		out.MaxProducts = parsed.MaxProducts
	}
	if len(parsed.Retailers) > 0 {
		out.Retailers = parsed.Retailers
	}
	return out
}

func (s *Store) save(settings scrape.ScraperSettings) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("mode", string(settings.Mode))
	v.Set("max_products", settings.MaxProducts)
	retailers := make(map[string]map[string]any, len(settings.Retailers))
	for name, cfg := range settings.Retailers {
		retailers[name] = map[string]any{"enabled": cfg.Enabled, "url": cfg.URL}
	}
	v.Set("retailers", retailers)

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// SetMode switches the extraction mode.
func (s *Store) SetMode(mode scrape.Mode) error {
	if mode != scrape.ModeAgentic && mode != scrape.ModeHybrid {
		return fmt.Errorf("unknown mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.load()
	settings.Mode = mode
	return s.save(settings)
}

// SetMaxProducts changes the per-retailer persistence cap.
func (s *Store) SetMaxProducts(n int) error {
	if n <= 0 {
		return fmt.Errorf("max products must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.load()
	settings.MaxProducts = n
	return s.save(settings)
}

// ToggleRetailer enables or disables a retailer by name.
func (s *Store) ToggleRetailer(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.load()
	cfg, ok := settings.Retailers[name]
	if !ok {
		return fmt.Errorf("unknown retailer %q", name)
	}
	cfg.Enabled = enabled
	settings.Retailers[name] = cfg
	return s.save(settings)
}

// Replace overwrites the whole settings document after validation.
func (s *Store) Replace(settings scrape.ScraperSettings) error {
	if settings.Mode != scrape.ModeAgentic && settings.Mode != scrape.ModeHybrid {
		return fmt.Errorf("unknown mode %q", settings.Mode)
	}
	if settings.MaxProducts <= 0 {
		return fmt.Errorf("max products must be positive, got %d", settings.MaxProducts)
	}
	if len(settings.Retailers) == 0 {
		return fmt.Errorf("at least one retailer is required")
	}
	for name, cfg := range settings.Retailers {
		if cfg.URL == "" {
			return fmt.Errorf("retailer %q has no url", name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(settings)
}
