package scrape

import (
	"sort"
	"time"
)

// Mode selects the extraction strategy used for a run.
type Mode string

// Supported scraper modes.
const (
	ModeAgentic Mode = "agentic"
	ModeHybrid  Mode = "hybrid"
)

// RawListing is one listing as extracted from a retailer page. It is
// ephemeral; only its normalized form and price sample are persisted.
type RawListing struct {
	Name          string   `json:"name"`
	PriceCash     *float64 `json:"price_cash,omitempty"`
	PriceCredit   *float64 `json:"price_credit,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	InStock       bool     `json:"in_stock"`
	StockStatus   string   `json:"stock_status,omitempty"`
	PromoText     string   `json:"promo_text,omitempty"`
	URL           string   `json:"url,omitempty"`
}

// PriceSample carries the price fields of one observation for a retailer link.
func (l RawListing) PriceSample() PriceSample {
	return PriceSample{
		PriceCash:     l.PriceCash,
		PriceCredit:   l.PriceCredit,
		OriginalPrice: l.OriginalPrice,
		InStock:       l.InStock,
		StockStatus:   l.StockStatus,
		PromoText:     l.PromoText,
	}
}

// CanonicalIdentity is the deduplicated cross-retailer identity of a product.
// Slug is a pure function of NormalizedName and is the dedup key.
type CanonicalIdentity struct {
	Brand          string `json:"brand"`
	Model          string `json:"model"`
	Variant        string `json:"variant"`
	NormalizedName string `json:"normalized_name"`
	Slug           string `json:"slug"`
}

// PriceSample is one immutable price observation, appended per scrape per
// retailer link and never updated.
type PriceSample struct {
	PriceCash     *float64 `json:"price_cash,omitempty"`
	PriceCredit   *float64 `json:"price_credit,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	InStock       bool     `json:"in_stock"`
	StockStatus   string   `json:"stock_status,omitempty"`
	PromoText     string   `json:"promo_text,omitempty"`
}

// RunStatus is the outcome of one retailer's scrape within a run.
type RunStatus string

// Run status values recorded in scraper logs.
const (
	StatusSuccess    RunStatus = "success"
	StatusPartial    RunStatus = "partial"
	StatusNoProducts RunStatus = "no_products"
	StatusFailed     RunStatus = "failed"
)

// ScrapeRunResult records one retailer's outcome for one run.
type ScrapeRunResult struct {
	Retailer      string        `json:"retailer"`
	Status        RunStatus     `json:"status"`
	ProductsFound int           `json:"products_found"`
	ProductsSaved int           `json:"products_saved"`
	Errors        []string      `json:"errors,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	ScrapedAt     time.Time     `json:"scraped_at"`
}

// RunSummary aggregates every retailer's result for one orchestrated run.
type RunSummary struct {
	RunID      string            `json:"run_id"`
	Mode       Mode              `json:"mode"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    []ScrapeRunResult `json:"results"`
	TotalFound int               `json:"total_found"`
	TotalSaved int               `json:"total_saved"`
}

// RetailerConfig is one retailer entry in the scraper settings.
type RetailerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
}

// ScraperSettings is the configuration snapshot read at orchestration start.
// It is immutable during a run; mutation happens through the settings store
// between runs.
type ScraperSettings struct {
	Mode        Mode                      `json:"mode" mapstructure:"mode"`
	MaxProducts int                       `json:"max_products" mapstructure:"max_products"`
	Retailers   map[string]RetailerConfig `json:"retailers" mapstructure:"retailers"`
}

// Retailer is one enabled scrape target.
type Retailer struct {
	Name string
	URL  string
}

// EnabledRetailers returns the enabled retailers sorted by name so that runs
// enumerate targets in a stable order.
func (s ScraperSettings) EnabledRetailers() []Retailer {
	out := make([]Retailer, 0, len(s.Retailers))
	for name, cfg := range s.Retailers {
		if cfg.Enabled {
			out = append(out, Retailer{Name: name, URL: cfg.URL})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActionType enumerates the fixed decision vocabulary of the agentic loop.
type ActionType string

// Actions the Decision Oracle may choose from.
const (
	ActionExtract  ActionType = "extract"
	ActionScroll   ActionType = "scroll"
	ActionClick    ActionType = "click"
	ActionNavigate ActionType = "navigate"
	ActionWait     ActionType = "wait"
	ActionDone     ActionType = "done"
)

// Valid reports whether t is part of the action vocabulary.
func (t ActionType) Valid() bool {
	switch t {
	case ActionExtract, ActionScroll, ActionClick, ActionNavigate, ActionWait, ActionDone:
		return true
	}
	return false
}

// Action is one decision returned by the oracle. Target carries a CSS
// selector, scroll amount, or URL depending on Type. Listings may be supplied
// directly by the oracle on an extract action.
type Action struct {
	Type     ActionType   `json:"type"`
	Target   string       `json:"target,omitempty"`
	Listings []RawListing `json:"products,omitempty"`
}

// Decision is the oracle's full response for one loop iteration.
type Decision struct {
	Reasoning string `json:"reasoning"`
	Action    Action `json:"action"`
}

// DecisionInput is the context handed to the oracle at each deciding step.
type DecisionInput struct {
	Retailer     string
	Task         string
	Screenshot   []byte
	DOMExcerpt   string
	Iteration    int
	ListingCount int
}
