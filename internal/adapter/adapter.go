// Package adapter implements per-retailer listing extraction over a DOM
// snapshot. Every field is resolved through an ordered list of selector
// candidates; the first candidate producing a plausible value wins.
package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/scrape"
)

// SelectorSet holds the ordered selector candidates for each extracted field.
type SelectorSet struct {
	Container     []string
	Name          []string
	Price         []string
	OriginalPrice []string
	Stock         []string
	Promo         []string
}

// Adapter extracts raw listings for one retailer. It holds no session state
// and is safe for reuse across runs.
type Adapter struct {
	retailer   string
	baseURL    string
	selectors  SelectorSet
	priceFloor float64
	logger     *zap.Logger
}

// New builds an Adapter. priceFloor rejects selector candidates whose text
// parses to an implausibly small number (ratings, quantities, percentages).
func New(retailer, baseURL string, selectors SelectorSet, priceFloor float64, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		retailer:   retailer,
		baseURL:    baseURL,
		selectors:  selectors,
		priceFloor: priceFloor,
		logger:     logger.With(zap.String("retailer", retailer)),
	}
}

// Retailer returns the retailer this adapter extracts for.
func (a *Adapter) Retailer() string {
	return a.retailer
}

// Keep applies the phone-likeness filter to a listing and requires the
// minimum fields (name and cash price) to be present. Oracle-supplied
// listings pass through the same gate as DOM-extracted ones.
func (a *Adapter) Keep(l scrape.RawListing) bool {
	return l.Name != "" && l.PriceCash != nil && IsPhoneListing(l.Name)
}

// Extract snapshots the session DOM and extracts all listings from it.
// A failed snapshot is terminal for the run; per-listing extraction misses
// are not.
func (a *Adapter) Extract(ctx context.Context, sess scrape.Session) ([]scrape.RawListing, error) {
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot dom: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	return a.ExtractFromDocument(doc), nil
}

// ExtractFromDocument walks the parsed DOM and returns every listing that
// survives field extraction and the phone-likeness filter.
func (a *Adapter) ExtractFromDocument(doc *goquery.Document) []scrape.RawListing {
	containers := a.findContainers(doc)
	if containers == nil {
		a.logger.Warn("no listing containers matched any selector candidate")
		return nil
	}

	var listings []scrape.RawListing
	containers.Each(func(_ int, s *goquery.Selection) {
		listing, ok := a.extractOne(s)
		if !ok {
			return
		}
		if !IsPhoneListing(listing.Name) {
			a.logger.Debug("listing filtered as non-phone", zap.String("name", listing.Name))
			return
		}
		listings = append(listings, listing)
	})

	a.logger.Info("extracted listings", zap.Int("count", len(listings)))
	return listings
}

func (a *Adapter) findContainers(doc *goquery.Document) *goquery.Selection {
	for _, selector := range a.selectors.Container {
		sel := doc.Find(selector)
		if sel.Length() > 0 {
			a.logger.Debug("container selector matched",
				zap.String("selector", selector), zap.Int("count", sel.Length()))
			return sel
		}
	}
	return nil
}

func (a *Adapter) extractOne(s *goquery.Selection) (scrape.RawListing, bool) {
	name := a.firstText(s, a.selectors.Name, 4)
	if name == "" {
		return scrape.RawListing{}, false
	}

	price := a.firstPrice(s, a.selectors.Price, a.priceFloor)
	if price == nil {
		return scrape.RawListing{}, false
	}

	listing := scrape.RawListing{
		Name:          name,
		PriceCash:     price,
		OriginalPrice: a.firstPrice(s, a.selectors.OriginalPrice, 0),
		PromoText:     a.firstText(s, a.selectors.Promo, 1),
		URL:           a.listingURL(s),
	}
	listing.InStock, listing.StockStatus = a.stockStatus(s)
	return listing, true
}

// firstText tries each selector candidate in order and returns the first
// non-empty text longer than minLen.
func (a *Adapter) firstText(s *goquery.Selection, candidates []string, minLen int) string {
	for _, selector := range candidates {
		text := CleanText(s.Find(selector).First().Text())
		if len(text) >= minLen {
			return text
		}
	}
	return ""
}

// firstPrice tries each selector candidate in order and returns the first
// value that parses and clears the floor.
func (a *Adapter) firstPrice(s *goquery.Selection, candidates []string, floor float64) *float64 {
	for _, selector := range candidates {
		text := s.Find(selector).First().Text()
		if p := ParsePrice(text); p != nil && *p >= floor {
			return p
		}
	}
	return nil
}

var outOfStockTerms = []string{"out of stock", "sold out", "unavailable", "rupture"}

func (a *Adapter) stockStatus(s *goquery.Selection) (bool, string) {
	text := strings.ToLower(s.Text())
	if explicit := a.firstText(s, a.selectors.Stock, 1); explicit != "" {
		text = strings.ToLower(explicit)
	}
	for _, term := range outOfStockTerms {
		if strings.Contains(text, term) {
			return false, "out_of_stock"
		}
	}
	return true, "in_stock"
}

func (a *Adapter) listingURL(s *goquery.Selection) string {
	href, ok := s.Find("a").First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
