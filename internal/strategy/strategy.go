// Package strategy implements the two extraction strategies a retailer run
// can use: a fixed deterministic sequence and an oracle-driven agentic loop.
// Both produce raw listings; persistence and normalization happen upstream.
package strategy

import (
	"context"
	"time"

	"github.com/phonewatch/scraper/internal/scrape"
)

// Extractor pulls listings out of a live session's DOM. *adapter.Adapter
// satisfies this.
type Extractor interface {
	Retailer() string
	Extract(ctx context.Context, sess scrape.Session) ([]scrape.RawListing, error)
	Keep(l scrape.RawListing) bool
}

// Strategy runs one retailer's extraction inside an already-opened session.
type Strategy interface {
	Run(ctx context.Context, sess scrape.Session, target scrape.Retailer) ([]scrape.RawListing, error)
}

// dedupe drops listings whose name was already seen, preserving first-seen
// order. Agentic loops can re-extract the same page region across iterations.
func dedupe(listings []scrape.RawListing) []scrape.RawListing {
	seen := make(map[string]struct{}, len(listings))
	out := listings[:0]
	for _, l := range listings {
		if _, ok := seen[l.Name]; ok {
			continue
		}
		seen[l.Name] = struct{}{}
		out = append(out, l)
	}
	return out
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
