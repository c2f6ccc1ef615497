package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/scrape"
)

// DeterministicConfig tunes the fixed browsing sequence.
type DeterministicConfig struct {
	ScrollSteps  int
	ScrollPixels int
	IdleTimeout  time.Duration
	ScrollSettle time.Duration
}

func (c *DeterministicConfig) applyDefaults() {
	if c.ScrollSteps <= 0 {
		c.ScrollSteps = 4
	}
	if c.ScrollPixels <= 0 {
		c.ScrollPixels = 800
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.ScrollSettle <= 0 {
		c.ScrollSettle = 1500 * time.Millisecond
	}
}

// Deterministic runs a fixed sequence: navigate, wait for idle, scroll the
// page in steps to trigger lazy loading, then extract the DOM once. It never
// consults the oracle.
type Deterministic struct {
	extractor Extractor
	cfg       DeterministicConfig
	logger    *zap.Logger
}

// NewDeterministic builds the strategy around one retailer's extractor.
func NewDeterministic(extractor Extractor, cfg DeterministicConfig, logger *zap.Logger) *Deterministic {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deterministic{
		extractor: extractor,
		cfg:       cfg,
		logger:    logger.With(zap.String("strategy", "deterministic"), zap.String("retailer", extractor.Retailer())),
	}
}

// Run executes the sequence. Navigation failure is terminal; a timed-out idle
// wait is not (the session falls back to a fixed delay).
func (d *Deterministic) Run(ctx context.Context, sess scrape.Session, target scrape.Retailer) ([]scrape.RawListing, error) {
	if err := sess.Navigate(ctx, target.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", target.URL, err)
	}
	if err := sess.WaitForIdle(ctx, d.cfg.IdleTimeout); err != nil {
		return nil, fmt.Errorf("wait for idle: %w", err)
	}

	for i := 0; i < d.cfg.ScrollSteps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sess.ScrollBy(ctx, d.cfg.ScrollPixels); err != nil {
			d.logger.Warn("scroll step failed", zap.Int("step", i), zap.Error(err))
			break
		}
		sleepCtx(ctx, d.cfg.ScrollSettle)
	}

	listings, err := d.extractor.Extract(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return dedupe(listings), nil
}
