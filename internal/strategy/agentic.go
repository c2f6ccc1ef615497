package strategy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/normalize"
	"github.com/phonewatch/scraper/internal/scrape"
)

// AgenticConfig bounds the oracle-driven loop.
type AgenticConfig struct {
	MaxIterations int
	IdleTimeout   time.Duration
	WaitDelay     time.Duration
	DOMExcerptLen int
	Task          string
}

func (c *AgenticConfig) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = 2 * time.Second
	}
	if c.DOMExcerptLen <= 0 {
		c.DOMExcerptLen = 4000
	}
	if c.Task == "" {
		c.Task = "Find every smartphone listing on this page, including prices and stock status."
	}
}

// Agentic runs an oracle-in-the-loop extraction: each iteration captures the
// page state, asks the oracle for the next action, and executes it. Action
// failures are never fatal; the loop ends on done, on an oracle parse failure,
// or when the iteration budget runs out, always keeping listings collected so
// far. If the loop collected nothing, the DOM is extracted once as a fallback.
type Agentic struct {
	oracle    scrape.Oracle
	extractor Extractor
	blobs     scrape.BlobStore
	hasher    scrape.Hasher
	cfg       AgenticConfig
	logger    *zap.Logger
}

// NewAgentic builds the strategy. blobs and hasher may be nil together to
// disable the screenshot archive.
func NewAgentic(oracle scrape.Oracle, extractor Extractor, blobs scrape.BlobStore, hasher scrape.Hasher, cfg AgenticConfig, logger *zap.Logger) *Agentic {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agentic{
		oracle:    oracle,
		extractor: extractor,
		blobs:     blobs,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger.With(zap.String("strategy", "agentic"), zap.String("retailer", extractor.Retailer())),
	}
}

// Run executes the loop against the target's listing page.
func (a *Agentic) Run(ctx context.Context, sess scrape.Session, target scrape.Retailer) ([]scrape.RawListing, error) {
	if err := sess.Navigate(ctx, target.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", target.URL, err)
	}
	if err := sess.WaitForIdle(ctx, a.cfg.IdleTimeout); err != nil {
		return nil, fmt.Errorf("wait for idle: %w", err)
	}

	var listings []scrape.RawListing
loop:
	for i := 1; i <= a.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := a.oracle.Decide(ctx, a.observe(ctx, sess, target, i, len(listings)))
		if err != nil {
			// Parse failures and call failures both degrade to done; the
			// listings collected so far survive.
			if !errors.Is(err, scrape.ErrOracleParse) {
				a.logger.Warn("oracle decide failed", zap.Int("iteration", i), zap.Error(err))
			}
			break
		}
		a.logger.Debug("oracle decision",
			zap.Int("iteration", i),
			zap.String("action", string(decision.Action.Type)),
			zap.String("reasoning", decision.Reasoning))

		switch decision.Action.Type {
		case scrape.ActionDone:
			break loop
		case scrape.ActionExtract:
			listings = append(listings, a.extract(ctx, sess, decision.Action)...)
		case scrape.ActionScroll:
			if err := sess.ScrollBy(ctx, scrollAmount(decision.Action.Target)); err != nil {
				a.logger.Warn("scroll action failed", zap.Error(err))
			}
			sleepCtx(ctx, a.cfg.WaitDelay)
		case scrape.ActionClick:
			if err := sess.Click(ctx, decision.Action.Target); err != nil {
				a.logger.Warn("click action failed", zap.String("selector", decision.Action.Target), zap.Error(err))
			}
			sleepCtx(ctx, a.cfg.WaitDelay)
		case scrape.ActionNavigate:
			if err := sess.Navigate(ctx, decision.Action.Target); err != nil {
				a.logger.Warn("navigate action failed", zap.String("url", decision.Action.Target), zap.Error(err))
			} else if err := sess.WaitForIdle(ctx, a.cfg.IdleTimeout); err != nil {
				a.logger.Warn("idle wait after navigate failed", zap.Error(err))
			}
		case scrape.ActionWait:
			sleepCtx(ctx, a.cfg.WaitDelay)
		}
	}

	if len(listings) == 0 {
		a.logger.Info("agentic loop yielded nothing, extracting dom as fallback")
		fallback, err := a.extractor.Extract(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("fallback extract: %w", err)
		}
		listings = fallback
	}
	return dedupe(listings), nil
}

// observe captures the current page state for the oracle. Capture failures
// degrade to an emptier observation rather than aborting the loop.
func (a *Agentic) observe(ctx context.Context, sess scrape.Session, target scrape.Retailer, iteration, count int) scrape.DecisionInput {
	input := scrape.DecisionInput{
		Retailer:     target.Name,
		Task:         a.cfg.Task,
		Iteration:    iteration,
		ListingCount: count,
	}

	if shot, err := sess.Screenshot(ctx); err != nil {
		a.logger.Warn("screenshot failed", zap.Int("iteration", iteration), zap.Error(err))
	} else {
		input.Screenshot = shot
		a.archiveScreenshot(ctx, target.Name, shot)
	}

	if html, err := sess.HTML(ctx); err != nil {
		a.logger.Warn("dom snapshot failed", zap.Int("iteration", iteration), zap.Error(err))
	} else {
		if len(html) > a.cfg.DOMExcerptLen {
			html = html[:a.cfg.DOMExcerptLen]
		}
		input.DOMExcerpt = html
	}
	return input
}

// extract resolves an extract action: oracle-supplied listings run through the
// same keep filter as DOM-extracted ones; an empty products list falls back to
// the DOM.
func (a *Agentic) extract(ctx context.Context, sess scrape.Session, action scrape.Action) []scrape.RawListing {
	if len(action.Listings) > 0 {
		kept := make([]scrape.RawListing, 0, len(action.Listings))
		for _, l := range action.Listings {
			if a.extractor.Keep(l) {
				kept = append(kept, l)
			}
		}
		a.logger.Debug("kept oracle-supplied listings",
			zap.Int("supplied", len(action.Listings)), zap.Int("kept", len(kept)))
		return kept
	}

	listings, err := a.extractor.Extract(ctx, sess)
	if err != nil {
		a.logger.Warn("dom extract during loop failed", zap.Error(err))
		return nil
	}
	return listings
}

// archiveScreenshot stores the screenshot keyed by content hash and returns
// silently on any failure; the archive is best-effort.
func (a *Agentic) archiveScreenshot(ctx context.Context, retailer string, shot []byte) {
	if a.blobs == nil || a.hasher == nil || len(shot) == 0 {
		return
	}
	digest, err := a.hasher.Hash(shot)
	if err != nil {
		a.logger.Warn("hash screenshot failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("screenshots/%s/%s.png", normalize.Slug(retailer), digest)
	if _, err := a.blobs.PutObject(ctx, path, "image/png", shot); err != nil {
		a.logger.Warn("archive screenshot failed", zap.String("path", path), zap.Error(err))
	}
}

// scrollAmount parses the oracle's scroll target. "bottom" or garbage scrolls
// to the bottom of the page.
func scrollAmount(target string) int {
	target = strings.TrimSpace(strings.ToLower(target))
	if target == "" || target == "bottom" {
		return 0
	}
	px, err := strconv.Atoi(strings.TrimSuffix(target, "px"))
	if err != nil || px <= 0 {
		return 0
	}
	return px
}
