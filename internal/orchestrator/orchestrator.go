// Package orchestrator coordinates a full scrape run: one isolated browser
// session per enabled retailer, concurrent execution with per-retailer
// failure isolation, and the normalize-then-persist pipeline for every
// extracted listing.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/adapter"
	"github.com/phonewatch/scraper/internal/metrics"
	"github.com/phonewatch/scraper/internal/normalize"
	"github.com/phonewatch/scraper/internal/probe"
	"github.com/phonewatch/scraper/internal/scrape"
	"github.com/phonewatch/scraper/internal/strategy"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// Config tunes the orchestration pipeline.
type Config struct {
	Concurrency   int
	RunTimeout    time.Duration
	Topic         string
	Deterministic strategy.DeterministicConfig
	Agentic       strategy.AgenticConfig
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.Topic == "" {
		c.Topic = "scrape-runs"
	}
}

// Orchestrator runs scrapes. Exactly one run may be active at a time.
type Orchestrator struct {
	sessions   scrape.SessionFactory
	oracle     scrape.Oracle
	gateway    scrape.Gateway
	normalizer *normalize.Normalizer
	blobs      scrape.BlobStore
	hasher     scrape.Hasher
	publisher  scrape.Publisher
	prober     *probe.Prober
	clock      scrape.Clock
	cfg        Config
	logger     *zap.Logger

	mu          sync.Mutex
	running     bool
	lastSummary *scrape.RunSummary
}

// Deps carries the orchestrator's collaborators. Sessions, Gateway,
// Normalizer, and Clock are required; the rest degrade gracefully when nil
// (no screenshot archive, no event publishing, no pre-flight probe).
type Deps struct {
	Sessions   scrape.SessionFactory
	Oracle     scrape.Oracle
	Gateway    scrape.Gateway
	Normalizer *normalize.Normalizer
	Blobs      scrape.BlobStore
	Hasher     scrape.Hasher
	Publisher  scrape.Publisher
	Prober     *probe.Prober
	Clock      scrape.Clock
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:   deps.Sessions,
		oracle:     deps.Oracle,
		gateway:    deps.Gateway,
		normalizer: deps.Normalizer,
		blobs:      deps.Blobs,
		hasher:     deps.Hasher,
		publisher:  deps.Publisher,
		prober:     deps.Prober,
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastSummary returns the most recent completed run summary, if any.
func (o *Orchestrator) LastSummary() (scrape.RunSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSummary == nil {
		return scrape.RunSummary{}, false
	}
	return *o.lastSummary, true
}

// Run executes one scrape over every enabled retailer in the settings
// snapshot. Each retailer runs in its own goroutine with its own session;
// one retailer's failure never aborts the others. The summary always covers
// every enabled retailer.
func (o *Orchestrator) Run(ctx context.Context, settings scrape.ScraperSettings) (scrape.RunSummary, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return scrape.RunSummary{}, ErrRunInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	runID := uuid.NewString()
	startedAt := o.clock.Now()
	logger := o.logger.With(zap.String("run_id", runID), zap.String("mode", string(settings.Mode)))

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	retailers := settings.EnabledRetailers()
	logger.Info("scrape run starting", zap.Int("retailers", len(retailers)))

	results := make([]scrape.ScrapeRunResult, len(retailers))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, target := range retailers {
		wg.Add(1)
		go func(i int, target scrape.Retailer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.scrapeRetailer(ctx, settings, target, logger)
		}(i, target)
	}
	wg.Wait()

	summary := scrape.RunSummary{
		RunID:      runID,
		Mode:       settings.Mode,
		StartedAt:  startedAt,
		FinishedAt: o.clock.Now(),
		Results:    results,
	}
	for _, r := range results {
		summary.TotalFound += r.ProductsFound
		summary.TotalSaved += r.ProductsSaved
	}

	o.archiveSummary(ctx, summary, logger)
	o.publishSummary(ctx, summary, logger)

	o.mu.Lock()
	o.lastSummary = &summary
	o.mu.Unlock()

	logger.Info("scrape run finished",
		zap.Int("total_found", summary.TotalFound),
		zap.Int("total_saved", summary.TotalSaved),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

// scrapeRetailer runs one retailer end to end and always returns a result;
// panics inside a retailer's scrape are converted into a failed result.
func (o *Orchestrator) scrapeRetailer(ctx context.Context, settings scrape.ScraperSettings, target scrape.Retailer, logger *zap.Logger) (result scrape.ScrapeRunResult) {
	start := o.clock.Now()
	logger = logger.With(zap.String("retailer", target.Name))
	result = scrape.ScrapeRunResult{Retailer: target.Name, ScrapedAt: start}

	metrics.IncActiveScrapes()
	defer metrics.DecActiveScrapes()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("retailer scrape panicked", zap.Any("panic", r))
			result.Status = scrape.StatusFailed
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
		}
		result.ExecutionTime = o.clock.Now().Sub(start)
		o.finishRetailer(ctx, result, logger)
	}()

	if o.prober != nil {
		if err := o.prober.Check(ctx, target.URL); err != nil {
			// Advisory only; the browser may succeed where plain HTTP fails.
			metrics.ObserveProbeCheck(target.URL, "unreachable")
			logger.Warn("pre-flight probe failed", zap.Error(err))
		} else {
			metrics.ObserveProbeCheck(target.URL, "reachable")
		}
	}

	sess, err := o.sessions.NewSession(ctx, target.URL)
	if err != nil {
		result.Status = scrape.StatusFailed
		result.Errors = append(result.Errors, fmt.Sprintf("open session: %v", err))
		return result
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("close session", zap.Error(cerr))
		}
	}()

	listings, err := o.buildStrategy(settings.Mode, target, logger).Run(ctx, sess, target)
	if err != nil {
		result.Status = scrape.StatusFailed
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	// The cap applies before counting: a capped retailer that persists every
	// kept listing still counts as a clean run.
	if settings.MaxProducts > 0 && len(listings) > settings.MaxProducts {
		logger.Info("capping listings",
			zap.Int("extracted", len(listings)), zap.Int("cap", settings.MaxProducts))
		listings = listings[:settings.MaxProducts]
	}
	result.ProductsFound = len(listings)

	saved, persistErrs := o.persist(ctx, target.Name, listings, logger)
	result.ProductsSaved = saved
	result.Errors = append(result.Errors, persistErrs...)
	result.Status = deriveStatus(result)
	return result
}

// buildStrategy maps the settings mode to a strategy for one retailer.
// Agentic mode requires an oracle; without one it degrades to deterministic.
func (o *Orchestrator) buildStrategy(mode scrape.Mode, target scrape.Retailer, logger *zap.Logger) strategy.Strategy {
	extractor := adapter.ForRetailer(target.Name, target.URL, logger)
	if mode == scrape.ModeAgentic && o.oracle != nil {
		return strategy.NewAgentic(o.oracle, extractor, o.blobs, o.hasher, o.cfg.Agentic, logger)
	}
	return strategy.NewDeterministic(extractor, o.cfg.Deterministic, logger)
}

// persist runs the normalize-then-store pipeline over listings in scrape
// order. Per-listing failures are recorded and skipped.
func (o *Orchestrator) persist(ctx context.Context, retailer string, listings []scrape.RawListing, logger *zap.Logger) (int, []string) {
	var saved int
	var errs []string
	for _, listing := range listings {
		identity := o.normalizer.Normalize(ctx, listing.Name)

		productID, err := o.gateway.UpsertProduct(ctx, identity)
		if err != nil {
			errs = append(errs, fmt.Sprintf("save %q: %v", listing.Name, err))
			continue
		}
		linkID, err := o.gateway.UpsertRetailerLink(ctx, productID, retailer, listing.Name, listing.URL)
		if err != nil {
			errs = append(errs, fmt.Sprintf("link %q: %v", listing.Name, err))
			continue
		}
		if err := o.gateway.AppendPriceObservation(ctx, linkID, listing.PriceSample()); err != nil {
			errs = append(errs, fmt.Sprintf("price %q: %v", listing.Name, err))
			continue
		}
		saved++
	}
	if len(errs) > 0 {
		logger.Warn("some listings failed to persist",
			zap.Int("saved", saved), zap.Int("failed", len(errs)))
	}
	return saved, errs
}

// deriveStatus maps a retailer's counts and errors to its final status.
// Failed is reserved for scrapes that never returned listings; once listings
// exist, persistence trouble downgrades the run to partial at worst.
func deriveStatus(r scrape.ScrapeRunResult) scrape.RunStatus {
	switch {
	case r.ProductsFound == 0:
		return scrape.StatusNoProducts
	case len(r.Errors) > 0 || r.ProductsSaved < r.ProductsFound:
		return scrape.StatusPartial
	default:
		return scrape.StatusSuccess
	}
}

// finishRetailer records the result in the scraper log and metrics. Logging
// failures are reported but never alter the result.
func (o *Orchestrator) finishRetailer(ctx context.Context, result scrape.ScrapeRunResult, logger *zap.Logger) {
	metrics.ObserveScrape(result.Retailer, string(result.Status),
		result.ProductsFound, result.ProductsSaved, result.ExecutionTime)

	if err := o.gateway.RecordScraperLog(ctx, result); err != nil {
		logger.Warn("record scraper log failed", zap.Error(err))
	}
	logger.Info("retailer scrape finished",
		zap.String("status", string(result.Status)),
		zap.Int("found", result.ProductsFound),
		zap.Int("saved", result.ProductsSaved),
		zap.Duration("elapsed", result.ExecutionTime))
}

// archiveSummary stores the run summary as JSON in the blob store.
func (o *Orchestrator) archiveSummary(ctx context.Context, summary scrape.RunSummary, logger *zap.Logger) {
	if o.blobs == nil {
		return
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.Warn("marshal run summary failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("runs/%s.json", summary.RunID)
	uri, err := o.blobs.PutObject(ctx, path, "application/json", data)
	if err != nil {
		logger.Warn("archive run summary failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("run summary archived", zap.String("uri", uri))
}

// publishSummary pushes the run-completion event to the message bus.
func (o *Orchestrator) publishSummary(ctx context.Context, summary scrape.RunSummary, logger *zap.Logger) {
	if o.publisher == nil {
		return
	}
	id, err := o.publisher.Publish(ctx, o.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	logger.Info("run summary published", zap.String("message_id", id))
}
