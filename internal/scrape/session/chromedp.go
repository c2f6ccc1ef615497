// Package session implements the browsing session capability on headless
// Chrome via chromedp. One session maps to one browser tab and is owned by a
// single retailer run.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/phonewatch/scraper/internal/scrape"
)

// Config controls the shared browser process and per-session behavior.
type Config struct {
	Headless          bool
	UserAgent         string
	NavTimeout        time.Duration
	ActionTimeout     time.Duration
	IdleSettle        time.Duration
	IdleFallbackDelay time.Duration
	MaxSessions       int
	DomainQPS         float64
}

// Factory owns one headless browser process and hands out tab-backed
// sessions. Session concurrency is bounded by a semaphore and navigation is
// rate limited per domain.
type Factory struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	cfg             Config
	domainLimiters  sync.Map
}

// NewFactory starts the browser allocator and warms up a browser context.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.IdleSettle <= 0 {
		cfg.IdleSettle = 500 * time.Millisecond
	}
	if cfg.IdleFallbackDelay <= 0 {
		cfg.IdleFallbackDelay = 3 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Factory{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxSessions),
		cfg:             cfg,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (f *Factory) Close() error {
	if f == nil {
		return nil
	}
	f.browserCancel()
	f.allocatorCancel()
	return nil
}

// NewSession opens a fresh tab for the retailer whose listing page lives at
// startURL. The caller must Close the session when its run finishes.
func (f *Factory) NewSession(ctx context.Context, startURL string) (scrape.Session, error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session slot: %w", ctx.Err())
	}

	if err := f.waitDomainBudget(ctx, startURL); err != nil {
		<-f.sem
		return nil, fmt.Errorf("session rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	s := &chromeSession{
		tabCtx:  tabCtx,
		cancel:  cancelTab,
		release: func() { <-f.sem },
		cfg:     f.cfg,
		logger:  f.logger,
	}
	s.trackInflight()

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(f.cfg.UserAgent),
	); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare tab: %w", err)
	}
	return s, nil
}

func (f *Factory) waitDomainBudget(ctx context.Context, rawURL string) error {
	if f.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse session url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := f.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type chromeSession struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	release func()
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	inflight int
	closed   bool
}

// trackInflight counts outstanding network requests on the tab so WaitForIdle
// can detect quiescence.
func (s *chromeSession) trackInflight() {
	chromedp.ListenTarget(s.tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			s.mu.Lock()
			s.inflight++
			s.mu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			s.mu.Lock()
			if s.inflight > 0 {
				s.inflight--
			}
			s.mu.Unlock()
		}
	})
}

func (s *chromeSession) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *chromeSession) Navigate(ctx context.Context, rawURL string) error {
	taskCtx, cancel := s.taskContext(ctx, s.cfg.NavTimeout)
	defer cancel()

	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, errors.Join(scrape.ErrNavigation, err))
	}
	return nil
}

// WaitForIdle waits until no network request has been in flight for the
// settle window. When the timeout elapses first it falls back to a fixed
// delay instead of failing, so callers proceed with a partial DOM.
func (s *chromeSession) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	var quietSince time.Time
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for idle: %w", ctx.Err())
		case <-s.tabCtx.Done():
			return fmt.Errorf("wait for idle: %w", s.tabCtx.Err())
		case <-deadline.C:
			s.logger.Debug("network idle timed out, falling back to fixed delay",
				zap.Duration("delay", s.cfg.IdleFallbackDelay))
			return sleepCtx(ctx, s.cfg.IdleFallbackDelay)
		case <-tick.C:
			if s.inflightCount() > 0 {
				quietSince = time.Time{}
				continue
			}
			if quietSince.IsZero() {
				quietSince = time.Now()
				continue
			}
			if time.Since(quietSince) >= s.cfg.IdleSettle {
				return nil
			}
		}
	}
}

func (s *chromeSession) ScrollBy(ctx context.Context, pixels int) error {
	taskCtx, cancel := s.taskContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	script := fmt.Sprintf("window.scrollBy(0, %d)", pixels)
	if pixels <= 0 {
		script = "window.scrollTo(0, document.body.scrollHeight)"
	}
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	taskCtx, cancel := s.taskContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	if err := chromedp.Run(taskCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	taskCtx, cancel := s.taskContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(taskCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	taskCtx, cancel := s.taskContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("dom snapshot: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.release()
	return nil
}

// taskContext bounds one browser operation by the caller's context and the
// configured timeout.
func (s *chromeSession) taskContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, timeout)
	stop := forwardCancel(ctx, cancelTask)
	return taskCtx, func() {
		stop()
		cancelTask()
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("idle fallback delay: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
