// Package probe runs a lightweight reachability check against a retailer's
// listing page before a browser session is spent on it. The check is
// advisory: a failed probe is logged but never fails the run, since several
// tracked sites only render behind the full browser.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Prober fetches listing pages with a plain HTTP client.
type Prober struct {
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger
}

// New builds a Prober.
func New(userAgent string, timeout time.Duration, logger *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{userAgent: userAgent, timeout: timeout, logger: logger}
}

// Check fetches the URL once and reports whether it answered with a
// non-server-error status. Bot walls (403, 429) count as reachable; the
// browser session may still get through.
func (p *Prober) Check(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := colly.NewCollector(
		colly.UserAgent(p.userAgent),
		colly.MaxDepth(1),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(p.timeout)

	var status int
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		status = r.StatusCode
		fetchErr = err
	})

	// Visit reports HTTP-error statuses as errors too; only treat its error
	// as fatal when no status was observed (transport-level failure).
	visitErr := c.Visit(url)
	c.Wait()

	switch {
	case status >= 500:
		return fmt.Errorf("probe %s: server error %d", url, status)
	case status == 0 && fetchErr != nil:
		return fmt.Errorf("probe %s: %w", url, fetchErr)
	case status == 0 && visitErr != nil:
		return fmt.Errorf("probe %s: %w", url, visitErr)
	}
	if fetchErr != nil {
		p.logger.Debug("probe got blocked status, counting as reachable",
			zap.String("url", url), zap.Int("status", status), zap.Error(fetchErr))
	}
	return nil
}
