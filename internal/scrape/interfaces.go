package scrape

import (
	"context"
	"time"
)

// Session is an opaque browsing capability owned by exactly one retailer run.
// Operations within a session are strictly sequential.
type Session interface {
	// Navigate loads the given URL. Failure is terminal for the run.
	Navigate(ctx context.Context, url string) error
	// WaitForIdle waits for network idle up to timeout. Implementations fall
	// back to a fixed delay instead of returning an error when idle detection
	// times out.
	WaitForIdle(ctx context.Context, timeout time.Duration) error
	// ScrollBy scrolls the viewport vertically by the given pixel amount.
	ScrollBy(ctx context.Context, pixels int) error
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// HTML returns the current DOM serialized as HTML.
	HTML(ctx context.Context) (string, error)
	// Close releases the session's browser resources.
	Close() error
}

// SessionFactory opens a fresh browsing session for one retailer run.
// Sessions are never shared across retailers or reused across runs.
type SessionFactory interface {
	NewSession(ctx context.Context, startURL string) (Session, error)
}

// Gateway is the idempotent persistence collaborator. Calling UpsertProduct
// or UpsertRetailerLink twice with the same key never produces two rows; only
// AppendPriceObservation grows per call.
type Gateway interface {
	UpsertProduct(ctx context.Context, identity CanonicalIdentity) (int64, error)
	UpsertRetailerLink(ctx context.Context, productID int64, retailer, scrapedName, url string) (int64, error)
	AppendPriceObservation(ctx context.Context, linkID int64, sample PriceSample) error
	RecordScraperLog(ctx context.Context, result ScrapeRunResult) error
}

// Oracle chooses the next browsing action in the agentic strategy. It is
// untrusted: implementations map unparseable output to the done action and
// report it via ErrOracleParse.
type Oracle interface {
	Decide(ctx context.Context, input DecisionInput) (Decision, error)
}

// BlobStore archives raw artifacts (screenshots, run summaries) and returns
// a URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used to key archived artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
