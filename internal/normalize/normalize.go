// Package normalize resolves raw listing names to canonical product
// identities through a tiered pipeline: brand patterns, a bounded memo,
// optional AI assistance, and a brand-vocabulary fallback. Normalize is
// total; it never fails.
package normalize

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/metrics"
	"github.com/phonewatch/scraper/internal/scrape"
)

// Assist is the optional AI-backed tier. Any error, including a non-phone
// classification, is treated as a tier miss, never surfaced to the caller.
type Assist interface {
	NormalizeName(ctx context.Context, rawName string) (scrape.CanonicalIdentity, error)
}

// fallbackBrands is the fixed vocabulary for tier-four substring matching.
var fallbackBrands = []string{
	"Samsung", "Apple", "Xiaomi", "Oppo", "Vivo", "Realme", "Honor",
	"OnePlus", "Google", "Huawei", "Motorola", "Nokia", "Infinix", "Tecno",
}

// Normalizer resolves raw names to canonical identities. It tolerates
// concurrent use; first-time misses on the same raw name may compute
// redundantly but converge to the same cached value.
type Normalizer struct {
	cache  *lru.Cache[string, scrape.CanonicalIdentity]
	assist Assist
	logger *zap.Logger
}

// New builds a Normalizer with a memo bounded to cacheSize entries. assist
// may be nil to disable the AI tier.
func New(cacheSize int, assist Assist, logger *zap.Logger) (*Normalizer, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, scrape.CanonicalIdentity](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("build normalizer cache: %w", err)
	}
	return &Normalizer{cache: cache, assist: assist, logger: logger}, nil
}

// Normalize resolves rawName through the tiers in order, first success wins.
// It is deterministic for a given raw name and never fails: the fallback
// tier resolves everything, worst case with brand "Unknown".
func (n *Normalizer) Normalize(ctx context.Context, rawName string) scrape.CanonicalIdentity {
	if identity, ok := matchPattern(rawName); ok {
		metrics.ObserveNormalizeTier("pattern")
		n.cache.Add(rawName, identity)
		return identity
	}

	if identity, ok := n.cache.Get(rawName); ok {
		metrics.ObserveNormalizeTier("cache")
		return identity
	}

	if n.assist != nil {
		if identity, ok := n.assisted(ctx, rawName); ok {
			metrics.ObserveNormalizeTier("assist")
			n.cache.Add(rawName, identity)
			return identity
		}
	}

	metrics.ObserveNormalizeTier("fallback")
	identity := n.fallback(rawName)
	n.cache.Add(rawName, identity)
	return identity
}

func (n *Normalizer) assisted(ctx context.Context, rawName string) (scrape.CanonicalIdentity, bool) {
	identity, err := n.assist.NormalizeName(ctx, rawName)
	if err != nil {
		n.logger.Debug("assist tier miss", zap.String("raw_name", rawName), zap.Error(err))
		return scrape.CanonicalIdentity{}, false
	}
	if identity.NormalizedName == "" || identity.Brand == "" {
		return scrape.CanonicalIdentity{}, false
	}
	// Slug stays a pure function of the normalized name regardless of what
	// the assist returned.
	identity.Slug = Slug(identity.NormalizedName)
	return identity, true
}

// fallback matches the raw name against the brand vocabulary and otherwise
// resolves to an Unknown-brand identity carrying the raw name verbatim.
func (n *Normalizer) fallback(rawName string) scrape.CanonicalIdentity {
	brand := "Unknown"
	lower := strings.ToLower(rawName)
	for _, b := range fallbackBrands {
		if strings.Contains(lower, strings.ToLower(b)) {
			brand = b
			break
		}
	}
	return scrape.CanonicalIdentity{
		Brand:          brand,
		Model:          rawName,
		Variant:        "",
		NormalizedName: rawName,
		Slug:           Slug(rawName),
	}
}
