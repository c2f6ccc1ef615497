package adapter

import (
	"net/url"

	"go.uber.org/zap"
)

// priceFloorMUR rejects price-candidate text below this value; listings on
// the tracked sites never sell phones for less, so smaller numbers are
// ratings, quantities, or installment counts.
const priceFloorMUR = 1000

// genericSelectors is the shared candidate chain used when a retailer has no
// tuned selector set. Candidates are ordered most-specific first.
var genericSelectors = SelectorSet{
	Container: []string{
		".product-miniature", ".product-item", ".product-card", ".product",
		"[data-product-id]", "li.item",
	},
	Name: []string{
		".product-name", ".product-title", "h3", "h4", ".title",
		"[class*=\"name\"]", "a.product-link", ".h3",
	},
	Price: []string{
		".price", ".price-cash", ".final-price", ".product-price",
		".sale-price", "[itemprop=\"price\"]", "[class*=\"price\"]",
	},
	OriginalPrice: []string{
		".old-price", ".original-price", ".was-price", "[class*=\"regular-price\"]",
	},
	Stock: []string{
		".stock", ".availability", "[class*=\"stock\"]",
	},
	Promo: []string{
		".promo", ".discount-label", ".badge-sale", "[class*=\"promo\"]",
	},
}

// tuned holds retailer-specific overrides learned from the live sites.
var tuned = map[string]SelectorSet{
	"Courts Mauritius": {
		Container: []string{
			".product-miniature", ".product-item", ".product-card", ".product",
			"[data-product-id]",
		},
		Name: []string{
			".product-name", ".product-title", "h3", "h4", ".title",
			"[class*=\"name\"]", "a.product-link", ".h3",
		},
		Price: []string{
			".price", ".price-cash", ".final-price", "[class*=\"price\"]",
			".product-price", ".sale-price", "[itemprop=\"price\"]",
		},
		OriginalPrice: []string{
			".old-price", ".original-price", ".was-price", "[class*=\"regular-price\"]",
		},
		Stock: []string{".product-availability", ".stock"},
		Promo: []string{".discount-percentage", ".on-sale", ".promo"},
	},
	"Galaxy Electronics": {
		Container: []string{
			".product-grid-item", ".product-item", ".product-card", ".product",
		},
		Name: []string{
			".product-item-name", ".product-name", "h2.product-title", "h3", ".title",
		},
		Price: []string{
			".special-price .price", ".price-final", ".price", "[class*=\"price\"]",
		},
		OriginalPrice: []string{".old-price .price", ".old-price", ".regular-price"},
		Stock:         []string{".stock.unavailable", ".stock", ".availability"},
		Promo:         []string{".product-label", ".sale-badge"},
	},
	"Price Guru": {
		Container: []string{
			".product-card", ".product-box", ".product-item", ".product",
		},
		Name: []string{
			".product-card-title", ".product-name", "h3", "h4", "a.product-link",
		},
		Price: []string{
			".price-new", ".product-price", ".price", "[class*=\"price\"]",
		},
		OriginalPrice: []string{".price-old", ".old-price"},
		Stock:         []string{".out-of-stock-label", ".stock-status"},
		Promo:         []string{".label-sale", ".discount"},
	},
	"361 Degrees": {
		Container: []string{
			".product", ".product-item", ".product-card", "[data-product-id]",
		},
		Name: []string{
			".woocommerce-loop-product__title", ".product-title", "h2", "h3",
		},
		Price: []string{
			".price ins .amount", ".price .amount", ".price", "[class*=\"price\"]",
		},
		OriginalPrice: []string{".price del .amount", ".old-price"},
		Stock:         []string{".stock.out-of-stock", ".stock"},
		Promo:         []string{".onsale", ".promo"},
	},
}

// ForRetailer returns an adapter for the named retailer. Unknown retailers
// get the generic candidate chain, which covers the common storefront
// platforms the tracked shops run on.
func ForRetailer(name, listingURL string, logger *zap.Logger) *Adapter {
	selectors, ok := tuned[name]
	if !ok {
		selectors = genericSelectors
	}
	return New(name, siteBase(listingURL), selectors, priceFloorMUR, logger)
}

func siteBase(listingURL string) string {
	u, err := url.Parse(listingURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return listingURL
	}
	return u.Scheme + "://" + u.Host
}
