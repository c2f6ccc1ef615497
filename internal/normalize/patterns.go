package normalize

import (
	"regexp"
	"strings"

	"github.com/phonewatch/scraper/internal/scrape"
)

// Brand-specific patterns, evaluated against the lowercased raw name.
var (
	iphoneRe = regexp.MustCompile(`iphone\s*(1[1-9]|[2-9]\d)\s*(pro\s*max|pro|plus|mini)?`)
	galaxyRe = regexp.MustCompile(`galaxy\s*([sazm]\d+\s*(?:ultra|plus|fe)?|note\s*\d+|z\s*(?:fold|flip)\s*\d*)`)
	xiaomiRe = regexp.MustCompile(`(xiaomi|redmi)\s*((?:note\s*)?\d+[a-z]?\s*(?:pro|ultra|plus|lite)?)`)
	honorRe  = regexp.MustCompile(`honor\s*([x\d]+[a-z]?\s*(?:pro|lite|plus)?)`)

	storageRe = regexp.MustCompile(`(\d+)\s*gb`)
	colorRe   = regexp.MustCompile(`(?:(?:titanium|phantom|sierra|natural|space|sky|ocean|midnight|awesome)\s+)?` +
		`(?:black|white|blue|green|red|purple|yellow|pink|silver|gold|gray|grey|graphite|cream|violet|lavender|mint|starlight|midnight)`)
)

// matchPattern is the first normalization tier: brand-specific regexes that
// pull the model out of the raw name and infer the variant from storage and
// color tokens found nearby. Returns false on no match.
func matchPattern(rawName string) (scrape.CanonicalIdentity, bool) {
	lower := strings.ToLower(rawName)

	if m := iphoneRe.FindString(lower); m != "" {
		model := strings.Replace(titleCase(m), "Iphone", "iPhone", 1)
		return compose("Apple", model, variantOf(lower)), true
	}
	if m := galaxyRe.FindStringSubmatch(lower); m != nil {
		model := "Galaxy " + titleCase(m[1])
		return compose("Samsung", model, variantOf(lower)), true
	}
	if m := xiaomiRe.FindStringSubmatch(lower); m != nil {
		return compose(titleCase(m[1]), titleCase(m[2]), storageOf(lower)), true
	}
	if m := honorRe.FindStringSubmatch(lower); m != nil {
		return compose("Honor", titleCase(m[1]), storageOf(lower)), true
	}
	return scrape.CanonicalIdentity{}, false
}

// compose builds the identity with normalized_name = "{brand} {model}
// {variant}" trimmed of the gaps an empty variant leaves behind.
func compose(brand, model, variant string) scrape.CanonicalIdentity {
	name := strings.TrimSpace(strings.Join(strings.Fields(brand+" "+model+" "+variant), " "))
	return scrape.CanonicalIdentity{
		Brand:          brand,
		Model:          strings.TrimSpace(model),
		Variant:        strings.TrimSpace(variant),
		NormalizedName: name,
		Slug:           Slug(name),
	}
}

func variantOf(lower string) string {
	storage := storageOf(lower)
	color := titleCase(colorRe.FindString(lower))
	return strings.TrimSpace(storage + " " + color)
}

func storageOf(lower string) string {
	m := storageRe.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	return m[1] + "GB"
}

// titleCase upper-cases the first letter of each whitespace-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
