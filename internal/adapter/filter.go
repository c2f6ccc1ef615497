package adapter

import (
	"regexp"
	"strings"
)

// Accessory keywords that disqualify a listing outright.
var excludeKeywords = []string{
	"case", "cover", "charger", "cable", "screen protector",
	"headphone", "earphone", "power bank", "adapter", "tempered glass",
	"holder", "stand", "warranty", "insurance",
}

// Brand tokens that qualify a listing as a phone.
var phoneBrandTokens = []string{
	"samsung", "apple", "iphone", "xiaomi", "redmi", "oppo", "vivo",
	"realme", "honor", "oneplus", "google", "pixel", "huawei",
	"motorola", "nokia", "galaxy",
}

// Structural patterns that suggest a phone even without a known brand.
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+\s*gb`),
	regexp.MustCompile(`pro\s*max`),
	regexp.MustCompile(`ultra`),
	regexp.MustCompile(`\d+\s*mp`),
	regexp.MustCompile(`\d+\s*inch`),
}

// IsPhoneListing reports whether a listing name plausibly names a phone.
// Accessory matches lose to nothing; a listing excluded here is dropped
// silently, never reported as an error.
func IsPhoneListing(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)

	for _, kw := range excludeKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, brand := range phoneBrandTokens {
		if strings.Contains(lower, brand) {
			return true
		}
	}
	for _, p := range phonePatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
