package adapter

import (
	"regexp"
	"strconv"
	"strings"
)

var numberRun = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParsePrice extracts the first numeric run from a price string such as
// "Rs 35,000" or "MUR 35000.50". It returns nil when no number is present
// rather than an error; a missing price is an extraction miss, not a failure.
func ParsePrice(text string) *float64 {
	if text == "" {
		return nil
	}
	cleaned := strings.NewReplacer(",", "", " ", "", " ", "").Replace(text)
	match := numberRun.FindString(cleaned)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// CleanText collapses whitespace runs and trims the result.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
