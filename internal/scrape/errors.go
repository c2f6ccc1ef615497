package scrape

import "errors"

// Sentinel errors for the failure classes that cross package boundaries.
var (
	// ErrNavigation marks a page load or navigation timeout. It is fatal for
	// the retailer run that hit it and for that run only.
	ErrNavigation = errors.New("navigation failed")

	// ErrOracleParse marks a malformed oracle response. Callers treat it as
	// the terminal done action, never as a run failure.
	ErrOracleParse = errors.New("oracle response not parseable")

	// ErrNotPhone is returned by AI-assisted normalization when the input is
	// classified as something other than a phone. It is a tier miss.
	ErrNotPhone = errors.New("not a phone listing")
)
