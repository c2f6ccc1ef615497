// Package scrape defines the core types and capability interfaces shared by
// the orchestrator, the extraction strategies, and the site adapters.
package scrape
