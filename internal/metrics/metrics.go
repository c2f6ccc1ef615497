// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeRunsTotal            *prometheus.CounterVec
	scrapeListingsTotal        *prometheus.CounterVec
	scrapeDurationSeconds      *prometheus.HistogramVec
	oracleDecisionsTotal       *prometheus.CounterVec
	oracleParseFailuresTotal   prometheus.Counter
	normalizeTierTotal         *prometheus.CounterVec
	probeChecksTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeRetailerScrapes      prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total retailer scrapes, labeled by retailer and status.",
			},
			[]string{"retailer", "status"},
		)

		scrapeListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_listings_total",
				Help: "Total listings handled, labeled by retailer and outcome (found, saved).",
			},
			[]string{"retailer", "outcome"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_duration_seconds",
				Help:    "Histogram of per-retailer scrape durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"retailer"},
		)

		oracleDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_oracle_decisions_total",
				Help: "Total oracle decisions, labeled by action type.",
			},
			[]string{"action"},
		)

		oracleParseFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_oracle_parse_failures_total",
				Help: "Total oracle responses that failed to parse into a decision.",
			},
		)

		normalizeTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_normalize_tier_total",
				Help: "Total normalizations resolved, labeled by tier (pattern, cache, assist, fallback).",
			},
			[]string{"tier"},
		)

		probeChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_probe_checks_total",
				Help: "Total pre-flight probe checks, labeled by site and outcome (reachable, unreachable).",
			},
			[]string{"site", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeRetailerScrapes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_retailer_scrapes",
				Help: "Number of retailer scrapes currently in flight.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrape records one retailer's run outcome and duration.
func ObserveScrape(retailer, status string, found, saved int, duration time.Duration) {
	scrapeRunsTotal.WithLabelValues(retailer, status).Inc()
	scrapeListingsTotal.WithLabelValues(retailer, "found").Add(float64(found))
	scrapeListingsTotal.WithLabelValues(retailer, "saved").Add(float64(saved))
	scrapeDurationSeconds.WithLabelValues(retailer).Observe(duration.Seconds())
}

// ObserveOracleDecision counts one oracle decision by action type.
func ObserveOracleDecision(action string) {
	oracleDecisionsTotal.WithLabelValues(action).Inc()
}

// ObserveOracleParseFailure counts one unparseable oracle response.
func ObserveOracleParseFailure() {
	oracleParseFailuresTotal.Inc()
}

// ObserveNormalizeTier counts one normalization resolved at the given tier.
func ObserveNormalizeTier(tier string) {
	normalizeTierTotal.WithLabelValues(tier).Inc()
}

// ObserveProbeCheck counts one pre-flight probe outcome per site hostname.
func ObserveProbeCheck(rawURL, outcome string) {
	probeChecksTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveScrapes increments the in-flight retailer scrape gauge.
func IncActiveScrapes() {
	activeRetailerScrapes.Inc()
}

// DecActiveScrapes decrements the in-flight retailer scrape gauge.
func DecActiveScrapes() {
	activeRetailerScrapes.Dec()
}
