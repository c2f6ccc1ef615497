// Package oracle implements the external AI collaborators over an
// OpenAI-compatible chat completion endpoint: the decision oracle that drives
// the agentic strategy and the assist tier of the normalizer.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/metrics"
	"github.com/phonewatch/scraper/internal/scrape"
)

// Config captures the endpoint parameters.
type Config struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible API. Responses are untrusted input:
// anything that does not parse into the expected schema degrades to a miss
// (normalization) or the terminal done action (decisions).
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client. The HTTP client is exported through
// WithHTTPClient for tests.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type (
	apiRequest struct {
		Model    string    `json:"model"`
		Messages []message `json:"messages"`
	}
	message struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	contentPart struct {
		Type     string    `json:"type"`
		Text     string    `json:"text,omitempty"`
		ImageURL *imageURL `json:"image_url,omitempty"`
	}
	imageURL struct {
		URL string `json:"url"`
	}
	apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
)

const decisionPromptFmt = `You are a web scraping agent working on the retailer site %q.

TASK: %s
Iteration: %d. Listings collected so far: %d.

Decide the next browsing action. Respond with ONLY this JSON (no extra text):
{
  "reasoning": "why you chose this action",
  "action": {
    "type": "extract" | "scroll" | "click" | "navigate" | "wait" | "done",
    "target": "CSS selector, scroll amount in pixels, or URL",
    "products": [{"name": "...", "price_cash": 0, "in_stock": true, "url": "..."}]
  }
}

Rules:
- "click": put a specific CSS selector in target (e.g. "a.next-page").
- "scroll": put a pixel amount like "600" or "bottom" in target.
- "navigate": put a full URL in target.
- "extract": optionally include listings you can read directly in "products";
  leave it empty to have the DOM extracted instead.
- "done": the listing page is exhausted.

Current DOM excerpt:
%s`

const maxDOMExcerpt = 4000

// Decide asks the oracle to choose the next action. Unparseable or
// schema-violating output yields the done action together with
// scrape.ErrOracleParse so callers can count it without failing the run.
func (c *Client) Decide(ctx context.Context, input scrape.DecisionInput) (scrape.Decision, error) {
	excerpt := input.DOMExcerpt
	if len(excerpt) > maxDOMExcerpt {
		excerpt = excerpt[:maxDOMExcerpt]
	}
	prompt := fmt.Sprintf(decisionPromptFmt,
		input.Retailer, input.Task, input.Iteration, input.ListingCount, excerpt)

	parts := []contentPart{{Type: "text", Text: prompt}}
	if len(input.Screenshot) > 0 {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(input.Screenshot),
			},
		})
	}

	raw, err := c.complete(ctx, []message{{Role: "user", Content: parts}})
	if err != nil {
		return doneDecision(), fmt.Errorf("oracle call: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		metrics.ObserveOracleParseFailure()
		c.logger.Warn("oracle response unparseable, defaulting to done", zap.Error(err))
		return doneDecision(), err
	}
	metrics.ObserveOracleDecision(string(decision.Action.Type))
	return decision, nil
}

func doneDecision() scrape.Decision {
	return scrape.Decision{Action: scrape.Action{Type: scrape.ActionDone}}
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// stripFences removes markdown code fences models like to wrap JSON in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func parseDecision(raw string) (scrape.Decision, error) {
	candidate := jsonObject.FindString(stripFences(raw))
	if candidate == "" {
		return doneDecision(), fmt.Errorf("%w: no JSON object in %q", scrape.ErrOracleParse, truncate(raw, 120))
	}
	var decision scrape.Decision
	if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
		return doneDecision(), fmt.Errorf("%w: %v", scrape.ErrOracleParse, err)
	}
	if !decision.Action.Type.Valid() {
		return doneDecision(), fmt.Errorf("%w: unknown action %q", scrape.ErrOracleParse, decision.Action.Type)
	}
	return decision, nil
}

const normalizePromptFmt = `Normalize this phone product name to a canonical format.
Input: %q

Return ONLY valid JSON with this exact structure (no extra text):
{"brand": "Samsung", "model": "Galaxy S24", "variant": "256GB Black", "normalized_name": "Samsung Galaxy S24 256GB Black"}

Rules:
- Brand must be one of: Samsung, Apple, Xiaomi, Oppo, Vivo, Realme, Honor, OnePlus, Google, Huawei, Motorola, Nokia, Infinix, Tecno
- Model is the core model name (e.g. "Galaxy S24", "iPhone 15 Pro", "Redmi Note 13")
- Variant includes storage (GB), RAM if mentioned, and color
- normalized_name is the full canonical name in proper case
- If the input is not a phone, return: {"error": "not_a_phone"}`

// NormalizeName implements the normalizer's assist tier. Any parse failure
// or non-phone classification is returned as an error, which the caller
// treats as a tier miss.
func (c *Client) NormalizeName(ctx context.Context, rawName string) (scrape.CanonicalIdentity, error) {
	prompt := fmt.Sprintf(normalizePromptFmt, rawName)
	raw, err := c.complete(ctx, []message{{Role: "user", Content: prompt}})
	if err != nil {
		return scrape.CanonicalIdentity{}, fmt.Errorf("assist call: %w", err)
	}

	candidate := jsonObject.FindString(stripFences(raw))
	if candidate == "" {
		return scrape.CanonicalIdentity{}, fmt.Errorf("%w: no JSON object", scrape.ErrOracleParse)
	}
	var parsed struct {
		Brand          string `json:"brand"`
		Model          string `json:"model"`
		Variant        string `json:"variant"`
		NormalizedName string `json:"normalized_name"`
		Error          string `json:"error"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return scrape.CanonicalIdentity{}, fmt.Errorf("%w: %v", scrape.ErrOracleParse, err)
	}
	if parsed.Error != "" {
		return scrape.CanonicalIdentity{}, scrape.ErrNotPhone
	}
	return scrape.CanonicalIdentity{
		Brand:          parsed.Brand,
		Model:          parsed.Model,
		Variant:        parsed.Variant,
		NormalizedName: parsed.NormalizedName,
	}, nil
}

func (c *Client) complete(ctx context.Context, messages []message) (string, error) {
	body, err := json.Marshal(apiRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close oracle response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("api returned %s: %s", resp.Status, string(payload))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
