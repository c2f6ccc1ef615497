package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/phonewatch/scraper/internal/metrics"
	"github.com/phonewatch/scraper/internal/scrape"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const apiURL = "https://ai.example.com/v1/chat/completions"

func mockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c := NewClient(Config{APIURL: apiURL, APIKey: "test-key", Model: "test-model"}, nil)
	c.WithHTTPClient(&http.Client{Transport: transport})
	t.Cleanup(transport.Reset)
	return c, transport
}

func respondWith(transport *httpmock.MockTransport, content string) {
	transport.RegisterResponder(http.MethodPost, apiURL,
		httpmock.NewStringResponder(http.StatusOK, chatResponse(content)))
}

func respondStatus(transport *httpmock.MockTransport, status int) {
	transport.RegisterResponder(http.MethodPost, apiURL,
		httpmock.NewStringResponder(status, `{"error":"boom"}`))
}

func chatResponse(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestDecideParsesAction(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, `{"reasoning":"more products below","action":{"type":"scroll","target":"600"}}`)

	decision, err := c.Decide(context.Background(), scrape.DecisionInput{
		Retailer: "Courts Mauritius", Task: "find phones", Iteration: 1,
	})
	require.NoError(t, err)
	require.Equal(t, scrape.ActionScroll, decision.Action.Type)
	require.Equal(t, "600", decision.Action.Target)
	require.Equal(t, "more products below", decision.Reasoning)
}

func TestDecideStripsMarkdownFences(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, "```json\n{\"reasoning\":\"done here\",\"action\":{\"type\":\"done\"}}\n```")

	decision, err := c.Decide(context.Background(), scrape.DecisionInput{Retailer: "Galaxy Electronics"})
	require.NoError(t, err)
	require.Equal(t, scrape.ActionDone, decision.Action.Type)
}

func TestDecideExtractCarriesListings(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, `{"reasoning":"grid is visible","action":{"type":"extract","products":[
		{"name":"Samsung Galaxy S24","price_cash":42000,"in_stock":true,"url":"https://x.mu/s24"}]}}`)

	decision, err := c.Decide(context.Background(), scrape.DecisionInput{Retailer: "Price Guru"})
	require.NoError(t, err)
	require.Equal(t, scrape.ActionExtract, decision.Action.Type)
	require.Len(t, decision.Action.Listings, 1)
	require.Equal(t, "Samsung Galaxy S24", decision.Action.Listings[0].Name)
	require.NotNil(t, decision.Action.Listings[0].PriceCash)
	require.InDelta(t, 42000, *decision.Action.Listings[0].PriceCash, 0.001)
}

func TestDecideUnparseableDefaultsToDone(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, "I think you should keep scrolling down the page.")

	decision, err := c.Decide(context.Background(), scrape.DecisionInput{Retailer: "361 Degrees"})
	require.ErrorIs(t, err, scrape.ErrOracleParse)
	require.Equal(t, scrape.ActionDone, decision.Action.Type)
}

func TestDecideUnknownActionDefaultsToDone(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, `{"reasoning":"let me think","action":{"type":"teleport"}}`)

	decision, err := c.Decide(context.Background(), scrape.DecisionInput{Retailer: "Courts Mauritius"})
	require.ErrorIs(t, err, scrape.ErrOracleParse)
	require.Equal(t, scrape.ActionDone, decision.Action.Type)
}

func TestDecideAPIErrorDefaultsToDone(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondStatus(transport, http.StatusTooManyRequests)

	decision, err := c.Decide(context.Background(), scrape.DecisionInput{Retailer: "Courts Mauritius"})
	require.Error(t, err)
	require.False(t, errors.Is(err, scrape.ErrOracleParse))
	require.Equal(t, scrape.ActionDone, decision.Action.Type)
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, `{"brand":"Samsung","model":"Galaxy S24 Ultra","variant":"512GB Titanium Gray","normalized_name":"Samsung Galaxy S24 Ultra 512GB Titanium Gray"}`)

	identity, err := c.NormalizeName(context.Background(), "SAMSUNG GALAXY S24 ULTRA 512GB TITANIUM GRAY")
	require.NoError(t, err)
	require.Equal(t, "Samsung", identity.Brand)
	require.Equal(t, "Galaxy S24 Ultra", identity.Model)
	require.Equal(t, "Samsung Galaxy S24 Ultra 512GB Titanium Gray", identity.NormalizedName)
}

func TestNormalizeNameNotPhone(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, `{"error":"not_a_phone"}`)

	_, err := c.NormalizeName(context.Background(), "stainless steel air fryer")
	require.ErrorIs(t, err, scrape.ErrNotPhone)
}

func TestNormalizeNameUnparseable(t *testing.T) {
	t.Parallel()

	c, transport := mockClient(t)
	respondWith(transport, "Sure! Here is the normalized name: Samsung Galaxy S24")

	_, err := c.NormalizeName(context.Background(), "galaxy s24")
	require.ErrorIs(t, err, scrape.ErrOracleParse)
}
