package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phonewatch/scraper/internal/scrape"
)

type fakeSession struct {
	navigated   []string
	scrolls     []int
	clicks      []string
	navErr      error
	screenshots int
	html        string
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	return f.navErr
}
func (f *fakeSession) WaitForIdle(context.Context, time.Duration) error { return nil }
func (f *fakeSession) ScrollBy(_ context.Context, pixels int) error {
	f.scrolls = append(f.scrolls, pixels)
	return nil
}
func (f *fakeSession) Click(_ context.Context, selector string) error {
	f.clicks = append(f.clicks, selector)
	return nil
}
func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	f.screenshots++
	return []byte{0x89, 0x50}, nil
}
func (f *fakeSession) HTML(context.Context) (string, error) { return f.html, nil }
func (f *fakeSession) Close() error                         { return nil }

type fakeExtractor struct {
	listings []scrape.RawListing
	err      error
	calls    int
}

func (f *fakeExtractor) Retailer() string { return "Courts Mauritius" }
func (f *fakeExtractor) Extract(context.Context, scrape.Session) ([]scrape.RawListing, error) {
	f.calls++
	return f.listings, f.err
}
func (f *fakeExtractor) Keep(l scrape.RawListing) bool {
	return l.Name != "" && l.PriceCash != nil
}

type scriptedOracle struct {
	decisions []scrape.Decision
	errs      []error
	calls     int
}

func (o *scriptedOracle) Decide(context.Context, scrape.DecisionInput) (scrape.Decision, error) {
	i := o.calls
	o.calls++
	var err error
	if i < len(o.errs) {
		err = o.errs[i]
	}
	if i >= len(o.decisions) {
		return scrape.Decision{Action: scrape.Action{Type: scrape.ActionDone}}, err
	}
	return o.decisions[i], err
}

func price(v float64) *float64 { return &v }

func listing(name string) scrape.RawListing {
	return scrape.RawListing{Name: name, PriceCash: price(30000), InStock: true}
}

var target = scrape.Retailer{Name: "Courts Mauritius", URL: "https://shop.example.mu/phones"}

func fastDeterministic() DeterministicConfig {
	return DeterministicConfig{ScrollSteps: 3, ScrollPixels: 500, ScrollSettle: time.Millisecond}
}

func TestDeterministicRunsFixedSequence(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	extractor := &fakeExtractor{listings: []scrape.RawListing{listing("Samsung Galaxy S24")}}
	d := NewDeterministic(extractor, fastDeterministic(), nil)

	listings, err := d.Run(context.Background(), sess, target)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, []string{target.URL}, sess.navigated)
	require.Equal(t, []int{500, 500, 500}, sess.scrolls)
	require.Equal(t, 1, extractor.calls)
}

func TestDeterministicNavigateFailureIsTerminal(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{navErr: errors.New("dns failure")}
	d := NewDeterministic(&fakeExtractor{}, fastDeterministic(), nil)

	_, err := d.Run(context.Background(), sess, target)
	require.Error(t, err)
}

func TestDeterministicDedupes(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{listings: []scrape.RawListing{
		listing("Samsung Galaxy S24"), listing("Samsung Galaxy S24"), listing("Honor X9b"),
	}}
	d := NewDeterministic(extractor, fastDeterministic(), nil)

	listings, err := d.Run(context.Background(), &fakeSession{}, target)
	require.NoError(t, err)
	require.Len(t, listings, 2)
}

func fastAgentic() AgenticConfig {
	return AgenticConfig{MaxIterations: 5, WaitDelay: time.Millisecond}
}

func TestAgenticExecutesOracleActions(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []scrape.Decision{
		{Action: scrape.Action{Type: scrape.ActionScroll, Target: "600"}},
		{Action: scrape.Action{Type: scrape.ActionExtract, Listings: []scrape.RawListing{
			listing("Samsung Galaxy S24"),
			{Name: "oracle hallucination without price"},
		}}},
		{Action: scrape.Action{Type: scrape.ActionDone}},
	}}
	sess := &fakeSession{}
	a := NewAgentic(oracle, &fakeExtractor{}, nil, nil, fastAgentic(), nil)

	listings, err := a.Run(context.Background(), sess, target)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "Samsung Galaxy S24", listings[0].Name)
	require.Equal(t, []int{600}, sess.scrolls)
	require.Equal(t, 3, oracle.calls)
}

func TestAgenticParseFailureKeepsListings(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{
		decisions: []scrape.Decision{
			{Action: scrape.Action{Type: scrape.ActionExtract, Listings: []scrape.RawListing{listing("Honor X9b")}}},
		},
		errs: []error{nil, scrape.ErrOracleParse},
	}
	a := NewAgentic(oracle, &fakeExtractor{}, nil, nil, fastAgentic(), nil)

	listings, err := a.Run(context.Background(), &fakeSession{}, target)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, 2, oracle.calls)
}

func TestAgenticIterationBudget(t *testing.T) {
	t.Parallel()

	// An oracle that scrolls forever runs out of budget, then the DOM
	// fallback produces the listings.
	scrollForever := make([]scrape.Decision, 10)
	for i := range scrollForever {
		scrollForever[i] = scrape.Decision{Action: scrape.Action{Type: scrape.ActionScroll, Target: "400"}}
	}
	oracle := &scriptedOracle{decisions: scrollForever}
	extractor := &fakeExtractor{listings: []scrape.RawListing{listing("Xiaomi Redmi Note 13")}}
	cfg := fastAgentic()
	cfg.MaxIterations = 3
	a := NewAgentic(oracle, extractor, nil, nil, cfg, nil)

	listings, err := a.Run(context.Background(), &fakeSession{}, target)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, 3, oracle.calls)
	require.Equal(t, 1, extractor.calls)
}

func TestAgenticEmptyLoopFallsBackToDOM(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{decisions: []scrape.Decision{
		{Action: scrape.Action{Type: scrape.ActionDone}},
	}}
	extractor := &fakeExtractor{listings: []scrape.RawListing{listing("Samsung Galaxy A55")}}
	a := NewAgentic(oracle, extractor, nil, nil, fastAgentic(), nil)

	listings, err := a.Run(context.Background(), &fakeSession{}, target)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, 1, extractor.calls)
}

func TestAgenticNavigateFailureIsTerminal(t *testing.T) {
	t.Parallel()

	a := NewAgentic(&scriptedOracle{}, &fakeExtractor{}, nil, nil, fastAgentic(), nil)
	_, err := a.Run(context.Background(), &fakeSession{navErr: errors.New("refused")}, target)
	require.Error(t, err)
}

func TestScrollAmount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 600, scrollAmount("600"))
	require.Equal(t, 600, scrollAmount("600px"))
	require.Equal(t, 0, scrollAmount("bottom"))
	require.Equal(t, 0, scrollAmount(""))
	require.Equal(t, 0, scrollAmount("a lot"))
}
