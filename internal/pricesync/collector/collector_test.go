package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pricesync/config"
	"pricesync/internal/market"
	"pricesync/internal/pricesync/fetcher"
	"pricesync/internal/pricesync/memorystore"
	"pricesync/internal/pricesync/registry"
	"pricesync/internal/pricesync/scheduler"
	"pricesync/pkg/storage/sqlstore"
)

func bar(date string) market.PriceBar {
	return market.PriceBar{Date: market.MustParseDate(date), Close: null.FloatFrom(100), Volume: null.IntFrom(1000)}
}

func bars(dates ...string) []market.PriceBar {
	out := make([]market.PriceBar, 0, len(dates))
	for _, d := range dates {
		out = append(out, bar(d))
	}
	return out
}

type fetchCall struct {
	symbol string
	since  market.Date
}

// upstreamFetcher serves bars after since from a fixed per-symbol history.
type upstreamFetcher struct {
	mu      sync.Mutex
	history map[string][]market.PriceBar
	fail    map[string]error
	onFetch func(symbol string)
	calls   []fetchCall
}

func (f *upstreamFetcher) Fetch(_ context.Context, symbol string, since market.Date) ([]market.PriceBar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{symbol: symbol, since: since})
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(symbol)
	}
	if err := f.fail[symbol]; err != nil {
		return nil, &fetcher.FetchError{Symbol: symbol, Err: err}
	}
	var out []market.PriceBar
	for _, b := range f.history[symbol] {
		if since.IsZero() || b.Date.After(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *upstreamFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

// scriptedGate answers from a list; it fails the test when asked more often
// than scripted.
type scriptedGate struct {
	t       *testing.T
	answers []scheduler.Decision
	asked   []int
}

func (g *scriptedGate) Confirm(_ context.Context, chunk scheduler.Chunk) (scheduler.Decision, error) {
	g.asked = append(g.asked, chunk.Index)
	if len(g.answers) == 0 {
		g.t.Fatalf("unexpected confirmation for chunk %d", chunk.Index)
	}
	d := g.answers[0]
	g.answers = g.answers[1:]
	return d, nil
}

type storeLister interface {
	Store
	registry.Lister
}

func newCollector(opts Options, store storeLister, f Fetcher, gate scheduler.Gate, out *bytes.Buffer) *Collector {
	return &Collector{
		Options:  opts,
		Registry: &registry.Registry{Lister: store, Logger: zap.NewNop()},
		Store:    store,
		Fetcher:  f,
		Gate:     gate,
		Out:      out,
		Logger:   zap.NewNop(),
		sleep:    func(context.Context, time.Duration) error { return nil },
	}
}

func seed(store *memorystore.Store, symbols ...string) map[string]market.Security {
	out := make(map[string]market.Security, len(symbols))
	for _, s := range symbols {
		out[s] = store.AddSecurity(market.Security{Symbol: s, Name: s + " Corp"})
	}
	return out
}

// go test -v --run TestRunFetchesFromWatermark
func TestRunFetchesFromWatermark(t *testing.T) {
	store := memorystore.New()
	secs := seed(store, "AAA", "BBB")
	_, err := store.InsertPrices(context.Background(), secs["AAA"].ID, bars("2024-01-09", "2024-01-10"))
	require.NoError(t, err)

	f := &upstreamFetcher{history: map[string][]market.PriceBar{
		"AAA": bars("2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12"),
		"BBB": bars("2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12"),
	}}
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50, StorePath: "StockData.db"}, store, f, &scriptedGate{t: t}, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "AAA", calls[0].symbol)
	assert.Equal(t, "2024-01-10", calls[0].since.String())
	assert.Equal(t, "BBB", calls[1].symbol)
	assert.True(t, calls[1].since.IsZero())

	assert.Equal(t, Completed, sum.State)
	assert.Equal(t, 1, sum.ChunkCount)
	assert.Equal(t, 2, sum.Processed())
	assert.Equal(t, 2, sum.Successful())
	assert.Equal(t, 0, sum.Failed())
	assert.Equal(t, 7, sum.RowsAdded())
	assert.Len(t, store.Bars(secs["AAA"].ID), 4)
	assert.Len(t, store.Bars(secs["BBB"].ID), 5)

	text := out.String()
	assert.Contains(t, text, "Found 2 tickers")
	assert.Contains(t, text, "Processing Chunk 1/1 (2 tickers)")
	assert.Contains(t, text, "[1/2] Processing AAA - AAA Corp...")
	assert.Contains(t, text, "Last data from 2024-01-10")
	assert.Contains(t, text, "No existing data, fetching full history")
	assert.Contains(t, text, "Tickers processed: 2/2")
	assert.Equal(t, Completed, c.State())
	assert.Equal(t, 1, store.CloseCalls())
}

// go test -v --run TestRunNoMatchingTickers
func TestRunNoMatchingTickers(t *testing.T) {
	store := memorystore.New()
	seed(store, "AAA", "BBB")
	f := &upstreamFetcher{}
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50, Symbols: []string{"ZZZ"}}, store, f, &scriptedGate{t: t}, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, sum.Empty, registry.ErrNoMatchingTickers)
	assert.Equal(t, 0, sum.Processed())
	assert.Empty(t, f.Calls())
	assert.Zero(t, store.InsertCalls())
	assert.Contains(t, out.String(), "No matching tickers found for: ZZZ")
	assert.Equal(t, 1, store.CloseCalls())
}

// go test -v --run TestRunEmptyStore
func TestRunEmptyStore(t *testing.T) {
	store := memorystore.New()
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50}, store, &upstreamFetcher{}, &scriptedGate{t: t}, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, sum.Empty, registry.ErrNoTickers)
	assert.Contains(t, out.String(), "No tickers found in database")
}

// go test -v --run TestRunDryRunIsPure
func TestRunDryRunIsPure(t *testing.T) {
	store := memorystore.New()
	var symbols []string
	for i := range 120 {
		symbols = append(symbols, fmt.Sprintf("T%03d", i))
	}
	seed(store, symbols...)

	f := &upstreamFetcher{}
	slept := 0
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50, DryRun: true, RequestDelay: time.Second}, store, f, &scriptedGate{t: t}, &out)
	c.sleep = func(context.Context, time.Duration) error { slept++; return nil }

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.Calls())
	assert.Zero(t, store.InsertCalls())
	assert.Zero(t, slept)
	assert.Equal(t, 0, sum.RowsAdded())
	assert.Equal(t, 3, sum.ChunkCount)
	require.Len(t, sum.Chunks, 3)
	assert.Len(t, sum.Chunks[2].Results, 20)
	assert.Equal(t, 120, sum.Successful())
	assert.Contains(t, out.String(), "[DRY RUN] No data was fetched or saved")
	assert.Contains(t, out.String(), "... and 40 more")
}

// go test -v --run TestRunIsolatesFailures
func TestRunIsolatesFailures(t *testing.T) {
	store := memorystore.New()
	secs := seed(store, "AAA", "BBB", "CCC", "DDD")
	store.FailInsertFor(secs["DDD"].ID, errors.New("database is locked"))

	f := &upstreamFetcher{
		history: map[string][]market.PriceBar{
			"AAA": bars("2024-01-11"),
			"CCC": bars("2024-01-11"),
			"DDD": bars("2024-01-11"),
		},
		fail: map[string]error{"BBB": fetcher.ErrUnknownSymbol},
	}
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50}, store, f, &scriptedGate{t: t}, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Chunks, 1)
	results := sum.Chunks[0].Results
	require.Len(t, results, 4)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Err, fetcher.ErrUnknownSymbol)
	assert.True(t, results[2].Success)
	assert.False(t, results[3].Success)
	assert.Zero(t, results[3].RowsAdded)

	assert.Equal(t, 4, sum.Processed())
	assert.Equal(t, 2, sum.Successful())
	assert.Equal(t, 2, sum.Failed())
	assert.Equal(t, 2, sum.RowsAdded())
	assert.Empty(t, store.Bars(secs["DDD"].ID))

	text := out.String()
	assert.Contains(t, text, "Failed tickers:")
	assert.Contains(t, text, "BBB: fetch BBB: unknown symbol")
	assert.Contains(t, text, "DDD: persist 1 bars: database is locked")
}

func fiveSecurities(t *testing.T) (*memorystore.Store, *upstreamFetcher) {
	t.Helper()
	store := memorystore.New()
	seed(store, "A", "B", "C", "D", "E")
	f := &upstreamFetcher{history: map[string][]market.PriceBar{}}
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		f.history[s] = bars("2024-01-11")
	}
	return store, f
}

// go test -v --run TestRunSkipsChunk
func TestRunSkipsChunk(t *testing.T) {
	store, f := fiveSecurities(t)
	gate := &scriptedGate{t: t, answers: []scheduler.Decision{scheduler.Skip, scheduler.Proceed}}
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 2}, store, f, gate, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, gate.asked)
	assert.Equal(t, Completed, sum.State)
	require.Len(t, sum.Chunks, 3)
	assert.True(t, sum.Chunks[1].Skipped)
	assert.Equal(t, 3, sum.Processed())
	assert.Equal(t, 0, sum.Failed())
	var fetched []string
	for _, call := range f.Calls() {
		fetched = append(fetched, call.symbol)
	}
	assert.Equal(t, []string{"A", "B", "E"}, fetched)
	assert.Contains(t, out.String(), "Chunk 2/3: skipped")
}

// go test -v --run TestRunQuit
func TestRunQuit(t *testing.T) {
	store, f := fiveSecurities(t)
	gate := &scriptedGate{t: t, answers: []scheduler.Decision{scheduler.Quit}}
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 2}, store, f, gate, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.Quit)
	assert.Equal(t, Aborted, sum.State)
	assert.Equal(t, 2, sum.Processed())
	assert.Equal(t, 2, sum.RowsAdded())
	assert.Contains(t, out.String(), "FINAL SUMMARY")
	assert.Equal(t, 1, store.CloseCalls())
}

// go test -v --run TestRunAssumeYesSkipsGate
func TestRunAssumeYesSkipsGate(t *testing.T) {
	store, f := fiveSecurities(t)
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 2, AssumeYes: true}, store, f, &scriptedGate{t: t}, &out)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Processed())
	assert.Equal(t, Completed, sum.State)
}

// go test -v --run TestRunInterrupted
func TestRunInterrupted(t *testing.T) {
	store := memorystore.New()
	secs := seed(store, "AAA", "BBB", "CCC")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &upstreamFetcher{
		history: map[string][]market.PriceBar{
			"AAA": bars("2024-01-11"),
			"BBB": bars("2024-01-11"),
			"CCC": bars("2024-01-11"),
		},
		onFetch: func(symbol string) {
			if symbol == "BBB" {
				cancel()
			}
		},
	}
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50}, store, f, &scriptedGate{t: t}, &out)

	sum, err := c.Run(ctx)
	require.NoError(t, err)

	assert.True(t, sum.Interrupted)
	assert.Equal(t, Aborted, sum.State)
	assert.Equal(t, 1, sum.Processed())
	assert.Equal(t, 1, sum.Successful())
	assert.Len(t, store.Bars(secs["AAA"].ID), 1)
	assert.Empty(t, store.Bars(secs["CCC"].ID))
	for _, call := range f.Calls() {
		assert.NotEqual(t, "CCC", call.symbol)
	}
	assert.Contains(t, out.String(), "Interrupted by user")
	assert.Equal(t, 1, store.CloseCalls())
}

// go test -v --run TestRunRequestDelay
func TestRunRequestDelay(t *testing.T) {
	store := memorystore.New()
	seed(store, "AAA", "BBB", "CCC")
	var delays []time.Duration
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 2, AssumeYes: true, RequestDelay: 500 * time.Millisecond}, store, &upstreamFetcher{}, nil, &out)
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, delays)
}

// go test -v --run TestRunOnlyOnce
func TestRunOnlyOnce(t *testing.T) {
	store := memorystore.New()
	seed(store, "AAA")
	var out bytes.Buffer
	c := newCollector(Options{ChunkSize: 50}, store, &upstreamFetcher{}, nil, &out)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, errAlreadyRun)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, store.CloseCalls())
}

// fakeProvider serves a fixed upstream history to the real fetcher.
type fakeProvider struct {
	history map[string][]market.PriceBar
	calls   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) DailyBars(_ context.Context, symbol string, from market.Date) ([]market.PriceBar, error) {
	p.calls++
	var out []market.PriceBar
	for _, b := range p.history[symbol] {
		if from.IsZero() || !b.Date.Before(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

// go test -v --run TestRunIsIdempotentAcrossRuns
func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "StockData.db")
	ctx := context.Background()

	open := func() *sqlstore.Client {
		client, err := sqlstore.Open(ctx, config.StoreConfig{Driver: config.DriverSQLite, Path: path, AutoMigrate: true})
		require.NoError(t, err)
		return client
	}

	setup := open()
	for _, sym := range []string{"AAA", "BBB"} {
		require.NoError(t, setup.DB.Create(&sqlstore.TickerRecord{Symbol: sym}).Error)
	}
	require.NoError(t, setup.Close())

	provider := &fakeProvider{history: map[string][]market.PriceBar{
		"AAA": bars("2024-01-08", "2024-01-09", "2024-01-10"),
		"BBB": bars("2024-01-09", "2024-01-10"),
	}}
	now := market.MustParseDate("2024-01-11").Time().Add(12 * time.Hour)

	watermarks := func() map[int64]market.Date {
		client := open()
		defer client.Close()
		out := map[int64]market.Date{}
		for _, id := range []int64{1, 2} {
			d, _, err := client.LatestDate(ctx, id)
			require.NoError(t, err)
			out[id] = d
		}
		return out
	}

	run := func() *Summary {
		f := fetcher.New(provider, fetcher.Policy{}, zap.NewNop(), fetcher.WithClock(func() time.Time { return now }))
		var out bytes.Buffer
		c := newCollector(Options{ChunkSize: 50, StorePath: path}, open(), f, nil, &out)
		sum, err := c.Run(ctx)
		require.NoError(t, err)
		return sum
	}

	first := run()
	assert.Equal(t, 5, first.RowsAdded())
	afterFirst := watermarks()

	second := run()
	assert.Equal(t, 0, second.RowsAdded())
	assert.Equal(t, 2, second.Successful())
	assert.Equal(t, afterFirst, watermarks())

	// A new trading day upstream moves both watermarks forward.
	provider.history["AAA"] = append(provider.history["AAA"], bar("2024-01-11"))
	provider.history["BBB"] = append(provider.history["BBB"], bar("2024-01-11"))
	now = now.Add(48 * time.Hour)

	third := run()
	assert.Equal(t, 2, third.RowsAdded())
	afterThird := watermarks()
	for id, d := range afterThird {
		assert.False(t, d.Before(afterFirst[id]), "ticker %d", id)
		assert.Equal(t, "2024-01-11", d.String())
	}
}
