package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/guregu/null/v6"

	"pricesync/config"
	"pricesync/internal/market"
)

// alpacaHistoryStart is the start used for full-history requests; Alpaca
// returns whatever it has after it.
var alpacaHistoryStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Alpaca serves daily bars from the Alpaca market data API. Bars are
// unadjusted, so AdjClose is left null.
type Alpaca struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

func NewAlpaca(cfg config.AlpacaConfig) (*Alpaca, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("alpaca: api_key and api_secret are required")
	}

	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}

	p := &Alpaca{client: marketdata.NewClient(opts)}
	switch strings.ToLower(cfg.Feed) {
	case "", "iex":
		p.feed = marketdata.IEX
	case "sip":
		p.feed = marketdata.SIP
	default:
		return nil, fmt.Errorf("alpaca: unsupported feed %q", cfg.Feed)
	}
	return p, nil
}

func (p *Alpaca) Name() string { return "alpaca" }

// DailyBars runs the blocking SDK call in a goroutine so ctx cancellation and
// the per-attempt timeout are honoured.
func (p *Alpaca) DailyBars(ctx context.Context, symbol string, from market.Date) ([]market.PriceBar, error) {
	start := alpacaHistoryStart
	if !from.IsZero() {
		start = from.Time()
	}

	type result struct {
		bars map[string][]marketdata.Bar
		err  error
	}
	done := make(chan result, 1)
	go func() {
		bars, err := p.client.GetMultiBars([]string{symbol}, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			Feed:      p.feed,
		})
		done <- result{bars: bars, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("GetMultiBars: %w", res.err)
		}
		return alpacaToPriceBars(res.bars[symbol]), nil
	}
}

// alpacaToPriceBars converts daily bars; their timestamps are midnight New
// York time, which falls on the same calendar day in UTC.
func alpacaToPriceBars(bars []marketdata.Bar) []market.PriceBar {
	out := make([]market.PriceBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, market.PriceBar{
			Date:   market.DateOf(b.Timestamp.UTC()),
			Open:   null.FloatFrom(b.Open),
			High:   null.FloatFrom(b.High),
			Low:    null.FloatFrom(b.Low),
			Close:  null.FloatFrom(b.Close),
			Volume: null.IntFrom(int64(b.Volume)),
		})
	}
	return out
}
