package fetcher

import (
	"context"
	"errors"
	"fmt"

	"pricesync/internal/market"
	"pricesync/pkg/eodhd"
)

// EODHD serves daily bars from the EODHD end-of-day API.
type EODHD struct {
	Client   *eodhd.RESTClient
	Exchange string
}

func (p *EODHD) Name() string { return "eodhd" }

func (p *EODHD) DailyBars(ctx context.Context, symbol string, from market.Date) ([]market.PriceBar, error) {
	raw, err := p.Client.GetEOD(ctx, eodhd.Ticker(symbol, p.Exchange), from)
	if err != nil {
		var httpErr *eodhd.HTTPError
		switch {
		case errors.Is(err, eodhd.ErrNotFound):
			return nil, fmt.Errorf("%w: %w", ErrUnknownSymbol, err)
		case errors.As(err, &httpErr) && !httpErr.Temporary():
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return nil, err
	}
	return eodhd.ToPriceBars(raw), nil
}
