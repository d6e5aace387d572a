package sqlstore

import (
	"context"
	"fmt"

	"pricesync/internal/market"
)

// ListSecurities returns the tracked securities ordered by symbol. When
// symbols is non-empty only those symbols are returned.
func (c *Client) ListSecurities(ctx context.Context, symbols []string) ([]market.Security, error) {
	var records []TickerRecord
	q := c.DB.WithContext(ctx).Order("symbol")
	if len(symbols) > 0 {
		q = q.Where("symbol IN ?", symbols)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}

	out := make([]market.Security, 0, len(records))
	for _, r := range records {
		out = append(out, r.toSecurity())
	}
	return out, nil
}
