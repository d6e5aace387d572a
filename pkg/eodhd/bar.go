package eodhd

import (
	"strings"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"pricesync/internal/market"
)

// Ticker converts an exchange symbol into EODHD's "SYMBOL.EXCHANGE" form.
// Share classes written with a slash or dot (BRK/B, BRK.B) use a dash.
func Ticker(symbol, exchange string) string {
	symbol = strings.NewReplacer("/", "-", ".", "-").Replace(strings.ToUpper(symbol))
	if exchange == "" {
		return symbol
	}
	return symbol + "." + exchange
}

// ToPriceBars converts EODHD rows to price bars. Rows without a date are
// skipped.
func ToPriceBars(raw []EODBar) []market.PriceBar {
	out := make([]market.PriceBar, 0, len(raw))
	for _, row := range raw {
		if row.Date.IsZero() {
			continue
		}
		out = append(out, market.PriceBar{
			Date:     row.Date,
			Open:     toFloat(row.Open),
			High:     toFloat(row.High),
			Low:      toFloat(row.Low),
			Close:    toFloat(row.Close),
			AdjClose: toFloat(row.AdjustedClose),
			Volume:   toInt(row.Volume),
		})
	}
	return out
}

func toFloat(d decimal.NullDecimal) null.Float {
	if !d.Valid {
		return null.Float{}
	}
	return null.FloatFrom(d.Decimal.InexactFloat64())
}

func toInt(d decimal.NullDecimal) null.Int {
	if !d.Valid {
		return null.Int{}
	}
	return null.IntFrom(d.Decimal.IntPart())
}
