package eodhd

import (
	"github.com/shopspring/decimal"

	"pricesync/internal/market"
)

// EODBar is one element of the /api/eod response:
//
//	{"date":"2024-02-13","open":675.066,"high":684.219,"low":648.659,
//	 "close":668.445,"adjusted_close":67.705,"volume":1200}
//
// Any numeric field may be null.
type EODBar struct {
	Date          market.Date         `json:"date"`
	Open          decimal.NullDecimal `json:"open"`
	High          decimal.NullDecimal `json:"high"`
	Low           decimal.NullDecimal `json:"low"`
	Close         decimal.NullDecimal `json:"close"`
	AdjustedClose decimal.NullDecimal `json:"adjusted_close"`
	Volume        decimal.NullDecimal `json:"volume"`
}
