// Package market holds the domain types shared by the store, the price
// providers and the synchronization engine.
package market

import (
	"time"

	"github.com/guregu/null/v6"
)

// Security is a tracked ticker as loaded into the tickers table by the
// symbol import. The engine only reads it.
type Security struct {
	ID          int64
	Symbol      string
	Name        string
	Sector      string
	Industry    string
	LastUpdated time.Time
}

// PriceBar is one day of OHLCV data for a security. Any price or the volume
// may be missing upstream.
type PriceBar struct {
	Date     Date
	Open     null.Float
	High     null.Float
	Low      null.Float
	Close    null.Float
	AdjClose null.Float
	Volume   null.Int
}

// PersistResult reports a duplicate-safe write. Attempted is the size of the
// input batch; Inserted counts rows that did not exist before.
type PersistResult struct {
	Attempted int
	Inserted  int
}
