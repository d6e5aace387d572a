package sqlstore

import (
	"time"

	"github.com/guregu/null/v6"

	"pricesync/internal/market"
)

// PriceRecord is one daily bar in historic_prices, unique per (ticker_id, date).
type PriceRecord struct {
	ID int64 `gorm:"column:price_id;primaryKey;autoIncrement"`

	// unique index
	TickerID int64       `gorm:"column:ticker_id;not null;index:idx_historic_prices_ticker;uniqueIndex:idx_historic_prices_ticker_date,priority:1"`
	Date     market.Date `gorm:"column:date;type:date;not null;index:idx_historic_prices_date;uniqueIndex:idx_historic_prices_ticker_date,priority:2"`

	Open     null.Float `gorm:"column:open"`
	High     null.Float `gorm:"column:high"`
	Low      null.Float `gorm:"column:low"`
	Close    null.Float `gorm:"column:close"`
	AdjClose null.Float `gorm:"column:adj_close"`
	Volume   null.Int   `gorm:"column:volume"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (PriceRecord) TableName() string {
	return "historic_prices"
}

// ToPriceRecord converts a bar of the given ticker into a PriceRecord for DB insertion.
func ToPriceRecord(tickerID int64, bar market.PriceBar) PriceRecord {
	return PriceRecord{
		TickerID: tickerID,
		Date:     bar.Date,
		Open:     bar.Open,
		High:     bar.High,
		Low:      bar.Low,
		Close:    bar.Close,
		AdjClose: bar.AdjClose,
		Volume:   bar.Volume,
	}
}

func (r PriceRecord) toPriceBar() market.PriceBar {
	return market.PriceBar{
		Date:     r.Date,
		Open:     r.Open,
		High:     r.High,
		Low:      r.Low,
		Close:    r.Close,
		AdjClose: r.AdjClose,
		Volume:   r.Volume,
	}
}
