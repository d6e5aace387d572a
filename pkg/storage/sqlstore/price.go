package sqlstore

import (
	"context"
	"fmt"

	"pricesync/internal/market"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertBatchSize keeps each INSERT well under SQLite's bound-parameter limit.
const insertBatchSize = 500

// LatestDate returns the most recent date with a persisted bar for the
// ticker. ok is false when the ticker has no bars yet.
func (c *Client) LatestDate(ctx context.Context, tickerID int64) (latest market.Date, ok bool, err error) {
	row := c.DB.WithContext(ctx).
		Model(&PriceRecord{}).
		Select("MAX(date)").
		Where("ticker_id = ?", tickerID).
		Row()
	if err := row.Scan(&latest); err != nil {
		return market.Date{}, false, fmt.Errorf("latest date for ticker %d: %w", tickerID, err)
	}
	return latest, !latest.IsZero(), nil
}

// InsertPrices writes bars for the ticker in a single transaction. Bars whose
// (ticker_id, date) already exists are skipped, never overwritten. On error
// nothing from the batch is kept.
func (c *Client) InsertPrices(ctx context.Context, tickerID int64, bars []market.PriceBar) (market.PersistResult, error) {
	if len(bars) == 0 {
		return market.PersistResult{}, nil
	}

	records := make([]PriceRecord, 0, len(bars))
	for _, bar := range bars {
		records = append(records, ToPriceRecord(tickerID, bar))
	}

	var inserted int64
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "ticker_id"},
				{Name: "date"},
			},
			DoNothing: true,
		}).CreateInBatches(&records, insertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return market.PersistResult{}, fmt.Errorf("insert prices for ticker %d: %w", tickerID, err)
	}

	return market.PersistResult{Attempted: len(bars), Inserted: int(inserted)}, nil
}

// GetPrices returns the ticker's bars ordered by date.
func (c *Client) GetPrices(ctx context.Context, tickerID int64) ([]market.PriceBar, error) {
	var records []PriceRecord
	err := c.DB.WithContext(ctx).
		Where("ticker_id = ?", tickerID).
		Order("date").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("get prices for ticker %d: %w", tickerID, err)
	}

	out := make([]market.PriceBar, 0, len(records))
	for _, r := range records {
		out = append(out, r.toPriceBar())
	}
	return out, nil
}
