package sqlstore

import (
	"github.com/guregu/null/v6"

	"pricesync/internal/market"
)

// TickerRecord is a row of the tickers table. Rows are written by the
// symbol import; this package only reads them.
type TickerRecord struct {
	ID          int64       `gorm:"column:ticker_id;primaryKey;autoIncrement"`
	Symbol      string      `gorm:"column:symbol;type:text;unique;not null"`
	CompanyName null.String `gorm:"column:company_name;type:text"`
	Sector      null.String `gorm:"column:sector;type:text"`
	Industry    null.String `gorm:"column:industry;type:text"`
	LastUpdated null.Time   `gorm:"column:last_updated;type:timestamp"`
}

// TableName overrides the default table name for GORM.
func (TickerRecord) TableName() string {
	return "tickers"
}

func (r TickerRecord) toSecurity() market.Security {
	return market.Security{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Name:        r.CompanyName.String,
		Sector:      r.Sector.String,
		Industry:    r.Industry.String,
		LastUpdated: r.LastUpdated.Time,
	}
}
