package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceDataDaily is one warehouse row parsed from an EOD price file
type PriceDataDaily struct {
	ID         int             `json:"id"`
	Ticker     string          `json:"ticker"`
	Date       time.Time       `json:"date"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`
	SourceFile string          `json:"source_file"`
	IngestedAt time.Time       `json:"ingested_at"`
}
