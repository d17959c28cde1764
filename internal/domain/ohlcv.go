package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCV candlestick data point.
type OHLCV struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}
