package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker 24h statistics and top of book for a symbol.
type Ticker struct {
	Symbol      string
	Timestamp   time.Time
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	Last        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	BaseVolume  decimal.Decimal
	QuoteVolume decimal.Decimal
	Info        map[string]any
}

// Spread returns ask minus bid, zero when either side is unknown.
func (t Ticker) Spread() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return decimal.Zero
	}

	return t.Ask.Sub(t.Bid)
}
