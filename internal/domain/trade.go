package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side of a trade or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TakerOrMaker liquidity role of a fill.
type TakerOrMaker string

const (
	Taker TakerOrMaker = "taker"
	Maker TakerOrMaker = "maker"
)

// Fee paid for a fill or an order.
type Fee struct {
	Currency string
	Cost     decimal.Decimal
	Rate     *decimal.Decimal
}

// Trade public or private fill. Never mutated after construction.
type Trade struct {
	ID           string
	Timestamp    time.Time
	Symbol       string
	Side         Side
	Price        decimal.Decimal
	Amount       decimal.Decimal
	Cost         decimal.Decimal
	TakerOrMaker TakerOrMaker
	// Order id the fill belongs to, empty for public trades.
	Order string
	Fee   *Fee
	Info  map[string]any
}

// NewTrade builds a trade, deriving Cost from Price and Amount.
func NewTrade(id, symbol string, side Side, price, amount decimal.Decimal, ts time.Time) Trade {
	return Trade{
		ID:        id,
		Timestamp: ts,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Cost:      price.Mul(amount),
	}
}

// String returns a human-readable string representation.
func (t Trade) String() string {
	return fmt.Sprintf("%s %s %s@%s", t.Symbol, t.Side, t.Amount.String(), t.Price.String())
}
