package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide represents the direction of a position. Hedge-mode accounts hold
// long and short on the same symbol at once.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	// PositionSideBoth one-way mode, a single net position per symbol.
	PositionSideBoth PositionSide = "both"
)

// Position is the latest known state of a derivatives position.
type Position struct {
	Symbol        string
	Side          PositionSide
	Contracts     decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
	MarginMode    string
	Timestamp     time.Time
}

// IsOpen reports whether the position holds any contracts.
func (p Position) IsOpen() bool {
	return !p.Contracts.IsZero()
}

// Notional returns contracts times entry price.
func (p Position) Notional() decimal.Decimal {
	return p.Contracts.Abs().Mul(p.EntryPrice)
}
