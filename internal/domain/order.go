package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// IsFinal reports whether no further updates are expected.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusClosed || s == OrderStatusCanceled || s == OrderStatusRejected
}

// Order is the latest known state of a private order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Status        OrderStatus
	Side          Side
	Type          string
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	Fee           *Fee
	Trades        []Trade
	Timestamp     time.Time
	LastUpdate    time.Time
}

// MergeOrder overlays next onto prev. Fields the update omits keep the values
// already known for the order.
func MergeOrder(prev, next Order) Order {
	merged := next
	if merged.ClientOrderID == "" {
		merged.ClientOrderID = prev.ClientOrderID
	}
	if merged.Type == "" {
		merged.Type = prev.Type
	}
	if merged.Side == "" {
		merged.Side = prev.Side
	}
	if merged.Price.IsZero() {
		merged.Price = prev.Price
	}
	if merged.Amount.IsZero() {
		merged.Amount = prev.Amount
	}
	if merged.Fee == nil {
		merged.Fee = prev.Fee
	}
	if len(merged.Trades) == 0 && len(prev.Trades) > 0 {
		merged.Trades = prev.Trades
	}
	if merged.Timestamp.IsZero() {
		merged.Timestamp = prev.Timestamp
	}
	if merged.Remaining.IsZero() && !merged.Status.IsFinal() && !merged.Amount.IsZero() {
		merged.Remaining = merged.Amount.Sub(merged.Filled)
	}

	return merged
}
