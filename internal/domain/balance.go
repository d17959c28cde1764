package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance of one currency. Nil fields are unknown.
type Balance struct {
	Free  *decimal.Decimal
	Used  *decimal.Decimal
	Total *decimal.Decimal
}

// Balances is the account-wide balance map.
type Balances struct {
	Timestamp  time.Time
	Currencies map[string]Balance
}

// NewBalances returns an empty balance map.
func NewBalances() Balances {
	return Balances{Currencies: make(map[string]Balance)}
}

// Merge applies update field by field: a field present in the update replaces
// the stored one, absent fields keep their previous value.
func (b *Balances) Merge(update Balances) {
	if b.Currencies == nil {
		b.Currencies = make(map[string]Balance, len(update.Currencies))
	}
	for currency, next := range update.Currencies {
		cur := b.Currencies[currency]
		if next.Free != nil {
			cur.Free = next.Free
		}
		if next.Used != nil {
			cur.Used = next.Used
		}
		if next.Total != nil {
			cur.Total = next.Total
		} else if next.Free != nil || next.Used != nil {
			if cur.Free != nil && cur.Used != nil {
				total := cur.Free.Add(*cur.Used)
				cur.Total = &total
			}
		}
		b.Currencies[currency] = cur
	}
	if update.Timestamp.After(b.Timestamp) {
		b.Timestamp = update.Timestamp
	}
}

// Clone returns a deep copy safe to hand to readers.
func (b Balances) Clone() Balances {
	out := Balances{Timestamp: b.Timestamp, Currencies: make(map[string]Balance, len(b.Currencies))}
	for k, v := range b.Currencies {
		out.Currencies[k] = v
	}

	return out
}

// Dec is a helper for building optional decimal fields.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}
