package domain

import (
	"github.com/shopspring/decimal"
)

// SafeDecimal parses s, returning zero for empty or malformed input. Wire
// parsers use it for optional numeric fields.
func SafeDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}

	return d
}

// SafeDecimalPtr is SafeDecimal for fields where absence must stay distinguishable.
func SafeDecimalPtr(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}

	return &d
}
