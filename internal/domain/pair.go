// Package domain defines the unified market-data shapes shared by the core and the exchange adapters.
package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the unified symbol, e.g. BTC/USDT.
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.From, p.To)
}

// MarketID returns the concatenated exchange-style id, e.g. BTCUSDT.
func (p Pair) MarketID() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// ParsePair accepts BASE/QUOTE, BASE_QUOTE or BASE-QUOTE.
func ParsePair(s string) (Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"/", "_", "-"} {
		parts := strings.Split(s, sep)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return Pair{From: parts[0], To: parts[1]}, nil
		}
	}

	return Pair{}, errors.Errorf("invalid pair %q, expected BASE/QUOTE", s)
}
