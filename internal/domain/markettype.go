package domain

// MarketType type of market a symbol trades on.
type MarketType string

const (
	// MarketTypeSpot spot trading.
	MarketTypeSpot MarketType = "spot"
	// MarketTypeSwap perpetual contracts.
	MarketTypeSwap MarketType = "swap"
	// MarketTypeFuture dated futures.
	MarketTypeFuture MarketType = "future"
)

// String returns the string representation.
func (m MarketType) String() string {
	return string(m)
}

// IsValid checks if the MarketType value is valid.
func (m MarketType) IsValid() bool {
	return m == MarketTypeSpot || m == MarketTypeSwap || m == MarketTypeFuture
}

// IsContract reports whether the market settles in contracts.
func (m MarketType) IsContract() bool {
	return m == MarketTypeSwap || m == MarketTypeFuture
}
