package domain

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrMarketNotFound is returned when a symbol or id is not in the registry.
var ErrMarketNotFound = errors.New("market not found")

// Market describes a tradable instrument as the adapter knows it.
type Market struct {
	ID     string
	Symbol string
	Base   string
	Quote  string
	Type   MarketType
}

// Markets is a local symbol registry. Lookups never touch the network.
type Markets struct {
	mu       sync.RWMutex
	bySymbol map[string]Market
	byID     map[string]Market
}

// NewMarkets builds a registry from the given markets.
func NewMarkets(markets ...Market) *Markets {
	m := &Markets{
		bySymbol: make(map[string]Market, len(markets)),
		byID:     make(map[string]Market, len(markets)),
	}
	for _, market := range markets {
		m.Add(market)
	}

	return m
}

// Add registers or replaces a market.
func (m *Markets) Add(market Market) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bySymbol[market.Symbol] = market
	m.byID[strings.ToUpper(market.ID)] = market
}

// Market resolves a unified symbol or an exchange id.
func (m *Markets) Market(symbolOrID string) (Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if market, ok := m.bySymbol[symbolOrID]; ok {
		return market, nil
	}
	if market, ok := m.byID[strings.ToUpper(symbolOrID)]; ok {
		return market, nil
	}

	return Market{}, errors.Wrapf(ErrMarketNotFound, "%q", symbolOrID)
}

// SafeSymbol returns the unified symbol for an id, falling back to the id itself.
func (m *Markets) SafeSymbol(id string) string {
	market, err := m.Market(id)
	if err != nil {
		return id
	}

	return market.Symbol
}

// MarketFromPair builds a spot market from a pair using the concatenated id convention.
func MarketFromPair(p Pair, marketType MarketType) Market {
	return Market{
		ID:     p.MarketID(),
		Symbol: p.String(),
		Base:   p.From,
		Quote:  p.To,
		Type:   marketType,
	}
}
