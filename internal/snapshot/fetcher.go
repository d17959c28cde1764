// Package snapshot fetches full order-book snapshots over REST, used to seed
// and resynchronize books maintained from WebSocket deltas.
package snapshot

import (
	"context"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

// Fetcher loads an order-book snapshot for a unified symbol.
type Fetcher interface {
	FetchOrderBook(ctx context.Context, symbol string, limit int) (orderbook.Snapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, symbol string, limit int) (orderbook.Snapshot, error)

func (f FetcherFunc) FetchOrderBook(ctx context.Context, symbol string, limit int) (orderbook.Snapshot, error) {
	return f(ctx, symbol, limit)
}

// NewFetcher builds the fetcher matching the SDK client type.
func NewFetcher(client any, markets *domain.Markets) (Fetcher, error) {
	switch c := client.(type) {
	case *binance.Client:
		return NewBinance(c, markets), nil
	case *bybit.Client:
		return NewBybit(c, markets, bybit.CategoryV5Spot), nil
	case *hyperliquid.Info:
		return NewHyperliquid(c, markets), nil
	default:
		return nil, errors.Errorf("unsupported client type: %T", client)
	}
}

// clampLimit picks the smallest allowed depth that covers want.
func clampLimit(want int, allowed []int) int {
	for _, l := range allowed {
		if want <= l {
			return l
		}
	}

	return allowed[len(allowed)-1]
}
