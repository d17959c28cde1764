package snapshot

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

// Hyperliquid fetches L2 books from the public Info API. Hyperliquid books are
// not sequenced, the book time orders them.
type Hyperliquid struct {
	info    *hyperliquid.Info
	markets *domain.Markets
}

func NewHyperliquid(info *hyperliquid.Info, markets *domain.Markets) *Hyperliquid {
	return &Hyperliquid{info: info, markets: markets}
}

func (h *Hyperliquid) FetchOrderBook(ctx context.Context, symbol string, limit int) (orderbook.Snapshot, error) {
	coin := symbol
	if market, err := h.markets.Market(symbol); err == nil {
		coin = market.Base
	}
	coin = strings.ToUpper(coin)

	book, err := h.info.L2Snapshot(ctx, coin)
	if err != nil {
		return orderbook.Snapshot{}, errors.Wrapf(err, "hyperliquid l2 %s", coin)
	}
	if len(book.Levels) != 2 {
		return orderbook.Snapshot{}, errors.Errorf("hyperliquid l2 %s: expected 2 sides, got %d", coin, len(book.Levels))
	}

	snap := orderbook.Snapshot{
		Symbol:    h.markets.SafeSymbol(symbol),
		Timestamp: time.UnixMilli(book.Time),
	}
	for i, l := range book.Levels[0] {
		if limit > 0 && i == limit {
			break
		}
		snap.Bids = append(snap.Bids, orderbook.Level{
			Price: decimal.NewFromFloat(l.Px),
			Size:  decimal.NewFromFloat(l.Sz),
			Count: int64(l.N),
		})
	}
	for i, l := range book.Levels[1] {
		if limit > 0 && i == limit {
			break
		}
		snap.Asks = append(snap.Asks, orderbook.Level{
			Price: decimal.NewFromFloat(l.Px),
			Size:  decimal.NewFromFloat(l.Sz),
			Count: int64(l.N),
		})
	}

	return snap, nil
}
