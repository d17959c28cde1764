package snapshot

import (
	"context"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

var bybitSpotDepths = []int{1, 50, 200}

// Bybit fetches v5 order-book snapshots; the nonce is the update id "u".
type Bybit struct {
	client   *bybit.Client
	markets  *domain.Markets
	category bybit.CategoryV5
}

func NewBybit(client *bybit.Client, markets *domain.Markets, category bybit.CategoryV5) *Bybit {
	return &Bybit{client: client, markets: markets, category: category}
}

func (b *Bybit) FetchOrderBook(_ context.Context, symbol string, limit int) (orderbook.Snapshot, error) {
	market, err := b.markets.Market(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	depth := clampLimit(limit, bybitSpotDepths)

	res, err := b.client.V5().Market().GetOrderbook(bybit.V5GetOrderbookParam{
		Category: b.category,
		Symbol:   bybit.SymbolV5(market.ID),
		Limit:    &depth,
	})
	if err != nil {
		return orderbook.Snapshot{}, errors.Wrapf(err, "bybit orderbook %s", market.ID)
	}

	snap := orderbook.Snapshot{
		Symbol:    market.Symbol,
		Nonce:     int64(res.Result.UpdateID),
		Timestamp: time.UnixMilli(res.Result.Timestamp),
	}
	for _, bid := range res.Result.Bids {
		l, err := orderbook.ParseLevel(bid.Price, bid.Quantity)
		if err != nil {
			return orderbook.Snapshot{}, err
		}
		snap.Bids = append(snap.Bids, l)
	}
	for _, ask := range res.Result.Asks {
		l, err := orderbook.ParseLevel(ask.Price, ask.Quantity)
		if err != nil {
			return orderbook.Snapshot{}, err
		}
		snap.Asks = append(snap.Asks, l)
	}

	return snap, nil
}
