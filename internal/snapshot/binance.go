package snapshot

import (
	"context"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

var binanceDepths = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

// Binance fetches spot depth snapshots. The nonce is lastUpdateId, matching the
// U/u ids of the diff depth stream.
type Binance struct {
	client  *binance.Client
	markets *domain.Markets
}

func NewBinance(client *binance.Client, markets *domain.Markets) *Binance {
	return &Binance{client: client, markets: markets}
}

func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, limit int) (orderbook.Snapshot, error) {
	market, err := b.markets.Market(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	if limit <= 0 {
		limit = 1000
	}

	res, err := b.client.NewDepthService().
		Symbol(market.ID).
		Limit(clampLimit(limit, binanceDepths)).
		Do(ctx)
	if err != nil {
		return orderbook.Snapshot{}, errors.Wrapf(err, "binance depth %s", market.ID)
	}

	snap := orderbook.Snapshot{
		Symbol:    market.Symbol,
		Nonce:     res.LastUpdateID,
		Timestamp: time.Now(),
	}
	for _, bid := range res.Bids {
		l, err := orderbook.ParseLevel(bid.Price, bid.Quantity)
		if err != nil {
			return orderbook.Snapshot{}, err
		}
		snap.Bids = append(snap.Bids, l)
	}
	for _, ask := range res.Asks {
		l, err := orderbook.ParseLevel(ask.Price, ask.Quantity)
		if err != nil {
			return orderbook.Snapshot{}, err
		}
		snap.Asks = append(snap.Asks, l)
	}

	return snap, nil
}
