package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/config"
	"github.com/vadiminshakov/marketstream/internal/adapters/binance"
	"github.com/vadiminshakov/marketstream/internal/adapters/bybit"
	"github.com/vadiminshakov/marketstream/internal/adapters/hyperliquid"
	"github.com/vadiminshakov/marketstream/internal/clients"
	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/snapshot"
	"github.com/vadiminshakov/marketstream/internal/stream"
)

// exchange is what the watch loops need from an adapter.
type exchange interface {
	Session() *stream.Session
	Close()
	WatchOrderBook(ctx context.Context, symbol string, depth int) (orderbook.Snapshot, error)
	WatchTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)
	WatchTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	WatchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.OHLCV, error)
}

// privateExchange is implemented by adapters with authenticated streams.
type privateExchange interface {
	WatchOrders(ctx context.Context, symbol string, limit int) ([]domain.Order, error)
	WatchPositions(ctx context.Context, symbol string) ([]domain.Position, error)
	WatchBalance(ctx context.Context) (domain.Balances, error)
}

// markets builds the market registry for the configured pairs and returns the
// unified symbols in config order.
func markets(cfg config.Config) (*domain.Markets, []string) {
	registry := domain.NewMarkets()
	symbols := make([]string, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		var m domain.Market
		if cfg.Exchange == config.ExchangeHyperliquid {
			m = hyperliquid.PerpMarket(p.From)
		} else {
			m = domain.MarketFromPair(p, domain.MarketTypeSpot)
		}
		registry.Add(m)
		symbols = append(symbols, m.Symbol)
	}

	return registry, symbols
}

func newExchange(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...stream.Option) (exchange, []string, error) {
	registry, symbols := markets(cfg)

	switch cfg.Exchange {
	case config.ExchangeBinance:
		fetcher, err := snapshot.NewFetcher(clients.NewBinanceClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET")), registry)
		if err != nil {
			return nil, nil, err
		}
		ac := binance.DefaultConfig()
		if cfg.URL != "" {
			ac.URL = cfg.URL
		}
		ac.Session = cfg.Session(ac.Session)

		return binance.New(registry, ac, logger, append(opts, stream.WithFetcher(fetcher))...), symbols, nil

	case config.ExchangeBybit:
		apiKey, apiSecret := os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET")
		fetcher, err := snapshot.NewFetcher(clients.NewBybitClient(apiKey, apiSecret), registry)
		if err != nil {
			return nil, nil, err
		}
		ac := bybit.DefaultConfig()
		if cfg.URL != "" {
			ac.PublicURL = cfg.URL
		}
		if cfg.Private() {
			if apiKey == "" || apiSecret == "" {
				return nil, nil, errors.New("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set for private channels")
			}
			ac.Signer = clients.NewBybitSigner(apiKey, apiSecret)
		}
		ac.Session = cfg.Session(ac.Session)

		return bybit.New(registry, ac, logger, append(opts, stream.WithFetcher(fetcher))...), symbols, nil

	case config.ExchangeHyperliquid:
		coins := make([]string, 0, len(cfg.Pairs))
		for _, p := range cfg.Pairs {
			coins = append(coins, p.From)
		}
		fetcher, err := snapshot.NewFetcher(clients.NewHyperliquidInfo(ctx, "", coins), registry)
		if err != nil {
			return nil, nil, err
		}
		ac := hyperliquid.DefaultConfig()
		if cfg.URL != "" {
			ac.URL = cfg.URL
		}
		ac.Session = cfg.Session(ac.Session)

		return hyperliquid.New(registry, ac, logger, append(opts, stream.WithFetcher(fetcher))...), symbols, nil

	default:
		return nil, nil, errors.Errorf("unsupported exchange %q", cfg.Exchange)
	}
}
