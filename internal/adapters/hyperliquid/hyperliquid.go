// Package hyperliquid streams Hyperliquid perpetual market data. Every l2Book
// frame is a full book; with a fetcher configured a new book is seeded from
// REST right away and later frames replace it.
package hyperliquid

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/stream"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

const MainnetURL = "wss://api.hyperliquid.xyz/ws"

// Config of the Hyperliquid adapter.
type Config struct {
	URL     string
	Session stream.Config
}

// DefaultConfig returns the mainnet settings. Idle connections are closed
// after a minute.
func DefaultConfig() Config {
	cfg := Config{URL: MainnetURL, Session: stream.DefaultConfig()}
	cfg.Session.Client.KeepAlive = 50 * time.Second

	return cfg
}

// PerpMarket builds the market of a USDC-settled perpetual.
func PerpMarket(coin string) domain.Market {
	return domain.Market{
		ID:     coin,
		Symbol: coin + "/USDC:USDC",
		Base:   coin,
		Quote:  "USDC",
		Type:   domain.MarketTypeSwap,
	}
}

type request struct {
	Method       string        `json:"method"`
	Subscription *subscription `json:"subscription,omitempty"`
}

// Exchange is the Hyperliquid adapter.
type Exchange struct {
	cfg        Config
	markets    *domain.Markets
	session    *stream.Session
	dispatcher *stream.Dispatcher
}

// New creates the adapter.
func New(markets *domain.Markets, cfg Config, logger *zap.Logger, opts ...stream.Option) *Exchange {
	if cfg.URL == "" {
		cfg.URL = MainnetURL
	}

	e := &Exchange{cfg: cfg, markets: markets}
	e.dispatcher = stream.NewDispatcher(kind).
		On(kindL2Book, e.handleL2Book).
		On(kindTrades, e.handleTrades).
		On(kindCandle, e.handleCandle).
		On(kindAllMids, e.handleAllMids).
		On(kindPong, e.handlePong).
		On(kindError, e.handleError).
		On(kindSubscription, func(*stream.Session, *wsclient.Client, []byte) error { return nil })
	e.session = stream.NewSession(e, cfg.Session, logger.With(zap.String("exchange", "hyperliquid")), opts...)

	return e
}

// HandleMessage implements stream.Handler.
func (e *Exchange) HandleMessage(s *stream.Session, c *wsclient.Client, msg []byte) error {
	return e.dispatcher.HandleMessage(s, c, msg)
}

// Ping implements stream.Pinger.
func (e *Exchange) Ping(*wsclient.Client) any {
	return request{Method: "ping"}
}

// Session exposes the underlying session.
func (e *Exchange) Session() *stream.Session { return e.session }

// Close drops every connection.
func (e *Exchange) Close() { e.session.Close() }

func (e *Exchange) subscription(topic string, symbols []string, sub subscription) stream.Stream {
	return stream.Stream{
		URL:              e.cfg.URL,
		Request:          request{Method: "subscribe", Subscription: &sub},
		SubscriptionHash: sub.key(),
		Subscription: &wsclient.Subscription{
			Symbols: symbols,
			Topic:   topic,
			Params:  map[string]any{"type": sub.Type, "coin": sub.Coin, "interval": sub.Interval},
		},
	}
}

// WatchOrderBook waits for the next book of symbol.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol string, depth int) (orderbook.Snapshot, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	st := e.subscription(stream.TopicOrderBook, []string{market.Symbol}, subscription{Type: kindL2Book, Coin: market.ID})
	st.Seed = true

	return e.session.WatchOrderBook(ctx, st, market.Symbol, depth)
}

// WatchTrades waits for trades of symbol not yet returned, at most limit.
func (e *Exchange) WatchTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return nil, err
	}
	st := e.subscription(stream.TopicTrades, []string{market.Symbol}, subscription{Type: kindTrades, Coin: market.ID})

	return e.session.WatchTrades(ctx, st, market.Symbol, limit)
}

// WatchOHLCV waits for the next candle of symbol in timeframe.
func (e *Exchange) WatchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.OHLCV, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return nil, err
	}
	sub := subscription{Type: kindCandle, Coin: market.ID, Interval: timeframe}
	st := e.subscription(stream.TopicOHLCV, []string{market.Symbol}, sub)

	return e.session.WatchOHLCV(ctx, st, market.Symbol, timeframe, limit)
}

// WatchTicker waits for the next mid price of symbol. All tickers share one
// allMids subscription.
func (e *Exchange) WatchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	st := e.subscription(stream.TopicTicker, nil, subscription{Type: kindAllMids})

	return e.session.WatchTicker(ctx, st, market.Symbol)
}

// UnwatchOrderBook unsubscribes symbol's book and drops it.
func (e *Exchange) UnwatchOrderBook(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	sub := subscription{Type: kindL2Book, Coin: market.ID}

	return e.unwatch(ctx, stream.TopicOrderBook, market, sub, stream.OrderBookHash(market.Symbol), "")
}

// UnwatchTrades unsubscribes symbol's trades.
func (e *Exchange) UnwatchTrades(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	sub := subscription{Type: kindTrades, Coin: market.ID}

	return e.unwatch(ctx, stream.TopicTrades, market, sub, stream.TradesHash(market.Symbol), "")
}

// UnwatchOHLCV unsubscribes symbol's candles in timeframe.
func (e *Exchange) UnwatchOHLCV(ctx context.Context, symbol, timeframe string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	sub := subscription{Type: kindCandle, Coin: market.ID, Interval: timeframe}

	return e.unwatch(ctx, stream.TopicOHLCV, market, sub, stream.OHLCVHash(market.Symbol, timeframe), timeframe)
}

// unwatch sends the unsubscribe without waiting: Hyperliquid confirmations
// carry no request id.
func (e *Exchange) unwatch(ctx context.Context, topic string, market domain.Market, sub subscription, messageHash, timeframe string) error {
	return e.session.Unsubscribe(ctx, e.cfg.URL, stream.Unsubscription{
		Topic:              topic,
		Symbols:            []string{market.Symbol},
		Timeframe:          timeframe,
		MessageHashes:      []string{messageHash},
		SubscriptionHashes: []string{sub.key()},
		Request:            request{Method: "unsubscribe", Subscription: &sub},
	})
}

func (e *Exchange) handleL2Book(s *stream.Session, c *wsclient.Client, msg []byte) error {
	coin, snap, err := parseL2Book(msg)
	symbol := e.markets.SafeSymbol(coin)
	if err != nil {
		return stream.NewHandlerError(err, stream.OrderBookHash(symbol))
	}
	snap.Symbol = symbol
	s.HandleOrderBookSnapshot(c, snap)

	return nil
}

func (e *Exchange) handleTrades(s *stream.Session, c *wsclient.Client, msg []byte) error {
	trades, err := parseTrades(e.markets, msg)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}
	s.HandleTrades(c, trades[0].Symbol, trades)

	return nil
}

func (e *Exchange) handleCandle(s *stream.Session, c *wsclient.Client, msg []byte) error {
	coin, timeframe, candle, err := parseCandle(msg)
	if err != nil {
		return err
	}
	s.HandleOHLCV(c, e.markets.SafeSymbol(coin), timeframe, []domain.OHLCV{candle})

	return nil
}

func (e *Exchange) handleAllMids(s *stream.Session, c *wsclient.Client, msg []byte) error {
	tickers, err := parseAllMids(e.markets, msg, time.Now())
	if err != nil {
		return err
	}
	for _, t := range tickers {
		s.HandleTicker(c, t)
	}

	return nil
}

func (e *Exchange) handlePong(_ *stream.Session, c *wsclient.Client, _ []byte) error {
	c.OnPong()
	return nil
}

// handleError fails the watchers of the subscription named in the error and
// forgets its record.
func (e *Exchange) handleError(s *stream.Session, c *wsclient.Client, msg []byte) error {
	text, sub, err := parseError(msg)
	if err != nil {
		return err
	}
	exErr := &wsclient.ExchangeError{Message: text, Kind: wsclient.KindBadRequest}
	if sub == nil {
		return exErr
	}

	record, ok := c.Unsubscribe(sub.key())
	if !ok || len(record.MessageHashes) == 0 {
		return exErr
	}

	return stream.NewHandlerError(exErr, record.MessageHashes...)
}
