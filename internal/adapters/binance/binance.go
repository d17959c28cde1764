// Package binance streams Binance spot market data over the raw /ws endpoint.
// Order books are kept from the diff depth stream and seeded from REST snapshots,
// so the session must be created with a snapshot fetcher.
package binance

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/stream"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

const PublicURL = "wss://stream.binance.com:9443/ws"

// Config of the Binance adapter.
type Config struct {
	URL string
	// DepthSpeed is the diff depth update speed, "100ms" or "1000ms".
	DepthSpeed string
	Session    stream.Config
}

// DefaultConfig returns the production endpoint settings.
func DefaultConfig() Config {
	return Config{
		URL:        PublicURL,
		DepthSpeed: "100ms",
		Session:    stream.DefaultConfig(),
	}
}

type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Exchange is the Binance adapter.
type Exchange struct {
	cfg     Config
	markets *domain.Markets
	session *stream.Session
}

// New creates the adapter. Pass stream.WithFetcher with a Binance REST fetcher
// to get order books.
func New(markets *domain.Markets, cfg Config, logger *zap.Logger, opts ...stream.Option) *Exchange {
	if cfg.URL == "" {
		cfg.URL = PublicURL
	}
	if cfg.DepthSpeed == "" {
		cfg.DepthSpeed = "100ms"
	}

	e := &Exchange{cfg: cfg, markets: markets}
	e.session = stream.NewSession(e.dispatcher(), cfg.Session, logger.With(zap.String("exchange", "binance")), opts...)

	return e
}

func (e *Exchange) dispatcher() *stream.Dispatcher {
	return stream.NewDispatcher(kind).
		On(kindDepth, e.handleDepth).
		On(kindTrade, e.handleTrade).
		On(kindKline, e.handleKline).
		On(kindTicker, e.handleTicker).
		On(kindResult, e.handleResult).
		On(kindError, e.handleError)
}

// Session exposes the underlying session.
func (e *Exchange) Session() *stream.Session { return e.session }

// Close drops every connection.
func (e *Exchange) Close() { e.session.Close() }

func (e *Exchange) subscription(topic string, market domain.Market, name string) stream.Stream {
	id := e.session.Client(e.cfg.URL).NextRequestID()

	return stream.Stream{
		URL:              e.cfg.URL,
		Request:          request{Method: "SUBSCRIBE", Params: []string{name}, ID: id},
		SubscriptionHash: name,
		Subscription: &wsclient.Subscription{
			ID:      id,
			Symbols: []string{market.Symbol},
			Topic:   topic,
			Params:  map[string]any{"stream": name},
		},
	}
}

func streamName(market domain.Market, channel string) string {
	return strings.ToLower(market.ID) + "@" + channel
}

// WatchOrderBook waits for the next update of symbol's book.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol string, depth int) (orderbook.Snapshot, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	name := streamName(market, "depth@"+e.cfg.DepthSpeed)

	return e.session.WatchOrderBook(ctx, e.subscription(stream.TopicOrderBook, market, name), market.Symbol, depth)
}

// WatchTrades waits for trades of symbol not yet returned, at most limit.
func (e *Exchange) WatchTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return nil, err
	}

	return e.session.WatchTrades(ctx, e.subscription(stream.TopicTrades, market, streamName(market, "trade")), market.Symbol, limit)
}

// WatchOHLCV waits for the next candle update of symbol in timeframe ("1m", "1h", ...).
func (e *Exchange) WatchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.OHLCV, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return nil, err
	}
	name := streamName(market, "kline_"+timeframe)

	return e.session.WatchOHLCV(ctx, e.subscription(stream.TopicOHLCV, market, name), market.Symbol, timeframe, limit)
}

// WatchTicker waits for the next 24h ticker of symbol.
func (e *Exchange) WatchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}

	return e.session.WatchTicker(ctx, e.subscription(stream.TopicTicker, market, streamName(market, "ticker")), market.Symbol)
}

func (e *Exchange) multiSubscription(topic string, symbols []string, channel string) (stream.MultiStream, []string, error) {
	names := make([]string, len(symbols))
	unified := make([]string, len(symbols))
	for i, symbol := range symbols {
		market, err := e.markets.Market(symbol)
		if err != nil {
			return stream.MultiStream{}, nil, err
		}
		names[i] = streamName(market, channel)
		unified[i] = market.Symbol
	}
	id := e.session.Client(e.cfg.URL).NextRequestID()

	return stream.MultiStream{
		URL:                e.cfg.URL,
		Request:            request{Method: "SUBSCRIBE", Params: names, ID: id},
		SubscriptionHashes: names,
		Subscription: &wsclient.Subscription{
			ID:      id,
			Symbols: unified,
			Topic:   topic,
			Params:  map[string]any{"streams": names},
		},
	}, unified, nil
}

// WatchTradesForSymbols subscribes to the trades of every symbol in one request
// and returns the new trades of whichever symbol trades first.
func (e *Exchange) WatchTradesForSymbols(ctx context.Context, symbols []string, limit int) ([]domain.Trade, error) {
	if len(symbols) == 0 {
		return nil, errors.Wrap(wsclient.ErrInvalidArgument, "no symbols")
	}
	st, unified, err := e.multiSubscription(stream.TopicTrades, symbols, "trade")
	if err != nil {
		return nil, err
	}

	return e.session.WatchTradesForSymbols(ctx, st, unified, limit)
}

// WatchOrderBookForSymbols subscribes to the diff depth of every symbol in one
// request and returns the book that updates first.
func (e *Exchange) WatchOrderBookForSymbols(ctx context.Context, symbols []string, depth int) (orderbook.Snapshot, error) {
	if len(symbols) == 0 {
		return orderbook.Snapshot{}, errors.Wrap(wsclient.ErrInvalidArgument, "no symbols")
	}
	st, unified, err := e.multiSubscription(stream.TopicOrderBook, symbols, "depth@"+e.cfg.DepthSpeed)
	if err != nil {
		return orderbook.Snapshot{}, err
	}

	return e.session.WatchOrderBookForSymbols(ctx, st, unified, depth)
}

// UnwatchOrderBook unsubscribes symbol's diff depth stream and drops its book.
func (e *Exchange) UnwatchOrderBook(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	name := streamName(market, "depth@"+e.cfg.DepthSpeed)

	return e.unwatch(ctx, stream.TopicOrderBook, market, name, stream.OrderBookHash(market.Symbol), "")
}

// UnwatchTrades unsubscribes symbol's trade stream and drops its cache.
func (e *Exchange) UnwatchTrades(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}

	return e.unwatch(ctx, stream.TopicTrades, market, streamName(market, "trade"), stream.TradesHash(market.Symbol), "")
}

// UnwatchOHLCV unsubscribes symbol's kline stream for timeframe.
func (e *Exchange) UnwatchOHLCV(ctx context.Context, symbol, timeframe string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	name := streamName(market, "kline_"+timeframe)

	return e.unwatch(ctx, stream.TopicOHLCV, market, name, stream.OHLCVHash(market.Symbol, timeframe), timeframe)
}

// UnwatchTicker unsubscribes symbol's ticker stream.
func (e *Exchange) UnwatchTicker(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}

	return e.unwatch(ctx, stream.TopicTicker, market, streamName(market, "ticker"), stream.TickerHash(market.Symbol), "")
}

func (e *Exchange) unwatch(ctx context.Context, topic string, market domain.Market, name, messageHash, timeframe string) error {
	u := stream.Unsubscription{
		Topic:              topic,
		Symbols:            []string{market.Symbol},
		Timeframe:          timeframe,
		MessageHashes:      []string{messageHash},
		SubscriptionHashes: []string{name},
	}
	if id := e.session.NextRequestID(e.cfg.URL); id != 0 {
		u.Request = request{Method: "UNSUBSCRIBE", Params: []string{name}, ID: id}
		u.AckID = id
	}

	return e.session.Unsubscribe(ctx, e.cfg.URL, u)
}

func (e *Exchange) handleDepth(s *stream.Session, c *wsclient.Client, msg []byte) error {
	id, d, err := parseDepth(msg)
	symbol := e.markets.SafeSymbol(id)
	if err != nil {
		return stream.NewHandlerError(err, stream.OrderBookHash(symbol))
	}
	s.HandleOrderBookDelta(c, symbol, d)

	return nil
}

func (e *Exchange) handleTrade(s *stream.Session, c *wsclient.Client, msg []byte) error {
	t, err := parseTrade(e.markets, msg)
	if err != nil {
		return err
	}
	s.HandleTrades(c, t.Symbol, []domain.Trade{t})

	return nil
}

func (e *Exchange) handleKline(s *stream.Session, c *wsclient.Client, msg []byte) error {
	symbol, timeframe, candle, err := parseKline(e.markets, msg)
	if err != nil {
		return err
	}
	s.HandleOHLCV(c, symbol, timeframe, []domain.OHLCV{candle})

	return nil
}

func (e *Exchange) handleTicker(s *stream.Session, c *wsclient.Client, msg []byte) error {
	t, err := parseTicker(e.markets, msg)
	if err != nil {
		return err
	}
	s.HandleTicker(c, t)

	return nil
}

// handleResult acknowledges SUBSCRIBE and UNSUBSCRIBE requests. Only
// unsubscribes are waited on.
func (e *Exchange) handleResult(s *stream.Session, c *wsclient.Client, msg []byte) error {
	id, _, err := parseResult(msg)
	if err != nil {
		return err
	}
	s.AckUnsubscribe(c, id)

	return nil
}

// handleError fails the watchers of the request the error answers and forgets
// its subscription record.
func (e *Exchange) handleError(s *stream.Session, c *wsclient.Client, msg []byte) error {
	id, werr, err := parseResult(msg)
	if err != nil {
		return err
	}
	exErr := &wsclient.ExchangeError{
		Code:    strconv.Itoa(werr.Code),
		Message: werr.Msg,
		Kind:    wsclient.KindBadRequest,
	}
	c.RejectPending(exErr, stream.UnsubscribeHash(id))

	var hashes []string
	for _, sub := range c.Subscriptions() {
		if sub.ID == id {
			c.Unsubscribe(sub.Hash)
			hashes = append(hashes, sub.MessageHashes...)
		}
	}
	if len(hashes) == 0 {
		return errors.Wrapf(exErr, "request %d", id)
	}

	return stream.NewHandlerError(exErr, hashes...)
}
