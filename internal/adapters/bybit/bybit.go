// Package bybit streams Bybit v5 market data and private account updates.
package bybit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/stream"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

const (
	PublicSpotURL = "wss://stream.bybit.com/v5/public/spot"
	PrivateURL    = "wss://stream.bybit.com/v5/private"

	authWindow = 10 * time.Second
)

var spotDepths = []int{1, 50, 200, 1000}

// Signer signs the private-channel login for an expiry in unix milliseconds.
type Signer func(expires int64) (apiKey, signature string)

// Config of the Bybit adapter.
type Config struct {
	PublicURL  string
	PrivateURL string
	// Signer is required for private streams only.
	Signer  Signer
	Session stream.Config
}

// DefaultConfig returns the production endpoint settings. Bybit drops
// connections that do not ping every 20 seconds.
func DefaultConfig() Config {
	cfg := Config{
		PublicURL:  PublicSpotURL,
		PrivateURL: PrivateURL,
		Session:    stream.DefaultConfig(),
	}
	cfg.Session.Client.KeepAlive = 18 * time.Second

	return cfg
}

type request struct {
	ReqID string `json:"req_id"`
	Op    string `json:"op"`
	Args  []any  `json:"args,omitempty"`
}

// Exchange is the Bybit adapter.
type Exchange struct {
	cfg        Config
	markets    *domain.Markets
	session    *stream.Session
	dispatcher *stream.Dispatcher

	mu         sync.Mutex
	bookTopics map[string]string
}

// New creates the adapter.
func New(markets *domain.Markets, cfg Config, logger *zap.Logger, opts ...stream.Option) *Exchange {
	if cfg.PublicURL == "" {
		cfg.PublicURL = PublicSpotURL
	}
	if cfg.PrivateURL == "" {
		cfg.PrivateURL = PrivateURL
	}

	e := &Exchange{cfg: cfg, markets: markets, bookTopics: make(map[string]string)}
	e.dispatcher = stream.NewDispatcher(kind).
		On(kindOrderBook, e.handleOrderBook).
		On(kindTrade, e.handleTrades).
		On(kindTicker, e.handleTicker).
		On(kindKline, e.handleKline).
		On(kindOrder, e.handleOrders).
		On(kindPosition, e.handlePositions).
		On(kindWallet, e.handleWallet).
		On(kindSubscribe, e.handleSubscribe).
		On(kindUnsubscribe, e.handleUnsubscribe).
		On(kindAuth, e.handleAuth).
		On(kindPing, e.handlePong).
		On(kindPong, e.handlePong)
	e.session = stream.NewSession(e, cfg.Session, logger.With(zap.String("exchange", "bybit")), opts...)

	return e
}

// HandleMessage implements stream.Handler.
func (e *Exchange) HandleMessage(s *stream.Session, c *wsclient.Client, msg []byte) error {
	return e.dispatcher.HandleMessage(s, c, msg)
}

// Ping implements stream.Pinger. Bybit ignores WebSocket ping frames.
func (e *Exchange) Ping(c *wsclient.Client) any {
	return request{ReqID: strconv.FormatInt(c.NextRequestID(), 10), Op: "ping"}
}

// Session exposes the underlying session.
func (e *Exchange) Session() *stream.Session { return e.session }

// Close drops every connection.
func (e *Exchange) Close() { e.session.Close() }

func (e *Exchange) subscription(url, topic string, symbols []string, name string) stream.Stream {
	id := e.session.Client(url).NextRequestID()

	return stream.Stream{
		URL:              url,
		Request:          request{ReqID: strconv.FormatInt(id, 10), Op: "subscribe", Args: []any{name}},
		SubscriptionHash: name,
		Subscription: &wsclient.Subscription{
			ID:      id,
			Symbols: symbols,
			Topic:   topic,
			Params:  map[string]any{"topic": name},
		},
	}
}

func bookTopic(market domain.Market, depth int) string {
	if depth <= 0 {
		depth = 50
	}
	for _, d := range spotDepths {
		if depth <= d {
			return fmt.Sprintf("orderbook.%d.%s", d, market.ID)
		}
	}

	return fmt.Sprintf("orderbook.%d.%s", spotDepths[len(spotDepths)-1], market.ID)
}

// WatchOrderBook waits for the next update of symbol's book. The stream starts
// with a snapshot; a REST fetcher is only needed to recover from gaps.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol string, depth int) (orderbook.Snapshot, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	topic := bookTopic(market, depth)
	e.mu.Lock()
	e.bookTopics[market.Symbol] = topic
	e.mu.Unlock()

	st := e.subscription(e.cfg.PublicURL, stream.TopicOrderBook, []string{market.Symbol}, topic)

	return e.session.WatchOrderBook(ctx, st, market.Symbol, depth)
}

// WatchTrades waits for trades of symbol not yet returned, at most limit.
func (e *Exchange) WatchTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return nil, err
	}
	st := e.subscription(e.cfg.PublicURL, stream.TopicTrades, []string{market.Symbol}, "publicTrade."+market.ID)

	return e.session.WatchTrades(ctx, st, market.Symbol, limit)
}

// WatchTicker waits for the next ticker of symbol.
func (e *Exchange) WatchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return domain.Ticker{}, err
	}
	st := e.subscription(e.cfg.PublicURL, stream.TopicTicker, []string{market.Symbol}, "tickers."+market.ID)

	return e.session.WatchTicker(ctx, st, market.Symbol)
}

// WatchOHLCV waits for the next candle update of symbol in timeframe.
func (e *Exchange) WatchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.OHLCV, error) {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return nil, err
	}
	iv, ok := interval(timeframe)
	if !ok {
		return nil, errors.Wrapf(wsclient.ErrInvalidArgument, "unsupported timeframe %q", timeframe)
	}
	st := e.subscription(e.cfg.PublicURL, stream.TopicOHLCV, []string{market.Symbol}, "kline."+iv+"."+market.ID)

	return e.session.WatchOHLCV(ctx, st, market.Symbol, timeframe, limit)
}

func (e *Exchange) multiSubscription(topic string, markets []domain.Market, names []string) stream.MultiStream {
	id := e.session.Client(e.cfg.PublicURL).NextRequestID()
	args := make([]any, len(names))
	symbols := make([]string, len(markets))
	for i := range names {
		args[i] = names[i]
		symbols[i] = markets[i].Symbol
	}

	return stream.MultiStream{
		URL:                e.cfg.PublicURL,
		Request:            request{ReqID: strconv.FormatInt(id, 10), Op: "subscribe", Args: args},
		SubscriptionHashes: names,
		Subscription: &wsclient.Subscription{
			ID:      id,
			Symbols: symbols,
			Topic:   topic,
			Params:  map[string]any{"topics": names},
		},
	}
}

func (e *Exchange) marketsOf(symbols []string) ([]domain.Market, error) {
	if len(symbols) == 0 {
		return nil, errors.Wrap(wsclient.ErrInvalidArgument, "no symbols")
	}
	markets := make([]domain.Market, len(symbols))
	for i, symbol := range symbols {
		market, err := e.markets.Market(symbol)
		if err != nil {
			return nil, err
		}
		markets[i] = market
	}

	return markets, nil
}

// WatchTradesForSymbols subscribes to the public trades of every symbol in one
// request and returns the new trades of whichever symbol trades first.
func (e *Exchange) WatchTradesForSymbols(ctx context.Context, symbols []string, limit int) ([]domain.Trade, error) {
	markets, err := e.marketsOf(symbols)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(markets))
	unified := make([]string, len(markets))
	for i, market := range markets {
		names[i] = "publicTrade." + market.ID
		unified[i] = market.Symbol
	}

	return e.session.WatchTradesForSymbols(ctx, e.multiSubscription(stream.TopicTrades, markets, names), unified, limit)
}

// WatchOrderBookForSymbols subscribes to the books of every symbol in one
// request and returns the book that updates first.
func (e *Exchange) WatchOrderBookForSymbols(ctx context.Context, symbols []string, depth int) (orderbook.Snapshot, error) {
	markets, err := e.marketsOf(symbols)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	names := make([]string, len(markets))
	unified := make([]string, len(markets))
	e.mu.Lock()
	for i, market := range markets {
		names[i] = bookTopic(market, depth)
		unified[i] = market.Symbol
		e.bookTopics[market.Symbol] = names[i]
	}
	e.mu.Unlock()

	return e.session.WatchOrderBookForSymbols(ctx, e.multiSubscription(stream.TopicOrderBook, markets, names), unified, depth)
}

// WatchOrders waits for order updates of symbol, "" for any symbol.
func (e *Exchange) WatchOrders(ctx context.Context, symbol string, limit int) ([]domain.Order, error) {
	if err := e.authenticate(ctx); err != nil {
		return nil, err
	}
	unified, err := e.unified(symbol)
	if err != nil {
		return nil, err
	}
	st := e.subscription(e.cfg.PrivateURL, stream.TopicOrders, nil, kindOrder)

	return e.session.WatchOrders(ctx, st, unified, limit)
}

// WatchPositions waits for position updates of symbol, "" for any symbol.
func (e *Exchange) WatchPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	if err := e.authenticate(ctx); err != nil {
		return nil, err
	}
	unified, err := e.unified(symbol)
	if err != nil {
		return nil, err
	}
	st := e.subscription(e.cfg.PrivateURL, stream.TopicPositions, nil, kindPosition)

	return e.session.WatchPositions(ctx, st, unified)
}

// WatchBalance waits for the next wallet update.
func (e *Exchange) WatchBalance(ctx context.Context) (domain.Balances, error) {
	if err := e.authenticate(ctx); err != nil {
		return domain.Balances{}, err
	}
	st := e.subscription(e.cfg.PrivateURL, "", nil, kindWallet)

	return e.session.WatchBalance(ctx, st)
}

func (e *Exchange) unified(symbol string) (string, error) {
	if symbol == "" {
		return "", nil
	}
	market, err := e.markets.Market(symbol)
	if err != nil {
		return "", err
	}

	return market.Symbol, nil
}

func (e *Exchange) authenticate(ctx context.Context) error {
	if e.cfg.Signer == nil {
		return errors.Wrap(wsclient.ErrAuthentication, "no credentials configured")
	}
	expires := time.Now().Add(authWindow).UnixMilli()
	apiKey, signature := e.cfg.Signer(expires)
	req := request{ReqID: "auth", Op: "auth", Args: []any{apiKey, expires, signature}}

	_, err := e.session.Authenticate(ctx, e.cfg.PrivateURL, req).Wait(ctx)

	return err
}

// UnwatchOrderBook unsubscribes symbol's book and drops it.
func (e *Exchange) UnwatchOrderBook(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	e.mu.Lock()
	topic, ok := e.bookTopics[market.Symbol]
	delete(e.bookTopics, market.Symbol)
	e.mu.Unlock()
	if !ok {
		topic = bookTopic(market, 0)
	}

	return e.unwatch(ctx, stream.TopicOrderBook, market, topic, stream.OrderBookHash(market.Symbol), "")
}

// UnwatchTrades unsubscribes symbol's public trades.
func (e *Exchange) UnwatchTrades(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}

	return e.unwatch(ctx, stream.TopicTrades, market, "publicTrade."+market.ID, stream.TradesHash(market.Symbol), "")
}

// UnwatchTicker unsubscribes symbol's ticker.
func (e *Exchange) UnwatchTicker(ctx context.Context, symbol string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}

	return e.unwatch(ctx, stream.TopicTicker, market, "tickers."+market.ID, stream.TickerHash(market.Symbol), "")
}

// UnwatchOHLCV unsubscribes symbol's candles in timeframe.
func (e *Exchange) UnwatchOHLCV(ctx context.Context, symbol, timeframe string) error {
	market, err := e.markets.Market(symbol)
	if err != nil {
		return err
	}
	iv, ok := interval(timeframe)
	if !ok {
		return errors.Wrapf(wsclient.ErrInvalidArgument, "unsupported timeframe %q", timeframe)
	}

	return e.unwatch(ctx, stream.TopicOHLCV, market, "kline."+iv+"."+market.ID, stream.OHLCVHash(market.Symbol, timeframe), timeframe)
}

func (e *Exchange) unwatch(ctx context.Context, topic string, market domain.Market, name, messageHash, timeframe string) error {
	u := stream.Unsubscription{
		Topic:              topic,
		Symbols:            []string{market.Symbol},
		Timeframe:          timeframe,
		MessageHashes:      []string{messageHash},
		SubscriptionHashes: []string{name},
	}
	if id := e.session.NextRequestID(e.cfg.PublicURL); id != 0 {
		u.Request = request{ReqID: strconv.FormatInt(id, 10), Op: "unsubscribe", Args: []any{name}}
		u.AckID = id
	}

	return e.session.Unsubscribe(ctx, e.cfg.PublicURL, u)
}

func (e *Exchange) handleOrderBook(s *stream.Session, c *wsclient.Client, msg []byte) error {
	id, reset, snap, err := parseOrderBook(msg)
	symbol := e.markets.SafeSymbol(id)
	if err != nil {
		return stream.NewHandlerError(err, stream.OrderBookHash(symbol))
	}
	if reset {
		snap.Symbol = symbol
		s.HandleOrderBookSnapshot(c, snap)
		return nil
	}
	s.HandleOrderBookDelta(c, symbol, orderbook.Delta{
		Last:      snap.Nonce,
		Timestamp: snap.Timestamp,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
	})

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

func (e *Exchange) handleTicker(s *stream.Session, c *wsclient.Client, msg []byte) error {
	t, err := parseTicker(e.markets, msg, s.Ticker)
	if err != nil {
		return err
	}
	s.HandleTicker(c, t)

	return nil
}

func (e *Exchange) handleKline(s *stream.Session, c *wsclient.Client, msg []byte) error {
	id, tf, candles, err := parseKline(msg)
	if err != nil {
		return err
	}
	s.HandleOHLCV(c, e.markets.SafeSymbol(id), tf, candles)

	return nil
}

func (e *Exchange) handleOrders(s *stream.Session, c *wsclient.Client, msg []byte) error {
	orders, err := parseOrders(e.markets, msg)
	if err != nil {
		return stream.NewHandlerError(err, stream.HashOrders)
	}
	s.HandleOrders(c, orders)

	return nil
}

func (e *Exchange) handlePositions(s *stream.Session, c *wsclient.Client, msg []byte) error {
	positions, err := parsePositions(e.markets, msg)
	if err != nil {
		return stream.NewHandlerError(err, stream.HashPositions)
	}
	s.HandlePositions(c, positions)

	return nil
}

func (e *Exchange) handleWallet(s *stream.Session, c *wsclient.Client, msg []byte) error {
	balances, err := parseWallet(msg)
	if err != nil {
		return stream.NewHandlerError(err, stream.HashBalance)
	}
	s.HandleBalance(c, balances)

	return nil
}

// handleSubscribe fails the watchers of a rejected subscribe request and
// forgets its record so the next watch retries.
func (e *Exchange) handleSubscribe(s *stream.Session, c *wsclient.Client, msg []byte) error {
	resp, err := parseResponse(msg)
	if err != nil {
		return err
	}
	if resp.ok() {
		return nil
	}

	exErr := &wsclient.ExchangeError{Message: resp.RetMsg, Kind: wsclient.KindBadRequest}
	id := resp.requestID()
	var hashes []string
	for _, sub := range c.Subscriptions() {
		if sub.ID == id {
			c.Unsubscribe(sub.Hash)
			hashes = append(hashes, sub.MessageHashes...)
		}
	}
	if len(hashes) == 0 {
		return errors.Wrapf(exErr, "subscribe %s", resp.ReqID)
	}

	return stream.NewHandlerError(exErr, hashes...)
}

func (e *Exchange) handleUnsubscribe(s *stream.Session, c *wsclient.Client, msg []byte) error {
	resp, err := parseResponse(msg)
	if err != nil {
		return err
	}
	id := resp.requestID()
	if !resp.ok() {
		c.RejectPending(&wsclient.ExchangeError{Message: resp.RetMsg, Kind: wsclient.KindBadRequest}, stream.UnsubscribeHash(id))
		return nil
	}
	s.AckUnsubscribe(c, id)

	return nil
}

func (e *Exchange) handleAuth(s *stream.Session, c *wsclient.Client, msg []byte) error {
	resp, err := parseResponse(msg)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return stream.NewHandlerError(&wsclient.ExchangeError{Message: resp.RetMsg, Kind: wsclient.KindAuthentication}, stream.HashAuthenticated)
	}
	s.ConfirmAuthentication(c)

	return nil
}

func (e *Exchange) handlePong(_ *stream.Session, c *wsclient.Client, _ []byte) error {
	c.OnPong()
	return nil
}
