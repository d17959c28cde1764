package stream

import (
	"context"

	"github.com/vadiminshakov/marketstream/internal/cache"
	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

func (s *Session) tradesCache(symbol string) *cache.Bounded[domain.Trade] {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.trades[symbol]
	if !ok {
		c = cache.NewBounded(s.cfg.TradesLimit, func(t domain.Trade) string { return t.Symbol })
		s.trades[symbol] = c
	}

	return c
}

func (s *Session) ohlcvCache(symbol, timeframe string) *cache.ByTimestamp[domain.OHLCV] {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := OHLCVHash(symbol, timeframe)
	c, ok := s.ohlcv[key]
	if !ok {
		c = cache.NewByTimestamp(s.cfg.OHLCVLimit, func(k domain.OHLCV) int64 { return k.Timestamp.UnixMilli() })
		s.ohlcv[key] = c
	}

	return c
}

// HandleTrades appends trades of symbol and wakes trades:<symbol> and trades.
func (s *Session) HandleTrades(c *wsclient.Client, symbol string, trades []domain.Trade) {
	tc := s.tradesCache(symbol)
	for _, t := range trades {
		tc.Append(t)
	}
	c.Resolve(tc, TradesHash(symbol))
	c.Resolve(tc, HashTrades)
}

// HandleOHLCV stores candles and wakes ohlcv:<symbol>:<timeframe>.
func (s *Session) HandleOHLCV(c *wsclient.Client, symbol, timeframe string, candles []domain.OHLCV) {
	oc := s.ohlcvCache(symbol, timeframe)
	for _, k := range candles {
		oc.Append(k)
	}
	c.Resolve(oc, OHLCVHash(symbol, timeframe))
}

// HandleTicker stores t and wakes ticker:<symbol> and tickers.
func (s *Session) HandleTicker(c *wsclient.Client, t domain.Ticker) {
	s.tickers.Append(t)
	c.Resolve(t, TickerHash(t.Symbol))
	c.Resolve(t, HashTickers)
}

// HandleOrders merges order updates and wakes orders:<symbol> for every symbol
// touched and orders.
func (s *Session) HandleOrders(c *wsclient.Client, orders []domain.Order) {
	symbols := make(map[string]struct{})
	for _, o := range orders {
		s.orders.Append(o)
		symbols[o.Symbol] = struct{}{}
	}
	for symbol := range symbols {
		c.Resolve(s.orders, OrdersHash(symbol))
	}
	c.Resolve(s.orders, HashOrders)
}

// HandlePositions stores positions and wakes positions:<symbol> and positions.
func (s *Session) HandlePositions(c *wsclient.Client, positions []domain.Position) {
	symbols := make(map[string]struct{})
	for _, p := range positions {
		s.positions.Append(p)
		symbols[p.Symbol] = struct{}{}
	}
	for symbol := range symbols {
		c.Resolve(s.positions, PositionsHash(symbol))
	}
	c.Resolve(s.positions, HashPositions)
}

// HandleBalance merges update into the account balance and wakes balance.
func (s *Session) HandleBalance(c *wsclient.Client, update domain.Balances) {
	s.mu.Lock()
	s.balance.Merge(update)
	snapshot := s.balance.Clone()
	s.mu.Unlock()

	c.Resolve(snapshot, HashBalance)
}

// Balance returns a copy of the merged account balance.
func (s *Session) Balance() domain.Balances {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balance.Clone()
}

// Ticker returns the last ticker of symbol.
func (s *Session) Ticker(symbol string) (domain.Ticker, bool) {
	return s.tickers.Get(symbol, "")
}

// Trades returns the cached trades of symbol, oldest first.
func (s *Session) Trades(symbol string) []domain.Trade {
	s.mu.Lock()
	tc, ok := s.trades[symbol]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	return tc.Items()
}

// OHLCV returns the cached candles of symbol/timeframe, oldest first.
func (s *Session) OHLCV(symbol, timeframe string) []domain.OHLCV {
	s.mu.Lock()
	oc, ok := s.ohlcv[OHLCVHash(symbol, timeframe)]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	return oc.Items()
}

// Orders returns the current orders of symbol, "" for all.
func (s *Session) Orders(symbol string) []domain.Order {
	if symbol == "" {
		return s.orders.Items()
	}

	return s.orders.BySymbol(symbol)
}

// Positions returns the current positions of symbol, "" for all.
func (s *Session) Positions(symbol string) []domain.Position {
	if symbol == "" {
		return s.positions.Items()
	}

	return s.positions.BySymbol(symbol)
}

// Stream describes where a typed watch subscribes.
type Stream struct {
	URL              string
	Request          any
	SubscriptionHash string
	Subscription     *wsclient.Subscription
	// Seed loads a REST snapshot of a new order book right after subscribing
	// instead of waiting for the first delta. Needs a fetcher.
	Seed bool
}

// WatchTrades waits for the next trades of symbol and returns those not yet seen
// by watchers, at most limit when limit > 0.
func (s *Session) WatchTrades(ctx context.Context, st Stream, symbol string, limit int) ([]domain.Trade, error) {
	f := s.Watch(ctx, st.URL, TradesHash(symbol), st.Request, st.SubscriptionHash, st.Subscription)
	tc, err := wsclient.Await[*cache.Bounded[domain.Trade]](ctx, f)
	if err != nil {
		return nil, err
	}

	return tc.Last(tc.NewUpdates(symbol, limit)), nil
}

// MultiStream describes one subscribe request covering several symbols, one
// subscription hash per symbol.
type MultiStream struct {
	URL                string
	Request            any
	SubscriptionHashes []string
	Subscription       *wsclient.Subscription
}

// WatchTradesForSymbols waits for trades of any of symbols and returns the
// trades not yet seen of whichever symbol updated first.
func (s *Session) WatchTradesForSymbols(ctx context.Context, st MultiStream, symbols []string, limit int) ([]domain.Trade, error) {
	hashes := make([]string, len(symbols))
	for i, symbol := range symbols {
		hashes[i] = TradesHash(symbol)
	}
	f := s.WatchMultiple(ctx, st.URL, hashes, st.Request, st.SubscriptionHashes, st.Subscription)
	tc, err := wsclient.Await[*cache.Bounded[domain.Trade]](ctx, f)
	if err != nil {
		return nil, err
	}

	latest := tc.Last(1)
	if len(latest) == 0 {
		return nil, nil
	}

	return tc.Last(tc.NewUpdates(latest[0].Symbol, limit)), nil
}

// WatchOHLCV waits for the next candle update of symbol/timeframe.
func (s *Session) WatchOHLCV(ctx context.Context, st Stream, symbol, timeframe string, limit int) ([]domain.OHLCV, error) {
	f := s.Watch(ctx, st.URL, OHLCVHash(symbol, timeframe), st.Request, st.SubscriptionHash, st.Subscription)
	oc, err := wsclient.Await[*cache.ByTimestamp[domain.OHLCV]](ctx, f)
	if err != nil {
		return nil, err
	}

	return oc.Last(oc.NewUpdates(limit)), nil
}

// WatchTicker waits for the next ticker of symbol.
func (s *Session) WatchTicker(ctx context.Context, st Stream, symbol string) (domain.Ticker, error) {
	f := s.Watch(ctx, st.URL, TickerHash(symbol), st.Request, st.SubscriptionHash, st.Subscription)

	return wsclient.Await[domain.Ticker](ctx, f)
}

// WatchOrders waits for order updates of symbol, "" for any symbol.
func (s *Session) WatchOrders(ctx context.Context, st Stream, symbol string, limit int) ([]domain.Order, error) {
	hash := HashOrders
	if symbol != "" {
		hash = OrdersHash(symbol)
	}
	f := s.Watch(ctx, st.URL, hash, st.Request, st.SubscriptionHash, st.Subscription)
	oc, err := wsclient.Await[*cache.Keyed[domain.Order]](ctx, f)
	if err != nil {
		return nil, err
	}
	n := oc.NewUpdates(symbol, limit)
	if symbol == "" {
		return oc.Last(n), nil
	}

	return lastN(oc.BySymbol(symbol), n), nil
}

// WatchPositions waits for position updates of symbol, "" for any symbol.
func (s *Session) WatchPositions(ctx context.Context, st Stream, symbol string) ([]domain.Position, error) {
	hash := HashPositions
	if symbol != "" {
		hash = PositionsHash(symbol)
	}
	f := s.Watch(ctx, st.URL, hash, st.Request, st.SubscriptionHash, st.Subscription)
	pc, err := wsclient.Await[*cache.Keyed[domain.Position]](ctx, f)
	if err != nil {
		return nil, err
	}
	if symbol == "" {
		return pc.Items(), nil
	}

	return pc.BySymbol(symbol), nil
}

// WatchBalance waits for the next balance update.
func (s *Session) WatchBalance(ctx context.Context, st Stream) (domain.Balances, error) {
	f := s.Watch(ctx, st.URL, HashBalance, st.Request, st.SubscriptionHash, st.Subscription)

	return wsclient.Await[domain.Balances](ctx, f)
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}

	return items[len(items)-n:]
}
