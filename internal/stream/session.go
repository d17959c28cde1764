// Package stream multiplexes logical market-data subscriptions over shared
// WebSocket connections and keeps the caches and order books they feed.
//
// A Session owns all state. Exchange adapters supply a Handler that parses
// frames and pushes the results through the session's Handle* methods, which
// update state and resolve the futures of waiting watchers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/marketstream/internal/cache"
	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/snapshot"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
	"github.com/vadiminshakov/marketstream/pkg/retrier"
)

// ErrUnsubscribed rejects watchers whose stream was torn down on request.
var ErrUnsubscribed = errors.New("unsubscribed")

// Config holds session limits and timings.
type Config struct {
	Client         wsclient.Config
	TradesLimit    int
	OHLCVLimit     int
	OrdersLimit    int
	PositionsLimit int
	// SnapshotDelay is how many deltas to buffer before fetching a snapshot.
	SnapshotDelay int
	// SnapshotLimit is the depth requested from REST snapshots, independent of
	// the view depth watchers ask for.
	SnapshotLimit int
	// SnapshotMaxRetries bounds resnapshot attempts after a failure or gap.
	SnapshotMaxRetries    int
	SnapshotRetryInterval time.Duration
}

// DefaultConfig returns the limits used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Client:                wsclient.Config{KeepAlive: 20 * time.Second, ConnectTimeout: 10 * time.Second},
		TradesLimit:           cache.DefaultLimit,
		OHLCVLimit:            cache.DefaultLimit,
		OrdersLimit:           cache.DefaultLimit,
		PositionsLimit:        cache.DefaultLimit,
		SnapshotDelay:         1,
		SnapshotLimit:         1000,
		SnapshotMaxRetries:    3,
		SnapshotRetryInterval: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TradesLimit <= 0 {
		c.TradesLimit = d.TradesLimit
	}
	if c.OHLCVLimit <= 0 {
		c.OHLCVLimit = d.OHLCVLimit
	}
	if c.OrdersLimit <= 0 {
		c.OrdersLimit = d.OrdersLimit
	}
	if c.PositionsLimit <= 0 {
		c.PositionsLimit = d.PositionsLimit
	}
	if c.SnapshotDelay <= 0 {
		c.SnapshotDelay = d.SnapshotDelay
	}
	if c.SnapshotLimit <= 0 {
		c.SnapshotLimit = d.SnapshotLimit
	}
	if c.SnapshotMaxRetries < 0 {
		c.SnapshotMaxRetries = 0
	}
	if c.SnapshotRetryInterval <= 0 {
		c.SnapshotRetryInterval = d.SnapshotRetryInterval
	}

	return c
}

// Option configures a Session.
type Option func(*Session)

// WithFetcher sets the REST snapshot source for order books.
func WithFetcher(f snapshot.Fetcher) Option {
	return func(s *Session) {
		s.fetcher = f
	}
}

// WithJournal records book activity to j.
func WithJournal(j Journal) Option {
	return func(s *Session) {
		s.journal = j
	}
}

// Session owns connections, caches and order books for one exchange.
type Session struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger
	fetcher snapshot.Fetcher
	journal Journal
	retrier *retrier.Retrier

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*wsclient.Client
	trades  map[string]*cache.Bounded[domain.Trade]
	ohlcv   map[string]*cache.ByTimestamp[domain.OHLCV]
	balance domain.Balances
	loading map[*orderbook.Book]struct{}

	// bookURLs maps each order-book symbol to the connection feeding it.
	bookURLs map[string]string

	books     *orderbook.Registry
	tickers   *cache.Keyed[domain.Ticker]
	orders    *cache.Keyed[domain.Order]
	positions *cache.Keyed[domain.Position]
	fetches   singleflight.Group
}

// NewSession creates a session dispatching frames to handler.
func NewSession(handler Handler, cfg Config, logger *zap.Logger, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		journal: nopJournal{},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*wsclient.Client),
		trades:  make(map[string]*cache.Bounded[domain.Trade]),
		ohlcv:   make(map[string]*cache.ByTimestamp[domain.OHLCV]),
		balance: domain.NewBalances(),
		loading: make(map[*orderbook.Book]struct{}),
		books:   orderbook.NewRegistry(),
		tickers: cache.NewBySymbol(0, func(t domain.Ticker) string { return t.Symbol }),
		orders: cache.NewBySymbolByID(cfg.OrdersLimit, func(o domain.Order) (string, string) {
			return o.Symbol, o.ID
		}, domain.MergeOrder),
		positions: cache.NewBySymbolBySide(cfg.PositionsLimit, func(p domain.Position) (string, string) {
			return p.Symbol, string(p.Side)
		}),
		bookURLs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retrier = retrier.New(
		retrier.WithMaxRetries(cfg.SnapshotMaxRetries),
		retrier.WithInitialInterval(cfg.SnapshotRetryInterval),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("order book snapshot retry",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)

	return s
}

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger { return s.logger }

// Books returns the order-book registry.
func (s *Session) Books() *orderbook.Registry { return s.books }

// Client returns the connection for url, creating it on first use.
func (s *Session) Client(url string) *wsclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[url]; ok {
		return c
	}

	hooks := wsclient.Hooks{
		OnMessage: s.onMessage,
		OnClose:   s.onClose,
	}
	if p, ok := s.handler.(Pinger); ok {
		hooks.Ping = p.Ping
	}
	c := wsclient.New(url, s.cfg.Client, hooks, s.logger)
	s.clients[url] = c

	return c
}

func (s *Session) existing(url string) *wsclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clients[url]
}

// Watch returns the pending future for messageHash on url's connection. The
// subscribe request is sent once per subscription hash; concurrent watchers of
// the same hash share one future. sub, when given, is stored as the
// subscription record.
func (s *Session) Watch(ctx context.Context, url, messageHash string, request any, subscriptionHash string, sub *wsclient.Subscription) *wsclient.Future {
	return s.watch(ctx, url, messageHash, request, subscriptionHash, sub, nil)
}

func (s *Session) watch(ctx context.Context, url, messageHash string, request any, subscriptionHash string, sub *wsclient.Subscription, onSubscribe func()) *wsclient.Future {
	if url == "" || messageHash == "" {
		return wsclient.Rejected(errors.Wrap(wsclient.ErrInvalidArgument, "watch requires url and message hash"))
	}

	c := s.Client(url)
	f := c.Future(messageHash)
	if err := s.subscribe(ctx, c, request, []string{messageHash}, []string{subscriptionHash}, sub, onSubscribe); err != nil {
		c.Reject(err, messageHash)
	}

	return f
}

// WatchMultiple waits on several message hashes at once; the returned future
// settles with whichever of them settles first. Missing subscriptions are
// requested with a single send.
func (s *Session) WatchMultiple(ctx context.Context, url string, messageHashes []string, request any, subscriptionHashes []string, sub *wsclient.Subscription) *wsclient.Future {
	return s.watchMultiple(ctx, url, messageHashes, request, subscriptionHashes, sub, nil)
}

func (s *Session) watchMultiple(ctx context.Context, url string, messageHashes []string, request any, subscriptionHashes []string, sub *wsclient.Subscription, onSubscribe func()) *wsclient.Future {
	if url == "" || len(messageHashes) == 0 {
		return wsclient.Rejected(errors.Wrap(wsclient.ErrInvalidArgument, "watch requires url and message hashes"))
	}

	c := s.Client(url)
	race := wsclient.NewFuture()
	for _, hash := range messageHashes {
		c.Future(hash).OnSettle(func(v any, err error) {
			if err != nil {
				race.Reject(err)
				return
			}
			race.Resolve(v)
		})
	}
	if err := s.subscribe(ctx, c, request, messageHashes, subscriptionHashes, sub, onSubscribe); err != nil {
		c.Reject(err, messageHashes...)
	}

	return race
}

// subscribe records the subscription hashes not yet known to c and, if any were
// new, connects and sends request once. Without subscription hashes the request
// is sent on every call.
func (s *Session) subscribe(ctx context.Context, c *wsclient.Client, request any, messageHashes, subscriptionHashes []string, sub *wsclient.Subscription, onSubscribe func()) error {
	var owned []string
	tracked := false
	for _, hash := range subscriptionHashes {
		if hash == "" {
			continue
		}
		tracked = true

		record := wsclient.Subscription{MessageHashes: messageHashes}
		if sub != nil {
			record = *sub
			if record.MessageHashes == nil {
				record.MessageHashes = messageHashes
			}
		}
		record.Hash = hash
		if record.ID == 0 {
			record.ID = c.NextRequestID()
		}
		if c.Subscribe(record) {
			owned = append(owned, hash)
		}
	}
	if tracked && len(owned) == 0 {
		return nil
	}
	if onSubscribe != nil {
		onSubscribe()
	}

	err := c.Connect(ctx)
	if err == nil && request != nil {
		err = c.Send(ctx, request)
	}
	if err != nil {
		for _, hash := range owned {
			c.Unsubscribe(hash)
		}
		return errors.Wrap(err, "subscribe")
	}
	if len(owned) > 0 {
		s.logger.Info("subscribed", zap.String("url", c.URL()), zap.Strings("subscriptions", owned))
	}

	return nil
}

func (s *Session) onMessage(c *wsclient.Client, msg []byte) {
	err := s.handler.HandleMessage(s, c, msg)
	if err == nil {
		return
	}

	var herr *HandlerError
	if errors.As(err, &herr) && len(herr.Hashes) > 0 {
		s.logger.Warn("message handler failed", zap.Strings("hashes", herr.Hashes), zap.Error(herr.Err))
		if errors.Is(herr.Err, wsclient.ErrAuthentication) {
			// a recorded rejection would fail the next login attempt at once
			s.FailAuthentication(c, herr.Err)
			c.RejectPending(herr.Err, herr.Hashes...)
			return
		}
		c.Reject(herr.Err, herr.Hashes...)
		return
	}
	if errors.Is(err, wsclient.ErrAuthentication) {
		s.FailAuthentication(c, err)
		return
	}

	s.logger.Error("message handler failed", zap.String("url", c.URL()), zap.Error(err))
}

func (s *Session) onClose(c *wsclient.Client, err error) {
	var symbols []string
	s.mu.Lock()
	if s.clients[c.URL()] == c {
		delete(s.clients, c.URL())
	}
	for symbol, url := range s.bookURLs {
		if url == c.URL() {
			symbols = append(symbols, symbol)
			delete(s.bookURLs, symbol)
		}
	}
	s.mu.Unlock()

	// deltas sent while the connection was down are lost
	for _, symbol := range symbols {
		book, gerr := s.books.Get(symbol)
		if gerr != nil {
			continue
		}
		book.Invalidate()
		s.journalInvalidate(book)
	}

	s.logger.Info("connection removed", zap.String("url", c.URL()), zap.Error(err))
}

// Close tears down every connection and stops pending snapshot loads.
func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	clients := make([]*wsclient.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
