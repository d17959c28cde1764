package stream

import (
	"context"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
	"github.com/vadiminshakov/marketstream/pkg/retrier"
)

var (
	errBookDiscarded = errors.New("order book no longer subscribed")
	errNoFetcher     = errors.New("no snapshot fetcher configured")
)

// WatchOrderBook waits for the next update of symbol's book and returns a view
// of depth levels per side. The first subscription creates a fresh book; deltas
// arriving before its snapshot are buffered.
func (s *Session) WatchOrderBook(ctx context.Context, st Stream, symbol string, depth int) (orderbook.Snapshot, error) {
	var fresh *orderbook.Book
	f := s.watch(ctx, st.URL, OrderBookHash(symbol), st.Request, st.SubscriptionHash, st.Subscription, func() {
		fresh = s.books.Replace(symbol, depth)
		s.mu.Lock()
		s.bookURLs[symbol] = st.URL
		s.mu.Unlock()
	})
	// a settled future means the subscribe failed or the stream was faster
	if fresh != nil && st.Seed && s.fetcher != nil && !f.Settled() {
		if c := s.existing(st.URL); c != nil {
			s.loadOrderBook(c, fresh)
		}
	}

	return wsclient.Await[orderbook.Snapshot](ctx, f)
}

// WatchOrderBookForSymbols waits for the next update of any of symbols' books
// and returns a view of the book that changed first. Books are created for
// symbols not tracked yet; existing ones are kept.
func (s *Session) WatchOrderBookForSymbols(ctx context.Context, st MultiStream, symbols []string, depth int) (orderbook.Snapshot, error) {
	hashes := make([]string, len(symbols))
	for i, symbol := range symbols {
		hashes[i] = OrderBookHash(symbol)
	}
	f := s.watchMultiple(ctx, st.URL, hashes, st.Request, st.SubscriptionHashes, st.Subscription, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, symbol := range symbols {
			s.books.Ensure(symbol, depth)
			s.bookURLs[symbol] = st.URL
		}
	})

	return wsclient.Await[orderbook.Snapshot](ctx, f)
}

// HandleOrderBookSnapshot resets symbol's book from a snapshot delivered on the
// stream itself.
func (s *Session) HandleOrderBookSnapshot(c *wsclient.Client, snap orderbook.Snapshot) {
	book, err := s.books.Get(snap.Symbol)
	if err != nil {
		s.logger.Debug("snapshot for unknown book", zap.String("symbol", snap.Symbol))
		return
	}

	if err := book.Reset(snap); err != nil {
		if errors.Is(err, orderbook.ErrStaleSnapshot) {
			s.logger.Debug("stale order book snapshot", zap.String("symbol", snap.Symbol))
			return
		}
		s.logger.Warn("order book reset failed", zap.String("symbol", snap.Symbol), zap.Error(err))
		s.journalInvalidate(book)
		s.loadOrderBook(c, book)
		return
	}
	s.journalBook(book)
	s.resolveBook(c, book)
}

// HandleOrderBookDelta applies or buffers a delta for symbol. A gap invalidates
// the book and triggers a resnapshot; watchers only see an error if that fails.
func (s *Session) HandleOrderBookDelta(c *wsclient.Client, symbol string, d orderbook.Delta) {
	book, err := s.books.Get(symbol)
	if err != nil {
		s.logger.Debug("delta for unknown book", zap.String("symbol", symbol))
		return
	}

	outcome, err := book.Apply(d)
	switch outcome {
	case orderbook.Buffered:
		if s.fetcher != nil && book.Buffered() >= s.cfg.SnapshotDelay {
			s.loadOrderBook(c, book)
		}
	case orderbook.Stale:
		s.logger.Debug("stale order book delta", zap.String("symbol", symbol), zap.Int64("last", d.Last))
	case orderbook.Applied:
		if jerr := s.journal.Delta(symbol, d); jerr != nil {
			s.logger.Warn("journal delta", zap.Error(jerr))
		}
		s.resolveBook(c, book)
	case orderbook.Gap:
		s.logger.Warn("order book gap, resyncing", zap.String("symbol", symbol), zap.Error(err))
		s.journalInvalidate(book)
		s.loadOrderBook(c, book)
	}
}

func (s *Session) resolveBook(c *wsclient.Client, book *orderbook.Book) {
	view, err := book.Limit(book.Depth())
	if err != nil {
		return
	}
	c.Resolve(view, OrderBookHash(book.Symbol()))
}

// loadOrderBook spawns a snapshot load for book unless one is already running.
func (s *Session) loadOrderBook(c *wsclient.Client, book *orderbook.Book) {
	if s.fetcher == nil {
		// books fed by stream snapshots recover on the next one
		if book.State() == orderbook.StateInvalidated {
			c.Reject(errors.Wrap(orderbook.ErrNonceGap, errNoFetcher.Error()), OrderBookHash(book.Symbol()))
		}
		return
	}

	s.mu.Lock()
	if _, running := s.loading[book]; running {
		s.mu.Unlock()
		return
	}
	s.loading[book] = struct{}{}
	s.mu.Unlock()

	gopool.CtxGo(s.ctx, func() {
		err := s.syncOrderBook(book)

		// a gap seen from here on must be able to start the next load
		s.mu.Lock()
		delete(s.loading, book)
		s.mu.Unlock()

		s.finishSync(c, book, err)
	})
}

func (s *Session) syncOrderBook(book *orderbook.Book) error {
	symbol := book.Symbol()

	return s.retrier.Do(s.ctx, func(ctx context.Context) error {
		if !s.books.Owns(symbol, book) {
			return retrier.Permanent(errBookDiscarded)
		}
		v, err, _ := s.fetches.Do(symbol, func() (any, error) {
			return s.fetcher.FetchOrderBook(ctx, symbol, s.cfg.SnapshotLimit)
		})
		if err != nil {
			return err
		}
		snap := v.(orderbook.Snapshot)
		snap.Symbol = symbol

		// unsubscribed or resubscribed while the fetch was in flight
		if !s.books.Owns(symbol, book) {
			return retrier.Permanent(errBookDiscarded)
		}
		if err := book.Reset(snap); err != nil {
			// the stream already delivered a newer full book
			if errors.Is(err, orderbook.ErrStaleSnapshot) {
				return nil
			}
			return err
		}
		s.journalBook(book)

		return nil
	})
}

func (s *Session) finishSync(c *wsclient.Client, book *orderbook.Book, err error) {
	symbol := book.Symbol()
	logger := s.logger.With(zap.String("symbol", symbol))

	switch {
	case err == nil:
		logger.Info("order book synced", zap.Int64("nonce", book.Nonce()))
		s.resolveBook(c, book)
	case errors.Is(err, errBookDiscarded):
		logger.Debug("snapshot discarded")
	case errors.Is(err, context.Canceled):
	default:
		book.Invalidate()
		logger.Error("order book sync failed", zap.Error(err))
		c.Reject(errors.Wrapf(err, "sync %s order book", symbol), OrderBookHash(symbol))
	}
}

// journalBook records the whole book as it stands after a reset, so replayed
// deltas are part of the journaled snapshot.
func (s *Session) journalBook(book *orderbook.Book) {
	snap, err := book.Limit(0)
	if err != nil {
		return
	}
	if err := s.journal.Snapshot(snap); err != nil {
		s.logger.Warn("journal snapshot", zap.Error(err))
	}
}

func (s *Session) journalInvalidate(book *orderbook.Book) {
	if err := s.journal.Invalidate(book.Symbol(), book.Nonce()); err != nil {
		s.logger.Warn("journal invalidate", zap.Error(err))
	}
}
