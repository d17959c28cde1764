package stream

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

// Unsubscription describes a stream to tear down.
type Unsubscription struct {
	// Topic selects the cached state to drop (TopicOrderBook, TopicTrades, ...).
	Topic     string
	Symbols   []string
	Timeframe string
	// MessageHashes are rejected with ErrUnsubscribed.
	MessageHashes      []string
	SubscriptionHashes []string
	// Request is sent as is; nil for protocols without an unsubscribe frame.
	Request any
	// AckID, when set, makes Unsubscribe wait for AckUnsubscribe with that id.
	AckID int64
}

// Unsubscribe sends the unsubscribe request, forgets the subscription records,
// drops cached state for the topic and rejects the affected watchers with
// ErrUnsubscribed. A later Watch of the same hash starts a fresh stream.
func (s *Session) Unsubscribe(ctx context.Context, url string, u Unsubscription) error {
	c := s.existing(url)

	var ack *wsclient.Future
	if c != nil {
		if u.AckID != 0 {
			ack = c.Future(UnsubscribeHash(u.AckID))
		}
		if u.Request != nil {
			if err := c.Send(ctx, u.Request); err != nil {
				if ack != nil {
					c.RejectPending(err, UnsubscribeHash(u.AckID))
				}
				return errors.Wrap(err, "send unsubscribe")
			}
		}
		for _, hash := range u.SubscriptionHashes {
			c.Unsubscribe(hash)
		}
	}

	s.dropTopic(u.Topic, u.Symbols, u.Timeframe)

	// an empty hash list would reject every future on the connection
	if c != nil && len(u.MessageHashes) > 0 {
		c.RejectPending(ErrUnsubscribed, u.MessageHashes...)
	}
	s.logger.Info("unsubscribed", zap.String("url", url), zap.String("topic", u.Topic), zap.Strings("symbols", u.Symbols))

	if ack == nil {
		return nil
	}
	_, err := ack.Wait(ctx)

	return errors.Wrap(err, "unsubscribe ack")
}

// AckUnsubscribe resolves the wait of an acknowledged unsubscribe.
func (s *Session) AckUnsubscribe(c *wsclient.Client, id int64) bool {
	return c.Resolve(true, UnsubscribeHash(id))
}

func (s *Session) dropTopic(topic string, symbols []string, timeframe string) {
	for _, symbol := range symbols {
		switch topic {
		case TopicOrderBook:
			s.books.Delete(symbol)
			s.mu.Lock()
			delete(s.bookURLs, symbol)
			s.mu.Unlock()
		case TopicTrades:
			s.mu.Lock()
			delete(s.trades, symbol)
			s.mu.Unlock()
		case TopicOHLCV:
			s.mu.Lock()
			delete(s.ohlcv, OHLCVHash(symbol, timeframe))
			s.mu.Unlock()
		case TopicTicker:
			s.tickers.RemoveSymbol(symbol)
		case TopicOrders:
			s.orders.RemoveSymbol(symbol)
		case TopicPositions:
			s.positions.RemoveSymbol(symbol)
		}
	}
}

// NextRequestID returns a fresh request id on url's connection, 0 when there is
// no connection to unsubscribe from.
func (s *Session) NextRequestID(url string) int64 {
	c := s.existing(url)
	if c == nil {
		return 0
	}

	return c.NextRequestID()
}
