package stream

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

const timeout = 2 * time.Second

// frame is the wire format of the fake exchange used in these tests.
type frame struct {
	Type    string     `json:"type"`
	Symbol  string     `json:"symbol,omitempty"`
	ID      string     `json:"id,omitempty"`
	Price   string     `json:"price,omitempty"`
	First   int64      `json:"first,omitempty"`
	Nonce   int64      `json:"nonce,omitempty"`
	Bids    [][]string `json:"bids,omitempty"`
	Asks    [][]string `json:"asks,omitempty"`
	Success bool       `json:"success,omitempty"`
}

func decode(msg []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(msg, &f)
	return f, err
}

func fakeExchange() *Dispatcher {
	kind := func(msg []byte) (string, error) {
		f, err := decode(msg)
		return f.Type, err
	}

	return NewDispatcher(kind).
		On("trade", func(s *Session, c *wsclient.Client, msg []byte) error {
			f, _ := decode(msg)
			price, err := decimal.NewFromString(f.Price)
			if err != nil {
				return NewHandlerError(err, TradesHash(f.Symbol))
			}
			trade := domain.NewTrade(f.ID, f.Symbol, domain.SideBuy, price, decimal.NewFromInt(1), time.Now())
			s.HandleTrades(c, f.Symbol, []domain.Trade{trade})
			return nil
		}).
		On("snapshot", func(s *Session, c *wsclient.Client, msg []byte) error {
			f, _ := decode(msg)
			bids, asks, err := levels(f)
			if err != nil {
				return NewHandlerError(err, OrderBookHash(f.Symbol))
			}
			s.HandleOrderBookSnapshot(c, orderbook.Snapshot{Symbol: f.Symbol, Nonce: f.Nonce, Bids: bids, Asks: asks})
			return nil
		}).
		On("delta", func(s *Session, c *wsclient.Client, msg []byte) error {
			f, _ := decode(msg)
			bids, asks, err := levels(f)
			if err != nil {
				return NewHandlerError(err, OrderBookHash(f.Symbol))
			}
			s.HandleOrderBookDelta(c, f.Symbol, orderbook.Delta{First: f.First, Last: f.Nonce, Bids: bids, Asks: asks})
			return nil
		}).
		On("auth", func(s *Session, c *wsclient.Client, msg []byte) error {
			f, _ := decode(msg)
			if !f.Success {
				return NewHandlerError(&wsclient.ExchangeError{Code: "10003", Message: "invalid api key", Kind: wsclient.KindAuthentication}, HashAuthenticated)
			}
			s.ConfirmAuthentication(c)
			return nil
		}).
		On("unsubscribed", func(s *Session, c *wsclient.Client, msg []byte) error {
			f, _ := decode(msg)
			s.AckUnsubscribe(c, f.Nonce)
			return nil
		}).
		On("broken", func(*Session, *wsclient.Client, []byte) error {
			return errors.New("broken frame")
		})
}

func levels(f frame) ([]orderbook.Level, []orderbook.Level, error) {
	bids, err := orderbook.ParseLevels(f.Bids)
	if err != nil {
		return nil, nil, err
	}
	asks, err := orderbook.ParseLevels(f.Asks)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func newTestSession(opts ...Option) *Session {
	cfg := DefaultConfig()
	cfg.Client = wsclient.Config{}
	cfg.SnapshotRetryInterval = time.Millisecond

	return NewSession(fakeExchange(), cfg, zap.NewNop(), opts...)
}

func subscribeRequest(channel string) map[string]any {
	return map[string]any{"op": "subscribe", "channel": channel}
}

func prices(levels []orderbook.Level) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}
