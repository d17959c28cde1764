package hyperliquid

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/snapshot"
	"github.com/vadiminshakov/marketstream/internal/stream"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
	"github.com/vadiminshakov/marketstream/internal/wstest"
)

const timeout = 2 * time.Second

func newTestExchange(t *testing.T, url string, opts ...stream.Option) *Exchange {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Session.Client = wsclient.Config{}
	cfg.Session.SnapshotRetryInterval = time.Millisecond

	e := New(testMarkets(), cfg, zap.NewNop(), opts...)
	t.Cleanup(e.Close)

	return e
}

func TestExchange_OrderBookEveryFrameReplaces(t *testing.T) {
	srv := wstest.NewServer(t, nil)
	e := newTestExchange(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	watch := func() <-chan orderbook.Snapshot {
		out := make(chan orderbook.Snapshot, 1)
		go func() {
			snap, err := e.WatchOrderBook(ctx, "BTC/USDC:USDC", 1)
			assert.NoError(t, err)
			out <- snap
		}()
		return out
	}

	first := watch()
	var req request
	require.NoError(t, json.Unmarshal(srv.Next(timeout), &req))
	assert.Equal(t, "subscribe", req.Method)
	require.NotNil(t, req.Subscription)
	assert.Equal(t, subscription{Type: "l2Book", Coin: "BTC"}, *req.Subscription)

	srv.Push(`{"channel":"subscriptionResponse","data":{"method":"subscribe","subscription":{"type":"l2Book","coin":"BTC"}}}`)
	srv.Push(`{"channel":"l2Book","data":{"coin":"BTC","time":1700000000000,"levels":[[{"px":"100","sz":"1","n":1},{"px":"99","sz":"1","n":1}],[{"px":"101","sz":"1","n":1}]]}}`)

	var snap orderbook.Snapshot
	select {
	case snap = <-first:
	case <-time.After(timeout):
		t.Fatal("order book not delivered")
	}
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "100", snap.Bids[0].Price.String())

	second := watch()
	require.Eventually(t, func() bool {
		return len(e.Session().Client(srv.URL).Pending()) == 1
	}, timeout, 5*time.Millisecond)
	srv.Push(`{"channel":"l2Book","data":{"coin":"BTC","time":1700000000500,"levels":[[{"px":"98","sz":"2","n":1}],[{"px":"102","sz":"1","n":1}]]}}`)

	select {
	case snap = <-second:
	case <-time.After(timeout):
		t.Fatal("order book not delivered")
	}
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "98", snap.Bids[0].Price.String())
	assert.Equal(t, "102", snap.Asks[0].Price.String())

	require.NoError(t, e.UnwatchOrderBook(ctx, "BTC/USDC:USDC"))
	var unsub request
	require.NoError(t, json.Unmarshal(srv.Next(timeout), &unsub))
	assert.Equal(t, "unsubscribe", unsub.Method)
}

func TestExchange_OrderBookSeededFromInfo(t *testing.T) {
	srv := wstest.NewServer(t, nil)
	bid, err := orderbook.ParseLevel("100", "1")
	require.NoError(t, err)
	ask, err := orderbook.ParseLevel("101", "2")
	require.NoError(t, err)
	fetcher := snapshot.FetcherFunc(func(_ context.Context, symbol string, _ int) (orderbook.Snapshot, error) {
		return orderbook.Snapshot{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(1700000000000),
			Bids:      []orderbook.Level{bid},
			Asks:      []orderbook.Level{ask},
		}, nil
	})
	e := newTestExchange(t, srv.URL, stream.WithFetcher(fetcher))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// no l2Book frame is pushed, the book comes from the fetcher
	snap, err := e.WatchOrderBook(ctx, "BTC/USDC:USDC", 10)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDC:USDC", snap.Symbol)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "100", snap.Bids[0].Price.String())

	srv.Push(`{"channel":"l2Book","data":{"coin":"BTC","time":1700000000500,"levels":[[{"px":"98","sz":"2","n":1}],[{"px":"102","sz":"1","n":1}]]}}`)
	require.Eventually(t, func() bool {
		book, err := e.Session().Books().Get("BTC/USDC:USDC")
		if err != nil {
			return false
		}
		view, err := book.Limit(1)
		return err == nil && len(view.Bids) == 1 && view.Bids[0].Price.String() == "98"
	}, timeout, 5*time.Millisecond)
}

func TestExchange_TickersShareAllMids(t *testing.T) {
	srv := wstest.NewServer(t, nil)
	e := newTestExchange(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results := make(chan domain.Ticker, 2)
	for _, symbol := range []string{"BTC/USDC:USDC", "ETH/USDC:USDC"} {
		go func(symbol string) {
			tk, err := e.WatchTicker(ctx, symbol)
			assert.NoError(t, err)
			results <- tk
		}(symbol)
	}

	srv.Next(timeout)
	require.Eventually(t, func() bool {
		return len(e.Session().Client(srv.URL).Pending()) == 2
	}, timeout, 5*time.Millisecond)
	srv.Push(`{"channel":"allMids","data":{"mids":{"BTC":"30000","ETH":"2000"}}}`)

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case tk := <-results:
			got[tk.Symbol] = tk.Last.String()
		case <-time.After(timeout):
			t.Fatal("ticker not delivered")
		}
	}
	assert.Equal(t, map[string]string{"BTC/USDC:USDC": "30000", "ETH/USDC:USDC": "2000"}, got)
	assert.Len(t, srv.Received(), 1)
}

func TestExchange_ErrorFrameFailsWatcher(t *testing.T) {
	srv := wstest.NewServer(t, func(msg []byte) any {
		return `{"channel":"error","data":"Invalid subscription {\"type\":\"trades\",\"coin\":\"ETH\"}"}`
	})
	e := newTestExchange(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := e.WatchTrades(ctx, "ETH/USDC:USDC", 0)
	assert.ErrorIs(t, err, wsclient.ErrBadRequest)
	_, ok := e.Session().Client(srv.URL).Subscription("trades:ETH")
	assert.False(t, ok)
}

func TestExchange_Ping(t *testing.T) {
	e := newTestExchange(t, "ws://127.0.0.1:1")
	c := e.Session().Client("ws://127.0.0.1:1")

	assert.Equal(t, request{Method: "ping"}, e.Ping(c))

	before := c.LastPong()
	time.Sleep(time.Millisecond)
	require.NoError(t, e.HandleMessage(e.Session(), c, []byte(`{"channel":"pong"}`)))
	assert.True(t, c.LastPong().After(before))
}
