package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

func testMarkets() *domain.Markets {
	return domain.NewMarkets(
		domain.MarketFromPair(domain.Pair{From: "BTC", To: "USDT"}, domain.MarketTypeSpot),
	)
}

func TestNewFetcher(t *testing.T) {
	markets := testMarkets()

	f, err := NewFetcher(binance.NewClient("", ""), markets)
	require.NoError(t, err)
	assert.IsType(t, &Binance{}, f)

	f, err = NewFetcher(bybit.NewClient(), markets)
	require.NoError(t, err)
	assert.IsType(t, &Bybit{}, f)

	_, err = NewFetcher("nope", markets)
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		want, got int
	}{
		{1, 5},
		{5, 5},
		{6, 10},
		{400, 500},
		{10000, 5000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.got, clampLimit(tt.want, binanceDepths))
	}
}

func TestBinance_FetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL

	snap, err := NewBinance(client, testMarkets()).FetchOrderBook(context.Background(), "BTC/USDT", 5)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", snap.Symbol)
	assert.Equal(t, int64(1027024), snap.Nonce)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, "431", snap.Bids[0].Size.String())
	assert.Equal(t, "4.000002", snap.Asks[0].Price.String())
}

func TestBinance_UnknownMarket(t *testing.T) {
	_, err := NewBinance(binance.NewClient("", ""), testMarkets()).FetchOrderBook(context.Background(), "DOGE/USDT", 5)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestBybit_FetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/orderbook", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"s":"BTCUSDT","b":[["100","1"],["99.5","2"]],"a":[["101","2"]],"ts":1700000000000,"u":42},"retExtInfo":{},"time":1700000000001}`))
	}))
	defer srv.Close()

	client := bybit.NewClient().WithBaseURL(srv.URL)

	snap, err := NewBybit(client, testMarkets(), bybit.CategoryV5Spot).FetchOrderBook(context.Background(), "BTC/USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", snap.Symbol)
	assert.Equal(t, int64(42), snap.Nonce)
	assert.Equal(t, time.UnixMilli(1700000000000), snap.Timestamp)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, "99.5", snap.Bids[1].Price.String())
	assert.Equal(t, "2", snap.Asks[0].Size.String())
}

func TestBybit_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{},"retExtInfo":{},"time":1700000000001}`))
	}))
	defer srv.Close()

	_, err := NewBybit(bybit.NewClient().WithBaseURL(srv.URL), testMarkets(), bybit.CategoryV5Spot).
		FetchOrderBook(context.Background(), "BTC/USDT", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bybit orderbook BTCUSDT")
}

func TestHyperliquid_FetchOrderBook(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		wantBids int
		wantAsks int
	}{
		{name: "full book", limit: 0, wantBids: 2, wantAsks: 2},
		{name: "limited", limit: 1, wantBids: 1, wantAsks: 1},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/info", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "l2Book", req["type"])
		assert.Equal(t, "BTC", req["coin"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"coin":"BTC","time":1700000000000,"levels":[` +
			`[{"px":"100","sz":"1.5","n":3},{"px":"99","sz":"2","n":1}],` +
			`[{"px":"101","sz":"0.5","n":2},{"px":"102","sz":"4","n":5}]]}`))
	}))
	defer srv.Close()

	meta := &hyperliquid.Meta{Universe: []hyperliquid.AssetInfo{{Name: "BTC"}}}
	info := hyperliquid.NewInfo(context.Background(), srv.URL, true, meta, &hyperliquid.SpotMeta{})
	fetcher := NewHyperliquid(info, testMarkets())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := fetcher.FetchOrderBook(context.Background(), "BTC/USDT", tt.limit)
			require.NoError(t, err)
			assert.Equal(t, "BTC/USDT", snap.Symbol)
			assert.Zero(t, snap.Nonce)
			assert.Equal(t, time.UnixMilli(1700000000000), snap.Timestamp)
			require.Len(t, snap.Bids, tt.wantBids)
			require.Len(t, snap.Asks, tt.wantAsks)
			assert.Equal(t, "100", snap.Bids[0].Price.String())
			assert.Equal(t, "1.5", snap.Bids[0].Size.String())
			assert.Equal(t, int64(3), snap.Bids[0].Count)
			assert.Equal(t, "101", snap.Asks[0].Price.String())
		})
	}
}

func TestHyperliquid_MalformedBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"coin":"BTC","time":1700000000000,"levels":[[{"px":"100","sz":"1","n":1}]]}`))
	}))
	defer srv.Close()

	meta := &hyperliquid.Meta{Universe: []hyperliquid.AssetInfo{{Name: "BTC"}}}
	info := hyperliquid.NewInfo(context.Background(), srv.URL, true, meta, &hyperliquid.SpotMeta{})

	_, err := NewHyperliquid(info, testMarkets()).FetchOrderBook(context.Background(), "BTC/USDT", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 sides")
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(_ context.Context, symbol string, limit int) (orderbook.Snapshot, error) {
		return orderbook.Snapshot{Symbol: symbol, Nonce: int64(limit)}, nil
	})

	snap, err := f.FetchOrderBook(context.Background(), "ETH/USDT", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Nonce)
}
