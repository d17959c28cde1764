package bybit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marketstream/internal/domain"
)

func testMarkets() *domain.Markets {
	return domain.NewMarkets(
		domain.MarketFromPair(domain.Pair{From: "BTC", To: "USDT"}, domain.MarketTypeSpot),
		domain.MarketFromPair(domain.Pair{From: "ETH", To: "USDT"}, domain.MarketTypeSpot),
	)
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{name: "orderbook", msg: `{"topic":"orderbook.50.BTCUSDT","type":"delta"}`, want: kindOrderBook},
		{name: "public trade", msg: `{"topic":"publicTrade.BTCUSDT"}`, want: kindTrade},
		{name: "private order", msg: `{"topic":"order","id":"x"}`, want: kindOrder},
		{name: "subscribe response", msg: `{"success":true,"ret_msg":"","op":"subscribe","req_id":"1"}`, want: kindSubscribe},
		{name: "spot pong", msg: `{"success":true,"ret_msg":"pong","op":"ping"}`, want: kindPing},
		{name: "private pong", msg: `{"op":"pong","args":["1700000000000"]}`, want: kindPong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := kind([]byte(tt.msg))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOrderBook(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		reset bool
		nonce int64
	}{
		{
			name:  "snapshot",
			msg:   `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","1"]],"u":500,"seq":1}}`,
			reset: true,
			nonce: 500,
		},
		{
			name:  "delta",
			msg:   `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["100","0"]],"a":[],"u":501,"seq":2}}`,
			nonce: 501,
		},
		{
			name:  "update id one after restart",
			msg:   `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["99","1"]],"a":[],"u":1,"seq":3}}`,
			reset: true,
			nonce: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, reset, snap, err := parseOrderBook([]byte(tt.msg))
			require.NoError(t, err)
			assert.Equal(t, "BTCUSDT", id)
			assert.Equal(t, tt.reset, reset)
			assert.Equal(t, tt.nonce, snap.Nonce)
			assert.Equal(t, time.UnixMilli(1700000000000), snap.Timestamp)
		})
	}

	_, _, _, err := parseOrderBook([]byte(`{"data":{"s":"BTCUSDT","b":[["100","-1"]]}}`))
	assert.Error(t, err)
}

func TestParseTicker_DeltaKeepsKnownFields(t *testing.T) {
	prev := domain.Ticker{
		Symbol: "BTC/USDT",
		Bid:    decimal.NewFromInt(99),
		Ask:    decimal.NewFromInt(101),
		Last:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(110),
	}
	lookup := func(symbol string) (domain.Ticker, bool) {
		return prev, symbol == "BTC/USDT"
	}

	delta := `{"topic":"tickers.BTCUSDT","type":"delta","ts":1700000000000,"data":{"symbol":"BTCUSDT","lastPrice":"100.5","bid1Price":"100.4"}}`
	got, err := parseTicker(testMarkets(), []byte(delta), lookup)
	require.NoError(t, err)
	assert.Equal(t, "100.5", got.Last.String())
	assert.Equal(t, "100.4", got.Bid.String())
	assert.Equal(t, "101", got.Ask.String())
	assert.Equal(t, "110", got.High.String())

	snapshot := `{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"symbol":"BTCUSDT","lastPrice":"100.5"}}`
	got, err = parseTicker(testMarkets(), []byte(snapshot), lookup)
	require.NoError(t, err)
	assert.True(t, got.Ask.IsZero())
}

func TestParseKline(t *testing.T) {
	msg := `{"topic":"kline.60.ETHUSDT","type":"snapshot","ts":1700000000000,"data":[
		{"start":1699999200000,"end":1700002799999,"interval":"60","open":"2000","close":"2010","high":"2020","low":"1990","volume":"5","confirm":false}]}`

	id, tf, candles, err := parseKline([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", id)
	assert.Equal(t, "1h", tf)
	require.Len(t, candles, 1)
	assert.Equal(t, "2020", candles[0].High.String())

	_, _, _, err = parseKline([]byte(`{"topic":"kline","data":[]}`))
	assert.Error(t, err)
}

func TestParseOrders(t *testing.T) {
	tests := []struct {
		status string
		want   domain.OrderStatus
	}{
		{status: "New", want: domain.OrderStatusOpen},
		{status: "PartiallyFilled", want: domain.OrderStatusOpen},
		{status: "Filled", want: domain.OrderStatusClosed},
		{status: "Cancelled", want: domain.OrderStatusCanceled},
		{status: "Rejected", want: domain.OrderStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			msg := `{"topic":"order","data":[{"symbol":"BTCUSDT","orderId":"o1","orderLinkId":"c1","side":"Sell",
				"orderType":"Limit","price":"100","qty":"2","orderStatus":"` + tt.status + `","cumExecQty":"0.5",
				"leavesQty":"1.5","cumExecFee":"0.01","feeCurrency":"USDT","createdTime":"1700000000000","updatedTime":"1700000001000"}]}`

			orders, err := parseOrders(testMarkets(), []byte(msg))
			require.NoError(t, err)
			require.Len(t, orders, 1)
			o := orders[0]
			assert.Equal(t, tt.want, o.Status)
			assert.Equal(t, "BTC/USDT", o.Symbol)
			assert.Equal(t, domain.SideSell, o.Side)
			assert.Equal(t, "limit", o.Type)
			assert.Equal(t, "1.5", o.Remaining.String())
			require.NotNil(t, o.Fee)
			assert.Equal(t, "USDT", o.Fee.Currency)
		})
	}
}

func TestParsePositions(t *testing.T) {
	msg := `{"topic":"position","data":[
		{"symbol":"BTCUSDT","side":"Sell","size":"0.5","entryPrice":"100","unrealisedPnl":"1","tradeMode":1,"positionIdx":2,"updatedTime":"1700000000000"},
		{"symbol":"ETHUSDT","side":"","size":"0","entryPrice":"0","tradeMode":0,"positionIdx":0}]}`

	positions, err := parsePositions(testMarkets(), []byte(msg))
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, domain.PositionSideShort, positions[0].Side)
	assert.Equal(t, "-0.5", positions[0].Contracts.String())
	assert.Equal(t, "isolated", positions[0].MarginMode)

	assert.Equal(t, domain.PositionSideBoth, positions[1].Side)
	assert.False(t, positions[1].IsOpen())
	assert.Equal(t, "cross", positions[1].MarginMode)
}

func TestParseWallet(t *testing.T) {
	msg := `{"topic":"wallet","creationTime":1700000000000,"data":[{"accountType":"UNIFIED","coin":[
		{"coin":"USDT","walletBalance":"100","availableToWithdraw":"80","locked":"20"},
		{"coin":"BTC","walletBalance":"1","availableToWithdraw":"","locked":"0"}]}]}`

	balances, err := parseWallet([]byte(msg))
	require.NoError(t, err)
	require.Len(t, balances.Currencies, 2)

	usdt := balances.Currencies["USDT"]
	require.NotNil(t, usdt.Free)
	assert.Equal(t, "80", usdt.Free.String())
	assert.Equal(t, "100", usdt.Total.String())

	assert.Nil(t, balances.Currencies["BTC"].Free)
}

func TestInterval(t *testing.T) {
	iv, ok := interval("4h")
	require.True(t, ok)
	assert.Equal(t, "240", iv)
	assert.Equal(t, "4h", timeframe(iv))

	_, ok = interval("7m")
	assert.False(t, ok)
}
