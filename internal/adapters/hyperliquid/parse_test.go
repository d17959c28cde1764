package hyperliquid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marketstream/internal/domain"
)

func testMarkets() *domain.Markets {
	return domain.NewMarkets(PerpMarket("BTC"), PerpMarket("ETH"))
}

func TestSubscriptionKey(t *testing.T) {
	tests := []struct {
		sub  subscription
		want string
	}{
		{sub: subscription{Type: "l2Book", Coin: "BTC"}, want: "l2Book:BTC"},
		{sub: subscription{Type: "candle", Coin: "ETH", Interval: "1m"}, want: "candle:ETH:1m"},
		{sub: subscription{Type: "allMids"}, want: "allMids"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.key())
		})
	}
}

func TestParseL2Book(t *testing.T) {
	msg := `{"channel":"l2Book","data":{"coin":"BTC","time":1700000000000,"levels":[
		[{"px":"30000.5","sz":"1.2","n":3},{"px":"30000","sz":"0.5","n":1}],
		[{"px":"30001","sz":"2","n":4}]]}}`

	coin, snap, err := parseL2Book([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "BTC", coin)
	assert.Zero(t, snap.Nonce)
	assert.Equal(t, time.UnixMilli(1700000000000), snap.Timestamp)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, "30000.5", snap.Bids[0].Price.String())
	assert.Equal(t, int64(3), snap.Bids[0].Count)
	require.Len(t, snap.Asks, 1)

	_, _, err = parseL2Book([]byte(`{"channel":"l2Book","data":{"coin":"BTC","levels":[[]]}}`))
	assert.Error(t, err)
}

func TestParseTrades(t *testing.T) {
	msg := `{"channel":"trades","data":[
		{"coin":"ETH","side":"A","px":"2000","sz":"0.5","hash":"0xabc","time":1700000000000,"tid":42},
		{"coin":"ETH","side":"B","px":"2001","sz":"1","hash":"0xdef","time":1700000000001,"tid":43}]}`

	trades, err := parseTrades(testMarkets(), []byte(msg))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "ETH/USDC:USDC", trades[0].Symbol)
	assert.Equal(t, domain.SideSell, trades[0].Side)
	assert.Equal(t, "42", trades[0].ID)
	assert.Equal(t, "1000", trades[0].Cost.String())
	assert.Equal(t, domain.SideBuy, trades[1].Side)
	assert.Equal(t, "0xdef", trades[1].Info["hash"])
}

func TestParseCandle(t *testing.T) {
	// prices arrive as strings, volume as a number on some frames
	msg := `{"channel":"candle","data":{"t":1700000000000,"T":1700000059999,"s":"BTC","i":"1m",
		"o":"30000","c":"30010","h":"30020","l":"29990","v":12.5,"n":10}}`

	coin, interval, candle, err := parseCandle([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "BTC", coin)
	assert.Equal(t, "1m", interval)
	assert.Equal(t, time.UnixMilli(1700000000000), candle.Timestamp)
	assert.Equal(t, "30020", candle.High.String())
	assert.Equal(t, "12.5", candle.Volume.String())
}

func TestParseAllMids(t *testing.T) {
	now := time.Unix(1700000000, 0)
	msg := `{"channel":"allMids","data":{"mids":{"BTC":"30000.5","ETH":"2000","@107":"1.5"}}}`

	tickers, err := parseAllMids(testMarkets(), []byte(msg), now)
	require.NoError(t, err)
	require.Len(t, tickers, 2)

	bySymbol := make(map[string]domain.Ticker)
	for _, tk := range tickers {
		bySymbol[tk.Symbol] = tk
	}
	assert.Equal(t, "30000.5", bySymbol["BTC/USDC:USDC"].Last.String())
	assert.Equal(t, now, bySymbol["ETH/USDC:USDC"].Timestamp)
}

func TestParseError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		sub  *subscription
	}{
		{
			name: "names a subscription",
			msg:  `{"channel":"error","data":"Invalid subscription {\"type\":\"l2Book\",\"coin\":\"XYZ\"}"}`,
			sub:  &subscription{Type: "l2Book", Coin: "XYZ"},
		},
		{
			name: "plain text",
			msg:  `{"channel":"error","data":"Websocket rate limited"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, sub, err := parseError([]byte(tt.msg))
			require.NoError(t, err)
			assert.NotEmpty(t, text)
			assert.Equal(t, tt.sub, sub)
		})
	}
}
