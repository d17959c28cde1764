package stream

import (
	"strconv"
	"strings"
)

// Message hashes shared by adapters and the session handlers.
const (
	HashTrades        = "trades"
	HashTickers       = "tickers"
	HashOrders        = "orders"
	HashPositions     = "positions"
	HashBalance       = "balance"
	HashAuthenticated = "authenticated"
)

// Topics name the cached state an unsubscribe tears down.
const (
	TopicOrderBook = "orderbook"
	TopicTrades    = "trades"
	TopicOHLCV     = "ohlcv"
	TopicTicker    = "ticker"
	TopicOrders    = "orders"
	TopicPositions = "positions"
)

func OrderBookHash(symbol string) string { return "orderbook:" + symbol }

func TradesHash(symbol string) string { return "trades:" + symbol }

func TickerHash(symbol string) string { return "ticker:" + symbol }

func OHLCVHash(symbol, timeframe string) string {
	return strings.Join([]string{"ohlcv", symbol, timeframe}, ":")
}

func OrdersHash(symbol string) string { return "orders:" + symbol }

func PositionsHash(symbol string) string { return "positions:" + symbol }

// UnsubscribeHash is resolved when the exchange acknowledges unsubscribe request id.
func UnsubscribeHash(id int64) string {
	return "unsubscribe:" + strconv.FormatInt(id, 10)
}
