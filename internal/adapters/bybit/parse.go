package bybit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

const (
	kindOrderBook   = "orderbook"
	kindTrade       = "publicTrade"
	kindTicker      = "tickers"
	kindKline       = "kline"
	kindOrder       = "order"
	kindPosition    = "position"
	kindWallet      = "wallet"
	kindSubscribe   = "subscribe"
	kindUnsubscribe = "unsubscribe"
	kindAuth        = "auth"
	kindPing        = "ping"
	kindPong        = "pong"
)

var timeframes = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"6h":  "360",
	"12h": "720",
	"1d":  "D",
	"1w":  "W",
	"1M":  "M",
}

func interval(timeframe string) (string, bool) {
	iv, ok := timeframes[timeframe]
	return iv, ok
}

func timeframe(interval string) string {
	for tf, iv := range timeframes {
		if iv == interval {
			return tf
		}
	}

	return interval
}

type envelope struct {
	Op      string `json:"op"`
	Topic   string `json:"topic"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	ReqID   string `json:"req_id"`
}

// kind classifies a frame by its op for command responses or by the first
// segment of its topic for data.
func kind(msg []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", errors.Wrap(err, "decode envelope")
	}
	if env.Op != "" {
		return env.Op, nil
	}
	topic, _, _ := strings.Cut(env.Topic, ".")

	return topic, nil
}

func parseResponse(msg []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return envelope{}, errors.Wrap(err, "decode response")
	}

	return env, nil
}

func (e envelope) ok() bool {
	return e.Success == nil || *e.Success
}

func (e envelope) requestID() int64 {
	id, err := strconv.ParseInt(e.ReqID, 10, 64)
	if err != nil {
		return 0
	}

	return id
}

type orderBookMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
	Data struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		UpdateID int64      `json:"u"`
	} `json:"data"`
}

// parseOrderBook returns the market id, whether the frame replaces the book and
// its content. Update id 1 marks a snapshot sent after a service restart.
func parseOrderBook(msg []byte) (string, bool, orderbook.Snapshot, error) {
	var m orderBookMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", false, orderbook.Snapshot{}, errors.Wrap(err, "decode orderbook")
	}
	bids, err := orderbook.ParseLevels(m.Data.Bids)
	if err != nil {
		return m.Data.Symbol, false, orderbook.Snapshot{}, errors.Wrap(err, "bids")
	}
	asks, err := orderbook.ParseLevels(m.Data.Asks)
	if err != nil {
		return m.Data.Symbol, false, orderbook.Snapshot{}, errors.Wrap(err, "asks")
	}

	return m.Data.Symbol, m.Type == "snapshot" || m.Data.UpdateID == 1, orderbook.Snapshot{
		Nonce:     m.Data.UpdateID,
		Timestamp: time.UnixMilli(m.TS),
		Bids:      bids,
		Asks:      asks,
	}, nil
}

type tradeMessage struct {
	Data []struct {
		Time   int64  `json:"T"`
		Symbol string `json:"s"`
		Side   string `json:"S"`
		Volume string `json:"v"`
		Price  string `json:"p"`
		ID     string `json:"i"`
	} `json:"data"`
}

func parseTrades(markets *domain.Markets, msg []byte) ([]domain.Trade, error) {
	var m tradeMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, errors.Wrap(err, "decode trades")
	}

	trades := make([]domain.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		t := domain.NewTrade(
			d.ID,
			markets.SafeSymbol(d.Symbol),
			parseSide(d.Side),
			domain.SafeDecimal(d.Price),
			domain.SafeDecimal(d.Volume),
			time.UnixMilli(d.Time),
		)
		t.TakerOrMaker = domain.Taker
		trades = append(trades, t)
	}

	return trades, nil
}

func parseSide(s string) domain.Side {
	if strings.EqualFold(s, "sell") {
		return domain.SideSell
	}

	return domain.SideBuy
}

type tickerMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
	Data struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		HighPrice   string `json:"highPrice24h"`
		LowPrice    string `json:"lowPrice24h"`
		Volume      string `json:"volume24h"`
		Turnover    string `json:"turnover24h"`
		Bid1Price   string `json:"bid1Price"`
		Ask1Price   string `json:"ask1Price"`
		PriceChange string `json:"price24hPcnt"`
	} `json:"data"`
}

// parseTicker overlays the frame on prev. Delta frames only carry the fields
// that changed.
func parseTicker(markets *domain.Markets, msg []byte, prev func(symbol string) (domain.Ticker, bool)) (domain.Ticker, error) {
	var m tickerMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return domain.Ticker{}, errors.Wrap(err, "decode ticker")
	}
	d := m.Data
	symbol := markets.SafeSymbol(d.Symbol)

	t := domain.Ticker{Symbol: symbol}
	if m.Type == "delta" && prev != nil {
		if p, ok := prev(symbol); ok {
			t = p
		}
	}
	t.Timestamp = time.UnixMilli(m.TS)
	overlay(&t.Last, d.LastPrice)
	overlay(&t.High, d.HighPrice)
	overlay(&t.Low, d.LowPrice)
	overlay(&t.BaseVolume, d.Volume)
	overlay(&t.QuoteVolume, d.Turnover)
	overlay(&t.Bid, d.Bid1Price)
	overlay(&t.Ask, d.Ask1Price)
	if d.PriceChange != "" {
		t.Info = map[string]any{"price24hPcnt": d.PriceChange}
	}

	return t, nil
}

func overlay(dst *decimal.Decimal, s string) {
	if v := domain.SafeDecimalPtr(s); v != nil {
		*dst = *v
	}
}

type klineMessage struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start    int64  `json:"start"`
		Interval string `json:"interval"`
		Open     string `json:"open"`
		Close    string `json:"close"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Volume   string `json:"volume"`
	} `json:"data"`
}

// parseKline returns the market id, the unified timeframe and the candles.
func parseKline(msg []byte) (string, string, []domain.OHLCV, error) {
	var m klineMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", "", nil, errors.Wrap(err, "decode kline")
	}
	parts := strings.Split(m.Topic, ".")
	if len(parts) != 3 {
		return "", "", nil, errors.Errorf("unexpected kline topic %q", m.Topic)
	}

	candles := make([]domain.OHLCV, 0, len(m.Data))
	for _, d := range m.Data {
		candles = append(candles, domain.OHLCV{
			Timestamp: time.UnixMilli(d.Start),
			Open:      domain.SafeDecimal(d.Open),
			High:      domain.SafeDecimal(d.High),
			Low:       domain.SafeDecimal(d.Low),
			Close:     domain.SafeDecimal(d.Close),
			Volume:    domain.SafeDecimal(d.Volume),
		})
	}

	return parts[2], timeframe(parts[1]), candles, nil
}

type orderMessage struct {
	Data []struct {
		Symbol      string `json:"symbol"`
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Side        string `json:"side"`
		OrderType   string `json:"orderType"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		Status      string `json:"orderStatus"`
		CumExecQty  string `json:"cumExecQty"`
		LeavesQty   string `json:"leavesQty"`
		CumExecFee  string `json:"cumExecFee"`
		FeeCurrency string `json:"feeCurrency"`
		CreatedTime string `json:"createdTime"`
		UpdatedTime string `json:"updatedTime"`
	} `json:"data"`
}

func parseOrders(markets *domain.Markets, msg []byte) ([]domain.Order, error) {
	var m orderMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}

	orders := make([]domain.Order, 0, len(m.Data))
	for _, d := range m.Data {
		o := domain.Order{
			ID:            d.OrderID,
			ClientOrderID: d.OrderLinkID,
			Symbol:        markets.SafeSymbol(d.Symbol),
			Status:        parseOrderStatus(d.Status),
			Side:          parseSide(d.Side),
			Type:          strings.ToLower(d.OrderType),
			Price:         domain.SafeDecimal(d.Price),
			Amount:        domain.SafeDecimal(d.Qty),
			Filled:        domain.SafeDecimal(d.CumExecQty),
			Remaining:     domain.SafeDecimal(d.LeavesQty),
			Timestamp:     parseMillis(d.CreatedTime),
			LastUpdate:    parseMillis(d.UpdatedTime),
		}
		if d.CumExecFee != "" {
			o.Fee = &domain.Fee{Currency: d.FeeCurrency, Cost: domain.SafeDecimal(d.CumExecFee)}
		}
		orders = append(orders, o)
	}

	return orders, nil
}

func parseOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "Filled":
		return domain.OrderStatusClosed
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCanceled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}

type positionMessage struct {
	Data []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		EntryPrice    string `json:"entryPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		TradeMode     int    `json:"tradeMode"`
		PositionIdx   int    `json:"positionIdx"`
		UpdatedTime   string `json:"updatedTime"`
	} `json:"data"`
}

func parsePositions(markets *domain.Markets, msg []byte) ([]domain.Position, error) {
	var m positionMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, errors.Wrap(err, "decode positions")
	}

	positions := make([]domain.Position, 0, len(m.Data))
	for _, d := range m.Data {
		p := domain.Position{
			Symbol:        markets.SafeSymbol(d.Symbol),
			Side:          positionSide(d.PositionIdx),
			Contracts:     domain.SafeDecimal(d.Size),
			EntryPrice:    domain.SafeDecimal(d.EntryPrice),
			UnrealizedPnl: domain.SafeDecimal(d.UnrealisedPnl),
			MarginMode:    "cross",
			Timestamp:     parseMillis(d.UpdatedTime),
		}
		if d.TradeMode == 1 {
			p.MarginMode = "isolated"
		}
		if parseSide(d.Side) == domain.SideSell && d.Side != "" {
			p.Contracts = p.Contracts.Neg()
		}
		positions = append(positions, p)
	}

	return positions, nil
}

// positionSide maps positionIdx: 0 one-way, 1 hedge long, 2 hedge short.
func positionSide(idx int) domain.PositionSide {
	switch idx {
	case 1:
		return domain.PositionSideLong
	case 2:
		return domain.PositionSideShort
	default:
		return domain.PositionSideBoth
	}
}

type walletMessage struct {
	CreationTime int64 `json:"creationTime"`
	Data         []struct {
		Coin []struct {
			Coin                string `json:"coin"`
			WalletBalance       string `json:"walletBalance"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
			Locked              string `json:"locked"`
		} `json:"coin"`
	} `json:"data"`
}

func parseWallet(msg []byte) (domain.Balances, error) {
	var m walletMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return domain.Balances{}, errors.Wrap(err, "decode wallet")
	}

	out := domain.NewBalances()
	out.Timestamp = time.UnixMilli(m.CreationTime)
	for _, account := range m.Data {
		for _, c := range account.Coin {
			out.Currencies[c.Coin] = domain.Balance{
				Free:  domain.SafeDecimalPtr(c.AvailableToWithdraw),
				Used:  domain.SafeDecimalPtr(c.Locked),
				Total: domain.SafeDecimalPtr(c.WalletBalance),
			}
		}
	}

	return out, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}
