package hyperliquid

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
	kindL2Book       = "l2Book"
	kindTrades       = "trades"
	kindCandle       = "candle"
	kindAllMids      = "allMids"
	kindPong         = "pong"
	kindError        = "error"
	kindSubscription = "subscriptionResponse"
)

type subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// key is the subscription hash of s.
func (s subscription) key() string {
	parts := []string{s.Type}
	if s.Coin != "" {
		parts = append(parts, s.Coin)
	}
	if s.Interval != "" {
		parts = append(parts, s.Interval)
	}

	return strings.Join(parts, ":")
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func kind(msg []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", errors.Wrap(err, "decode envelope")
	}

	return env.Channel, nil
}

type wireLevel struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int64           `json:"n"`
}

type l2BookMessage struct {
	Data struct {
		Coin   string        `json:"coin"`
		Time   int64         `json:"time"`
		Levels [][]wireLevel `json:"levels"`
	} `json:"data"`
}

// parseL2Book returns the coin and the full book carried by the frame.
// Hyperliquid books are not sequenced.
func parseL2Book(msg []byte) (string, orderbook.Snapshot, error) {
	var m l2BookMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", orderbook.Snapshot{}, errors.Wrap(err, "decode l2Book")
	}
	if len(m.Data.Levels) != 2 {
		return m.Data.Coin, orderbook.Snapshot{}, errors.Errorf("l2Book %s: expected 2 sides, got %d", m.Data.Coin, len(m.Data.Levels))
	}

	snap := orderbook.Snapshot{Timestamp: time.UnixMilli(m.Data.Time)}
	snap.Bids = levels(m.Data.Levels[0])
	snap.Asks = levels(m.Data.Levels[1])

	return m.Data.Coin, snap, nil
}

func levels(wire []wireLevel) []orderbook.Level {
	out := make([]orderbook.Level, 0, len(wire))
	for _, l := range wire {
		out = append(out, orderbook.Level{Price: l.Px, Size: l.Sz, Count: l.N})
	}

	return out
}

type tradesMessage struct {
	Data []struct {
		Coin string          `json:"coin"`
		Side string          `json:"side"`
		Px   decimal.Decimal `json:"px"`
		Sz   decimal.Decimal `json:"sz"`
		Hash string          `json:"hash"`
		Time int64           `json:"time"`
		TID  int64           `json:"tid"`
	} `json:"data"`
}

// parseTrades decodes a trades frame. Side "A" is the ask side taking, a sell.
func parseTrades(markets *domain.Markets, msg []byte) ([]domain.Trade, error) {
	var m tradesMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, errors.Wrap(err, "decode trades")
	}

	trades := make([]domain.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		side := domain.SideBuy
		if d.Side == "A" {
			side = domain.SideSell
		}
		t := domain.NewTrade(strconv.FormatInt(d.TID, 10), markets.SafeSymbol(d.Coin), side, d.Px, d.Sz, time.UnixMilli(d.Time))
		t.TakerOrMaker = domain.Taker
		t.Info = map[string]any{"hash": d.Hash}
		trades = append(trades, t)
	}

	return trades, nil
}

type candleMessage struct {
	Data struct {
		Start    int64           `json:"t"`
		End      int64           `json:"T"`
		Coin     string          `json:"s"`
		Interval string          `json:"i"`
		Open     decimal.Decimal `json:"o"`
		Close    decimal.Decimal `json:"c"`
		High     decimal.Decimal `json:"h"`
		Low      decimal.Decimal `json:"l"`
		Volume   decimal.Decimal `json:"v"`
	} `json:"data"`
}

// parseCandle returns the coin, the interval and the candle.
func parseCandle(msg []byte) (string, string, domain.OHLCV, error) {
	var m candleMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", "", domain.OHLCV{}, errors.Wrap(err, "decode candle")
	}
	d := m.Data

	return d.Coin, d.Interval, domain.OHLCV{
		Timestamp: time.UnixMilli(d.Start),
		Open:      d.Open,
		High:      d.High,
		Low:       d.Low,
		Close:     d.Close,
		Volume:    d.Volume,
	}, nil
}

type allMidsMessage struct {
	Data struct {
		Mids map[string]decimal.Decimal `json:"mids"`
	} `json:"data"`
}

// parseAllMids turns mid prices of known markets into tickers. Coins outside the
// registry, such as spot indexes, are skipped.
func parseAllMids(markets *domain.Markets, msg []byte, now time.Time) ([]domain.Ticker, error) {
	var m allMidsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, errors.Wrap(err, "decode allMids")
	}

	tickers := make([]domain.Ticker, 0, len(m.Data.Mids))
	for coin, mid := range m.Data.Mids {
		market, err := markets.Market(coin)
		if err != nil {
			continue
		}
		tickers = append(tickers, domain.Ticker{Symbol: market.Symbol, Timestamp: now, Last: mid})
	}

	return tickers, nil
}

// parseError extracts the subscription an error frame refers to, if any.
// Errors look like "Invalid subscription {...}" or "Already subscribed: {...}".
func parseError(msg []byte) (string, *subscription, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", nil, errors.Wrap(err, "decode error")
	}
	var text string
	if err := json.Unmarshal(env.Data, &text); err != nil {
		text = string(env.Data)
	}

	i := strings.Index(text, "{")
	if i < 0 {
		return text, nil, nil
	}
	var sub subscription
	if err := json.Unmarshal([]byte(text[i:]), &sub); err != nil || sub.Type == "" {
		return text, nil, nil
	}

	return text, &sub, nil
}
