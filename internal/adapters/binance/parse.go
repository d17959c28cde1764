package binance

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

const (
	kindDepth  = "depthUpdate"
	kindTrade  = "trade"
	kindKline  = "kline"
	kindTicker = "24hrTicker"
	kindResult = "result"
	kindError  = "error"
)

type wireError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Binance frames carry key pairs that differ only in case ("e"/"E", "t"/"T").
// encoding/json falls back to case-insensitive matching, so every struct
// below declares both keys of each pair it could otherwise mistake.
type envelope struct {
	Event string     `json:"e"`
	Time  int64      `json:"E"`
	ID    *int64     `json:"id"`
	Error *wireError `json:"error"`
}

// kind classifies a raw /ws frame.
func kind(msg []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", errors.Wrap(err, "decode envelope")
	}
	switch {
	case env.Error != nil:
		return kindError, nil
	case env.Event != "":
		return env.Event, nil
	case env.ID != nil:
		return kindResult, nil
	}

	return "", nil
}

type depthEvent struct {
	Event  string     `json:"e"`
	Time   int64      `json:"E"`
	Symbol string     `json:"s"`
	First  int64      `json:"U"`
	Last   int64      `json:"u"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

func parseDepth(msg []byte) (string, orderbook.Delta, error) {
	var ev depthEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return "", orderbook.Delta{}, errors.Wrap(err, "decode depth update")
	}
	bids, err := orderbook.ParseLevels(ev.Bids)
	if err != nil {
		return ev.Symbol, orderbook.Delta{}, errors.Wrap(err, "bids")
	}
	asks, err := orderbook.ParseLevels(ev.Asks)
	if err != nil {
		return ev.Symbol, orderbook.Delta{}, errors.Wrap(err, "asks")
	}

	return ev.Symbol, orderbook.Delta{
		First:     ev.First,
		Last:      ev.Last,
		Timestamp: time.UnixMilli(ev.Time),
		Bids:      bids,
		Asks:      asks,
	}, nil
}

type tradeEvent struct {
	Event        string `json:"e"`
	Time         int64  `json:"E"`
	Symbol       string `json:"s"`
	ID           int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerOrder   int64  `json:"b"`
	SellerOrder  int64  `json:"a"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

func parseTrade(markets *domain.Markets, msg []byte) (domain.Trade, error) {
	var ev tradeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return domain.Trade{}, errors.Wrap(err, "decode trade")
	}
	side := domain.SideBuy
	if ev.BuyerIsMaker {
		side = domain.SideSell
	}
	t := domain.NewTrade(
		strconv.FormatInt(ev.ID, 10),
		markets.SafeSymbol(ev.Symbol),
		side,
		domain.SafeDecimal(ev.Price),
		domain.SafeDecimal(ev.Quantity),
		time.UnixMilli(ev.TradeTime),
	)
	t.TakerOrMaker = domain.Taker

	return t, nil
}

type klineEvent struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Kline  struct {
		Start          int64  `json:"t"`
		End            int64  `json:"T"`
		Interval       string `json:"i"`
		Open           string `json:"o"`
		Close          string `json:"c"`
		High           string `json:"h"`
		Low            string `json:"l"`
		LastTradeID    int64  `json:"L"`
		Volume         string `json:"v"`
		TakerBuyVolume string `json:"V"`
		QuoteVolume    string `json:"q"`
		TakerBuyQuote  string `json:"Q"`
	} `json:"k"`
}

func parseKline(markets *domain.Markets, msg []byte) (string, string, domain.OHLCV, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return "", "", domain.OHLCV{}, errors.Wrap(err, "decode kline")
	}
	k := ev.Kline

	return markets.SafeSymbol(ev.Symbol), k.Interval, domain.OHLCV{
		Timestamp: time.UnixMilli(k.Start),
		Open:      domain.SafeDecimal(k.Open),
		High:      domain.SafeDecimal(k.High),
		Low:       domain.SafeDecimal(k.Low),
		Close:     domain.SafeDecimal(k.Close),
		Volume:    domain.SafeDecimal(k.Volume),
	}, nil
}

type tickerEvent struct {
	Event       string `json:"e"`
	Time        int64  `json:"E"`
	Symbol      string `json:"s"`
	Change      string `json:"p"`
	ChangePct   string `json:"P"`
	Last        string `json:"c"`
	LastQty     string `json:"Q"`
	CloseTime   int64  `json:"C"`
	Bid         string `json:"b"`
	BidQty      string `json:"B"`
	Ask         string `json:"a"`
	AskQty      string `json:"A"`
	Open        string `json:"o"`
	OpenTime    int64  `json:"O"`
	High        string `json:"h"`
	Low         string `json:"l"`
	LastID      int64  `json:"L"`
	BaseVolume  string `json:"v"`
	QuoteVolume string `json:"q"`
}

func parseTicker(markets *domain.Markets, msg []byte) (domain.Ticker, error) {
	var ev tickerEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return domain.Ticker{}, errors.Wrap(err, "decode ticker")
	}

	return domain.Ticker{
		Symbol:      markets.SafeSymbol(ev.Symbol),
		Timestamp:   time.UnixMilli(ev.Time),
		Bid:         domain.SafeDecimal(ev.Bid),
		Ask:         domain.SafeDecimal(ev.Ask),
		Last:        domain.SafeDecimal(ev.Last),
		High:        domain.SafeDecimal(ev.High),
		Low:         domain.SafeDecimal(ev.Low),
		BaseVolume:  domain.SafeDecimal(ev.BaseVolume),
		QuoteVolume: domain.SafeDecimal(ev.QuoteVolume),
	}, nil
}

func parseResult(msg []byte) (int64, *wireError, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return 0, nil, errors.Wrap(err, "decode result")
	}
	if env.ID == nil {
		return 0, env.Error, nil
	}

	return *env.ID, env.Error, nil
}
