package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/pkg/indicators"
)

var (
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	bidStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	askStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F87"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
)

// printer serializes lines from the watch loops.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) print(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func level(side []orderbook.Level) string {
	if len(side) == 0 {
		return "-"
	}

	return side[0].Price.String() + " x " + side[0].Size.String()
}

func formatBook(snap orderbook.Snapshot) string {
	spread := "-"
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		spread = snap.Asks[0].Price.Sub(snap.Bids[0].Price).String()
	}

	return fmt.Sprintf("%s %s bid %s  ask %s  spread %s  levels %d/%d",
		symbolStyle.Render(snap.Symbol),
		mutedStyle.Render(fmt.Sprintf("#%d", snap.Nonce)),
		bidStyle.Render(level(snap.Bids)),
		askStyle.Render(level(snap.Asks)),
		spread,
		len(snap.Bids), len(snap.Asks),
	)
}

func formatTrade(t domain.Trade) string {
	style := bidStyle
	if t.Side == domain.SideSell {
		style = askStyle
	}

	return fmt.Sprintf("%s %s %s %s @ %s",
		symbolStyle.Render(t.Symbol),
		mutedStyle.Render(t.Timestamp.Format("15:04:05.000")),
		style.Render(string(t.Side)),
		t.Amount.String(),
		t.Price.String(),
	)
}

func formatTicker(t domain.Ticker) string {
	return fmt.Sprintf("%s last %s  bid %s  ask %s  vol %s",
		symbolStyle.Render(t.Symbol),
		t.Last.String(),
		bidStyle.Render(t.Bid.String()),
		askStyle.Render(t.Ask.String()),
		t.BaseVolume.String(),
	)
}

func formatCandle(symbol, timeframe string, k domain.OHLCV, s indicators.Summary, withIndicators bool) string {
	line := fmt.Sprintf("%s %s %s o %s h %s l %s c %s v %s",
		symbolStyle.Render(symbol),
		timeframe,
		mutedStyle.Render(k.Timestamp.Format("15:04")),
		k.Open.String(), k.High.String(), k.Low.String(), k.Close.String(), k.Volume.String(),
	)
	if !withIndicators {
		return line
	}

	return line + mutedStyle.Render(fmt.Sprintf("  ema %s rsi %s atr %s",
		s.EMA.StringFixed(2), s.RSI.StringFixed(2), s.ATR.StringFixed(2)))
}

func formatOrder(o domain.Order) string {
	return fmt.Sprintf("%s order %s %s %s %s/%s @ %s",
		symbolStyle.Render(o.Symbol),
		o.ID,
		o.Status,
		o.Side,
		o.Filled.String(), o.Amount.String(),
		o.Price.String(),
	)
}

func formatPosition(p domain.Position) string {
	return fmt.Sprintf("%s position %s %s @ %s pnl %s",
		symbolStyle.Render(p.Symbol),
		p.Side,
		p.Contracts.String(),
		p.EntryPrice.String(),
		p.UnrealizedPnl.String(),
	)
}

func formatBalance(b domain.Balances) string {
	currencies := make([]string, 0, len(b.Currencies))
	for c := range b.Currencies {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		bal := b.Currencies[c]
		parts = append(parts, fmt.Sprintf("%s free %s total %s", c, dec(bal.Free), dec(bal.Total)))
	}

	return symbolStyle.Render("balance") + " " + strings.Join(parts, ", ")
}

func dec(d *decimal.Decimal) string {
	if d == nil {
		return "?"
	}

	return d.String()
}
