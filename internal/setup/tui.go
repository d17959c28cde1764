package setup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/marketstream/config"
	"github.com/vadiminshakov/marketstream/internal/domain"
)

// DefaultFile is where the wizard writes its config.
const DefaultFile = "config.gen.yaml"

const title = "MARKETSTREAM CONFIG WIZARD"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

type answers struct {
	exchange   string
	symbols    string
	channels   []string
	timeframe  string
	depth      string
	rateLimit  string
	web        string
	journalDir string
}

func (a answers) config() config.ConfigTmp {
	var symbols []string
	for _, s := range strings.Split(a.symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, strings.ToUpper(s))
		}
	}

	tmp := config.ConfigTmp{
		Exchange:     a.exchange,
		Symbols:      symbols,
		Channels:     a.channels,
		DepthStr:     a.depth,
		RateLimitStr: a.rateLimit,
		Web:          a.web,
		JournalDir:   a.journalDir,
	}
	for _, ch := range a.channels {
		if ch == config.ChannelOHLCV {
			tmp.Timeframe = a.timeframe
		}
	}

	return tmp
}

func (a answers) summary() string {
	return fmt.Sprintf(
		"Exchange: %s\nSymbols: %s\nChannels: %s\nDepth: %s\nWeb: %s\nJournal: %s\n",
		a.exchange, a.symbols, strings.Join(a.channels, ", "), a.depth, orNone(a.web), orNone(a.journalDir),
	)
}

func orNone(s string) string {
	if s == "" {
		return "disabled"
	}

	return s
}

func step(name string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render(name))
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the generated config.
func RunTUI() (string, error) {
	a := answers{
		channels:  []string{config.ChannelOrderBook},
		timeframe: "1m",
		depth:     "20",
	}
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Pick an exchange and the books to follow.\n"))

	fmt.Println(stepStyle.Render("STEP 1: EXCHANGE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange").
				Options(
					huh.NewOption("Binance", config.ExchangeBinance),
					huh.NewOption("Bybit", config.ExchangeBybit),
					huh.NewOption("Hyperliquid", config.ExchangeHyperliquid),
				).
				Value(&a.exchange),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 2: SYMBOLS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pairs").
				Description("Comma separated, BASE_QUOTE (e.g. BTC_USDT,ETH_USDT)").
				Value(&a.symbols).
				Validate(validateSymbols),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 3: CHANNELS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Streams to watch").
				Options(
					huh.NewOption("Order book", config.ChannelOrderBook).Selected(true),
					huh.NewOption("Trades", config.ChannelTrades),
					huh.NewOption("Ticker", config.ChannelTicker),
					huh.NewOption("Candles", config.ChannelOHLCV),
				).
				Validate(func(v []string) error {
					if len(v) == 0 {
						return fmt.Errorf("select at least one channel")
					}
					return nil
				}).
				Value(&a.channels),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 4: LIMITS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Book depth").
				Description("Levels per side kept in memory").
				Value(&a.depth).
				Validate(validateDepth),
			huh.NewInput().
				Title("Candle timeframe").
				Description("Used only for the candles channel (e.g. 1m, 1h)").
				Value(&a.timeframe),
			huh.NewInput().
				Title("Rate limit").
				Description("Outgoing messages per second, empty for unlimited").
				Value(&a.rateLimit).
				Validate(validateRateLimit),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 5: OUTPUTS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Web server address").
				Description("Empty to disable (e.g. :8080)").
				Value(&a.web),
			huh.NewInput().
				Title("Book journal directory").
				Description("Empty to disable (e.g. ./wal/books)").
				Value(&a.journalDir),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(a.summary()))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := config.WriteYaml(DefaultFile, a.config()); err != nil {
		return "", fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting streams...", DefaultFile)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message

	return DefaultFile, nil
}

func validateSymbols(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("symbols cannot be empty")
	}
	for _, part := range strings.Split(s, ",") {
		if _, err := domain.ParsePair(part); err != nil {
			return fmt.Errorf("invalid format: must be BASE_QUOTE (e.g. BTC_USDT)")
		}
	}
	return nil
}

func validateDepth(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateRateLimit(s string) error {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}
