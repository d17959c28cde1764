package config

import (
	"flag"
	"io"
)

// Flags are the command-line settings. Non-zero values override the YAML file.
type Flags struct {
	ConfigPath string
	Exchange   string
	Symbols    string
	Channels   string
	Depth      int
	Web        string
	Setup      bool
	Debug      bool
}

// ParseFlags parses args without touching the global flag set.
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags

	fs := flag.NewFlagSet("marketstream", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.StringVar(&f.Exchange, "exchange", "", "exchange: binance, bybit or hyperliquid")
	fs.StringVar(&f.Symbols, "symbols", "", "comma separated pairs, example: BTC_USDT,ETH_USDT")
	fs.StringVar(&f.Channels, "channels", "", "comma separated channels: orderbook, trades, ticker, ohlcv")
	fs.IntVar(&f.Depth, "depth", 0, "order book levels per side")
	fs.StringVar(&f.Web, "web", "", "address of the web server, example: :8080")
	fs.BoolVar(&f.Setup, "setup", false, "run the configuration wizard")
	fs.BoolVar(&f.Debug, "debug", false, "development logging")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return f, nil
}
