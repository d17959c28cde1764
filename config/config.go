package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/stream"
)

const (
	ExchangeBinance     = "binance"
	ExchangeBybit       = "bybit"
	ExchangeHyperliquid = "hyperliquid"

	ChannelOrderBook = "orderbook"
	ChannelTrades    = "trades"
	ChannelTicker    = "ticker"
	ChannelOHLCV     = "ohlcv"
	// private, bybit only
	ChannelOrders    = "orders"
	ChannelPositions = "positions"
	ChannelBalance   = "balance"

	defaultDepth     = 20
	defaultTimeframe = "1m"
)

var channels = map[string]struct{}{
	ChannelOrderBook: {},
	ChannelTrades:    {},
	ChannelTicker:    {},
	ChannelOHLCV:     {},
	ChannelOrders:    {},
	ChannelPositions: {},
	ChannelBalance:   {},
}

var privateChannels = map[string]struct{}{
	ChannelOrders:    {},
	ChannelPositions: {},
	ChannelBalance:   {},
}

// Config is the validated application config.
type Config struct {
	Exchange  string
	Pairs     []domain.Pair
	Channels  []string
	Depth     int
	Timeframe string
	URL       string
	KeepAlive time.Duration
	RateLimit rate.Limit

	// JournalSync fsyncs every journal write.
	JournalDir  string
	JournalSync bool

	// WebDomains switches the web server to HTTPS with ACME certificates.
	WebAddr      string
	WebDomains   []string
	WebCertCache string

	Debug bool

	SnapshotDelay      int
	SnapshotMaxRetries int
	TradesLimit        int
	OHLCVLimit         int
}

// ConfigTmp is the YAML shape; numbers are kept as strings until validated.
type ConfigTmp struct {
	Exchange              string        `yaml:"exchange"`
	Symbols               []string      `yaml:"symbols"`
	Channels              []string      `yaml:"channels,omitempty"`
	DepthStr              string        `yaml:"depth,omitempty"`
	Timeframe             string        `yaml:"timeframe,omitempty"`
	URL                   string        `yaml:"url,omitempty"`
	KeepAlive             time.Duration `yaml:"keep_alive,omitempty"`
	RateLimitStr          string        `yaml:"rate_limit,omitempty"`
	JournalDir            string        `yaml:"journal_dir,omitempty"`
	JournalSync           bool          `yaml:"journal_sync,omitempty"`
	Web                   string        `yaml:"web,omitempty"`
	WebDomains            []string      `yaml:"web_domains,omitempty"`
	WebCertCache          string        `yaml:"web_cert_cache,omitempty"`
	SnapshotDelayStr      string        `yaml:"snapshot_delay,omitempty"`
	SnapshotMaxRetriesStr string        `yaml:"snapshot_max_retries,omitempty"`
	TradesLimitStr        string        `yaml:"trades_limit,omitempty"`
	OHLCVLimitStr         string        `yaml:"ohlcv_limit,omitempty"`
}

// Get parses the process flags and loads the config they point to.
func Get() (Config, Flags, error) {
	f, err := ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return Config{}, Flags{}, err
	}
	cfg, err := Load(f)

	return cfg, f, err
}

// Load reads the YAML file named by f, if any, applies the flag overrides and
// validates the result.
func Load(f Flags) (Config, error) {
	var tmp ConfigTmp
	if f.ConfigPath != "" {
		var err error
		tmp, err = ReadYaml(f.ConfigPath)
		if err != nil {
			return Config{}, err
		}
	}

	if f.Exchange != "" {
		tmp.Exchange = f.Exchange
	}
	if f.Symbols != "" {
		tmp.Symbols = splitList(f.Symbols)
	}
	if f.Channels != "" {
		tmp.Channels = splitList(f.Channels)
	}
	if f.Depth != 0 {
		tmp.DepthStr = strconv.Itoa(f.Depth)
	}
	if f.Web != "" {
		tmp.Web = f.Web
	}

	cfg, err := tmp.Parse()
	if err != nil {
		return Config{}, err
	}
	cfg.Debug = f.Debug

	return cfg, nil
}

// ReadYaml reads the raw config at path.
func ReadYaml(path string) (ConfigTmp, error) {
	var tmp ConfigTmp

	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigTmp{}, err
	}
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return ConfigTmp{}, errors.Wrapf(err, "parse %s", path)
	}

	return tmp, nil
}

// WriteYaml stores c at path.
func WriteYaml(path string, c ConfigTmp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}

	return os.WriteFile(path, data, 0o644)
}

// Parse validates the raw config and fills in defaults.
func (c ConfigTmp) Parse() (Config, error) {
	defaults := stream.DefaultConfig()
	cfg := Config{
		Exchange:           strings.ToLower(strings.TrimSpace(c.Exchange)),
		Channels:           c.Channels,
		Depth:              defaultDepth,
		Timeframe:          c.Timeframe,
		URL:                c.URL,
		KeepAlive:          c.KeepAlive,
		JournalDir:         c.JournalDir,
		JournalSync:        c.JournalSync,
		WebAddr:            c.Web,
		WebDomains:         c.WebDomains,
		WebCertCache:       c.WebCertCache,
		SnapshotDelay:      defaults.SnapshotDelay,
		SnapshotMaxRetries: defaults.SnapshotMaxRetries,
		TradesLimit:        defaults.TradesLimit,
		OHLCVLimit:         defaults.OHLCVLimit,
	}

	switch cfg.Exchange {
	case ExchangeBinance, ExchangeBybit, ExchangeHyperliquid:
	case "":
		return Config{}, fmt.Errorf("'exchange' param is required")
	default:
		return Config{}, fmt.Errorf("unsupported exchange %q", c.Exchange)
	}

	if len(c.Symbols) == 0 {
		return Config{}, fmt.Errorf("at least one symbol is required")
	}
	for _, s := range c.Symbols {
		pair, err := domain.ParsePair(s)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect symbol %q in config: %w", s, err)
		}
		cfg.Pairs = append(cfg.Pairs, pair)
	}

	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{ChannelOrderBook}
	}
	for i, ch := range cfg.Channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if _, ok := channels[ch]; !ok {
			return Config{}, fmt.Errorf("unsupported channel %q", ch)
		}
		if _, private := privateChannels[ch]; private && cfg.Exchange != ExchangeBybit {
			return Config{}, fmt.Errorf("channel %q is only available on bybit", ch)
		}
		cfg.Channels[i] = ch
	}
	if len(cfg.WebDomains) > 0 && cfg.WebAddr == "" {
		cfg.WebAddr = ":443"
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = defaultTimeframe
	}

	var err error
	if cfg.Depth, err = positiveInt("depth", c.DepthStr, cfg.Depth); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotDelay, err = positiveInt("snapshot_delay", c.SnapshotDelayStr, cfg.SnapshotDelay); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotMaxRetries, err = positiveInt("snapshot_max_retries", c.SnapshotMaxRetriesStr, cfg.SnapshotMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.TradesLimit, err = positiveInt("trades_limit", c.TradesLimitStr, cfg.TradesLimit); err != nil {
		return Config{}, err
	}
	if cfg.OHLCVLimit, err = positiveInt("ohlcv_limit", c.OHLCVLimitStr, cfg.OHLCVLimit); err != nil {
		return Config{}, err
	}

	if c.RateLimitStr != "" {
		limit, err := strconv.ParseFloat(c.RateLimitStr, 64)
		if err != nil || limit < 0 {
			return Config{}, fmt.Errorf("incorrect 'rate_limit' param in yaml config (messages per second), value: %q", c.RateLimitStr)
		}
		cfg.RateLimit = rate.Limit(limit)
	}

	return cfg, nil
}

// Private reports whether any enabled channel needs credentials.
func (c Config) Private() bool {
	for _, ch := range c.Channels {
		if _, ok := privateChannels[ch]; ok {
			return true
		}
	}

	return false
}

// Has reports whether channel is enabled.
func (c Config) Has(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}

	return false
}

// Session returns the session settings, keeping adapter defaults where the
// config is silent.
func (c Config) Session(base stream.Config) stream.Config {
	if c.KeepAlive > 0 {
		base.Client.KeepAlive = c.KeepAlive
	}
	if c.RateLimit > 0 {
		base.Client.RateLimit = c.RateLimit
		base.Client.Burst = int(c.RateLimit) + 1
	}
	base.SnapshotDelay = c.SnapshotDelay
	base.SnapshotMaxRetries = c.SnapshotMaxRetries
	base.TradesLimit = c.TradesLimit
	base.OHLCVLimit = c.OHLCVLimit

	return base
}

func positiveInt(name, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (must be a positive integer), value: %q", name, raw)
	}

	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
