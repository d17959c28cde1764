// Command marketstream follows exchange market data over WebSocket and prints
// it to the terminal. Order books are kept incrementally, optionally journaled
// to a WAL and served over HTTP.
//
// Usage:
//
//	marketstream -config config.yaml
//	marketstream -exchange binance -symbols BTC_USDT,ETH_USDT -web :8080
//	marketstream -setup
//
// Private Bybit channels (orders, positions, balance) need the
// BYBIT_API_KEY and BYBIT_API_SECRET environment variables.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/marketstream/config"
	"github.com/vadiminshakov/marketstream/internal/setup"
	"github.com/vadiminshakov/marketstream/internal/storage/bookjournal"
	"github.com/vadiminshakov/marketstream/internal/stream"
	"github.com/vadiminshakov/marketstream/internal/web"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal(err)
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("marketstream stopped", zap.Error(err))
	}
	logger.Info("bye")
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}

	return logger
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var opts []stream.Option

	var journal *bookjournal.WALStore
	if cfg.JournalDir != "" {
		var err error
		journal, err = bookjournal.NewWALStore(cfg.JournalDir, cfg.JournalSync)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, stream.WithJournal(journal))
	}

	ex, symbols, err := newExchange(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer ex.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.WebAddr != "" {
		books := ex.Session().Books()
		var srv *web.Server
		if journal != nil {
			srv = web.NewServer(cfg.WebAddr, books, journal, logger)
		} else {
			srv = web.NewServer(cfg.WebAddr, books, nil, logger)
		}
		g.Go(func() error {
			if len(cfg.WebDomains) > 0 {
				return srv.StartWithAutoTLS(ctx, cfg.WebDomains, cfg.WebCertCache)
			}
			return srv.Start(ctx)
		})
	}

	w := &watcher{
		ex:      ex,
		cfg:     cfg,
		printer: newPrinter(os.Stdout),
		logger:  logger,
	}
	w.start(ctx, g, symbols)

	logger.Info("started",
		zap.String("exchange", cfg.Exchange),
		zap.Strings("symbols", symbols),
		zap.Strings("channels", cfg.Channels),
	)

	return g.Wait()
}
