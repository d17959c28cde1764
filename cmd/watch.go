package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/marketstream/config"
	"github.com/vadiminshakov/marketstream/internal/domain"
	"github.com/vadiminshakov/marketstream/internal/stream"
	"github.com/vadiminshakov/marketstream/internal/wsclient"
	"github.com/vadiminshakov/marketstream/pkg/indicators"
	"github.com/vadiminshakov/marketstream/pkg/retrier"
)

const (
	printInterval    = time.Second
	indicatorPeriod  = 14
	watchMaxRetries  = 5
	watchMaxInterval = 30 * time.Second
)

type watcher struct {
	ex      exchange
	cfg     config.Config
	printer *printer
	logger  *zap.Logger
}

// start runs one loop per symbol and channel. Private channels are account
// wide and run once.
func (w *watcher) start(ctx context.Context, g *errgroup.Group, symbols []string) {
	for _, symbol := range symbols {
		for _, ch := range w.cfg.Channels {
			switch ch {
			case config.ChannelOrderBook:
				g.Go(func() error { return w.loop(ctx, ch+" "+symbol, w.orderBook(symbol)) })
			case config.ChannelTrades:
				g.Go(func() error { return w.loop(ctx, ch+" "+symbol, w.trades(symbol)) })
			case config.ChannelTicker:
				g.Go(func() error { return w.loop(ctx, ch+" "+symbol, w.ticker(symbol)) })
			case config.ChannelOHLCV:
				g.Go(func() error { return w.loop(ctx, ch+" "+symbol, w.ohlcv(symbol)) })
			}
		}
	}

	priv, ok := w.ex.(privateExchange)
	if !ok {
		return
	}
	for _, ch := range w.cfg.Channels {
		switch ch {
		case config.ChannelOrders:
			g.Go(func() error { return w.loop(ctx, ch, w.orders(priv)) })
		case config.ChannelPositions:
			g.Go(func() error { return w.loop(ctx, ch, w.positions(priv)) })
		case config.ChannelBalance:
			g.Go(func() error { return w.loop(ctx, ch, w.balance(priv)) })
		}
	}
}

// loop repeats fn until ctx is done. Transient failures are retried with
// backoff; rejected requests stop the loop.
func (w *watcher) loop(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	r := retrier.New(
		retrier.WithMaxRetries(watchMaxRetries),
		retrier.WithMaxInterval(watchMaxInterval),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			w.logger.Warn("watch failed, retrying",
				zap.String("stream", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	for {
		err := r.Do(ctx, func(ctx context.Context) error {
			err := fn(ctx)
			if permanent(err) {
				return retrier.Permanent(err)
			}
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "watch %s", name)
		}
	}
}

func permanent(err error) bool {
	return errors.Is(err, wsclient.ErrBadRequest) ||
		errors.Is(err, wsclient.ErrAuthentication) ||
		errors.Is(err, wsclient.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrMarketNotFound) ||
		errors.Is(err, stream.ErrUnsubscribed)
}

func (w *watcher) orderBook(symbol string) func(ctx context.Context) error {
	every := &rate.Sometimes{Interval: printInterval}
	return func(ctx context.Context) error {
		snap, err := w.ex.WatchOrderBook(ctx, symbol, w.cfg.Depth)
		if err != nil {
			return err
		}
		every.Do(func() { w.printer.print(formatBook(snap)) })
		return nil
	}
}

func (w *watcher) trades(symbol string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		trades, err := w.ex.WatchTrades(ctx, symbol, 0)
		if err != nil {
			return err
		}
		for _, t := range trades {
			w.printer.print(formatTrade(t))
		}
		return nil
	}
}

func (w *watcher) ticker(symbol string) func(ctx context.Context) error {
	every := &rate.Sometimes{Interval: printInterval}
	return func(ctx context.Context) error {
		t, err := w.ex.WatchTicker(ctx, symbol)
		if err != nil {
			return err
		}
		every.Do(func() { w.printer.print(formatTicker(t)) })
		return nil
	}
}

func (w *watcher) ohlcv(symbol string) func(ctx context.Context) error {
	every := &rate.Sometimes{Interval: printInterval}
	return func(ctx context.Context) error {
		candles, err := w.ex.WatchOHLCV(ctx, symbol, w.cfg.Timeframe, 0)
		if err != nil {
			return err
		}
		if len(candles) == 0 {
			return nil
		}
		// the cache keeps every candle seen so far
		all := w.ex.Session().OHLCV(symbol, w.cfg.Timeframe)
		summary, err := indicators.Summarize(all, indicatorPeriod)
		if err != nil {
			w.logger.Debug("not enough candles for indicators", zap.String("symbol", symbol), zap.Int("candles", len(all)))
		}
		every.Do(func() { w.printer.print(formatCandle(symbol, w.cfg.Timeframe, candles[len(candles)-1], summary, err == nil)) })
		return nil
	}
}

func (w *watcher) orders(ex privateExchange) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		orders, err := ex.WatchOrders(ctx, "", 0)
		if err != nil {
			return err
		}
		for _, o := range orders {
			w.printer.print(formatOrder(o))
		}
		return nil
	}
}

func (w *watcher) positions(ex privateExchange) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		positions, err := ex.WatchPositions(ctx, "")
		if err != nil {
			return err
		}
		for _, p := range positions {
			w.printer.print(formatPosition(p))
		}
		return nil
	}
}

func (w *watcher) balance(ex privateExchange) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		b, err := ex.WatchBalance(ctx)
		if err != nil {
			return err
		}
		w.printer.print(formatBalance(b))
		return nil
	}
}
