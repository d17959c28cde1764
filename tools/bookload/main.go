// Command bookload opens many concurrent subscriptions to the book journal
// stream of a running marketstream web server and reports event throughput.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/marketstream/pkg/retrier"
)

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	snapshots   atomic.Int64
	deltas      atomic.Int64
	invalidates atomic.Int64
	heartbeats  atomic.Int64
}

func (s *stats) events() int64 {
	return s.snapshots.Load() + s.deltas.Load() + s.invalidates.Load()
}

func (s *stats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("connected", s.connected.Load()),
		zap.Int64("connect_errs", s.connectErrs.Load()),
		zap.Int64("stream_errs", s.streamErrs.Load()),
		zap.Int64("snapshots", s.snapshots.Load()),
		zap.Int64("deltas", s.deltas.Load()),
		zap.Int64("invalidates", s.invalidates.Load()),
		zap.Int64("heartbeats", s.heartbeats.Load()),
	}
}

// consume counts events of one stream until r fails or ends.
func consume(r io.Reader, s *stats) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, ":"):
			s.heartbeats.Add(1)
		case strings.HasPrefix(line, "event: "):
			switch strings.TrimPrefix(line, "event: ") {
			case "snapshot":
				s.snapshots.Add(1)
			case "delta":
				s.deltas.Add(1)
			case "invalidate":
				s.invalidates.Add(1)
			}
		}
	}
}

func streamURL(base, symbol string, after uint64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/books/stream"
	q := u.Query()
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if after > 0 {
		q.Set("after", strconv.FormatUint(after, 10))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// open connects to the stream, retrying transport failures and 5xx answers.
func open(ctx context.Context, client *http.Client, r *retrier.Retrier, target string) (*http.Response, error) {
	return retrier.DoWithData(r, ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, retrier.Permanent(err)
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		err = errors.Errorf("stream answered %s", resp.Status)
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, retrier.Permanent(err)
		}
		return nil, err
	})
}

func main() {
	var (
		base        string
		symbol      string
		after       uint64
		connections int
		duration    time.Duration
		perSecond   float64
		retries     int
	)

	flag.StringVar(&base, "url", "http://localhost:8080", "marketstream web server")
	flag.StringVar(&symbol, "symbol", "", "only follow this symbol, example: BTC/USDT")
	flag.Uint64Var(&after, "after", 0, "replay journal records after this index")
	flag.IntVar(&connections, "conns", 500, "number of concurrent streams")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration (0 for until interrupted)")
	flag.Float64Var(&perSecond, "rate", 500, "new connections per second")
	flag.IntVar(&retries, "retries", 2, "connect retries per stream")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if connections <= 0 || perSecond <= 0 {
		logger.Fatal("conns and rate must be positive", zap.Int("conns", connections), zap.Float64("rate", perSecond))
	}

	target, err := streamURL(base, symbol, after)
	if err != nil {
		logger.Fatal("bad url", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	logger.Info("starting", zap.String("url", target), zap.Int("conns", connections), zap.Duration("dur", duration))

	var s stats
	start := time.Now()
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	connectRetrier := retrier.New(retrier.WithMaxRetries(retries))

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("status", append(s.fields(), zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))...)
			}
		}
	}()

	var g errgroup.Group
	for i := 0; i < connections; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		g.Go(func() error {
			resp, err := open(ctx, client, connectRetrier, target)
			if err != nil {
				s.connectErrs.Add(1)
				return nil
			}
			defer resp.Body.Close()

			s.connected.Add(1)
			if err := consume(resp.Body, &s); err != nil && ctx.Err() == nil {
				s.streamErrs.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Millisecond
	}
	logger.Info("done", append(s.fields(),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
		zap.Float64("events_per_sec", float64(s.events())/elapsed.Seconds()),
	)...)
}
