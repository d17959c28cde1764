// Package wsclient holds one persistent WebSocket connection together with the
// futures, pending rejections and subscription records multiplexed over it.
package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultConnectTimeout = 10 * time.Second
	controlWriteTimeout   = 5 * time.Second
)

// Config tunes a connection.
type Config struct {
	// KeepAlive is the ping interval; a connection without a pong for twice this
	// long is torn down. Zero disables keep-alive.
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// RateLimit caps outgoing messages per second, zero is unlimited.
	RateLimit rate.Limit
	Burst     int
	Header    http.Header
}

// Hooks connect a client to its owner.
type Hooks struct {
	// OnMessage runs on the read goroutine for every frame, in arrival order.
	OnMessage func(c *Client, msg []byte)
	// OnClose runs once, after every pending future has been rejected.
	OnClose func(c *Client, err error)
	// Ping builds an application-level ping. A nil result sends a control ping.
	Ping func(c *Client) any
}

// Subscription is the record of a wire-level subscribe request.
type Subscription struct {
	ID            int64
	Hash          string
	MessageHashes []string
	Symbols       []string
	Topic         string
	Params        map[string]any
}

// Client is a single connection to url.
type Client struct {
	url    string
	id     string
	cfg    Config
	hooks  Hooks
	logger *zap.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     *Future
	closeErr      error
	futures       map[string]*Future
	rejections    map[string]error
	subscriptions map[string]Subscription

	writeMu       sync.Mutex
	limiter       *rate.Limiter
	requestID     atomic.Int64
	lastPong      atomic.Int64
	authenticated atomic.Bool
	closed        chan struct{}
}

// New creates a client for url. Nothing is dialed until Connect.
func New(url string, cfg Config, hooks Hooks, logger *zap.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	id := uuid.NewString()

	return &Client{
		url:           url,
		id:            id,
		cfg:           cfg,
		hooks:         hooks,
		logger:        logger.With(zap.String("url", url), zap.String("conn", id)),
		futures:       make(map[string]*Future),
		rejections:    make(map[string]error),
		subscriptions: make(map[string]Subscription),
		limiter:       rate.NewLimiter(limit, burst),
		closed:        make(chan struct{}),
	}
}

// URL returns the endpoint of the client.
func (c *Client) URL() string { return c.url }

// ID returns the connection's session id.
func (c *Client) ID() string { return c.id }

// Done is closed once the connection is torn down.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Err returns the reason the client closed, nil while it is alive.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeErr
}

// Connect dials once; concurrent and repeated callers share the same attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	if c.connected == nil {
		c.connected = NewFuture()
		go c.dial(c.connected)
	}
	connected := c.connected
	c.mu.Unlock()

	_, err := connected.Wait(ctx)

	return err
}

func (c *Client) dial(connected *Future) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, c.cfg.Header)
	if err != nil {
		err = errors.Wrapf(err, "dial %s", c.url)
		connected.Reject(err)
		c.closeWith(err)
		return
	}

	conn.SetPongHandler(func(string) error {
		c.OnPong()
		return nil
	})

	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		conn.Close()
		connected.Reject(err)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.OnPong()
	go c.readLoop(conn)
	if c.cfg.KeepAlive > 0 {
		go c.keepAlive()
	}

	c.logger.Info("connected")
	connected.Resolve(c)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.closeWith(errors.Wrapf(ErrConnectionClosed, "read: %v", err))
			return
		}
		if c.hooks.OnMessage != nil {
			c.hooks.OnMessage(c, msg)
		}
	}
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}

		if since := time.Since(c.LastPong()); since > 2*c.cfg.KeepAlive {
			c.closeWith(errors.Wrapf(ErrStaleConnection, "last pong %s ago", since.Round(time.Millisecond)))
			return
		}
		if err := c.ping(); err != nil {
			c.closeWith(errors.Wrapf(ErrConnectionClosed, "ping: %v", err))
			return
		}
	}
}

func (c *Client) ping() error {
	if c.hooks.Ping != nil {
		if msg := c.hooks.Ping(c); msg != nil {
			return c.write(msg)
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout))
}

// OnPong records liveness. Adapters with application-level pongs call it.
func (c *Client) OnPong() {
	c.lastPong.Store(time.Now().UnixNano())
}

// LastPong returns when the connection last proved alive.
func (c *Client) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// NextRequestID returns a connection-local monotonic request id.
func (c *Client) NextRequestID() int64 {
	return c.requestID.Add(1)
}

// Send throttles and writes v. []byte and string are sent as is, anything else
// is JSON encoded.
func (c *Client) Send(ctx context.Context, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "throttle")
	}

	return c.write(v)
}

func (c *Client) write(v any) error {
	var data []byte
	switch msg := v.(type) {
	case []byte:
		data = msg
	case string:
		data = []byte(msg)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return errors.Wrap(err, "marshal message")
		}
	}

	c.mu.Lock()
	conn, closeErr := c.conn, c.closeErr
	c.mu.Unlock()
	if closeErr != nil {
		return closeErr
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.logger.Debug("send", zap.ByteString("msg", data))

	return errors.Wrap(conn.WriteMessage(websocket.TextMessage, data), "write")
}

// Future returns the pending future for hash, creating it when needed. A
// rejection recorded while nobody waited settles the new future at once.
func (c *Client) Future(hash string) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeErr != nil {
		return Rejected(c.closeErr)
	}
	if err, ok := c.rejections[hash]; ok {
		delete(c.rejections, hash)
		return Rejected(err)
	}
	f, ok := c.futures[hash]
	if !ok {
		f = NewFuture()
		c.futures[hash] = f
	}

	return f
}

// Resolve settles and forgets the pending future for hash. Without a waiter it
// is a no-op.
func (c *Client) Resolve(v any, hash string) bool {
	c.mu.Lock()
	f, ok := c.futures[hash]
	delete(c.futures, hash)
	c.mu.Unlock()

	if !ok {
		return false
	}

	return f.Resolve(v)
}

// Reject fails the futures of hashes, recording the error for hashes nobody is
// waiting on yet. Without hashes every pending future is rejected.
func (c *Client) Reject(err error, hashes ...string) {
	c.reject(err, true, hashes)
}

// RejectPending is Reject without recording rejections for absent waiters.
func (c *Client) RejectPending(err error, hashes ...string) {
	c.reject(err, false, hashes)
}

func (c *Client) reject(err error, record bool, hashes []string) {
	var settle []*Future

	c.mu.Lock()
	if len(hashes) == 0 {
		for _, f := range c.futures {
			settle = append(settle, f)
		}
		c.futures = make(map[string]*Future)
	} else {
		for _, hash := range hashes {
			if f, ok := c.futures[hash]; ok {
				settle = append(settle, f)
				delete(c.futures, hash)
			} else if record {
				c.rejections[hash] = err
			}
		}
	}
	c.mu.Unlock()

	for _, f := range settle {
		f.Reject(err)
	}
}

// Pending lists the hashes with a waiting future.
func (c *Client) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.futures))
	for hash := range c.futures {
		out = append(out, hash)
	}
	sort.Strings(out)

	return out
}

// Subscribe stores sub unless a record with the same hash exists. It reports
// whether the caller owns sending the subscribe request.
func (c *Client) Subscribe(sub Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscriptions[sub.Hash]; ok {
		return false
	}
	c.subscriptions[sub.Hash] = sub

	return true
}

// Subscription returns the record for hash.
func (c *Client) Subscription(hash string) (Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[hash]

	return sub, ok
}

// Unsubscribe removes and returns the record for hash.
func (c *Client) Unsubscribe(hash string) (Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[hash]
	delete(c.subscriptions, hash)

	return sub, ok
}

// Subscriptions returns every record ordered by request id.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// SetAuthenticated records the outcome of the private-channel login.
func (c *Client) SetAuthenticated(ok bool) {
	c.authenticated.Store(ok)
}

// Authenticated reports whether login succeeded on this connection.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// Close tears the connection down, rejecting every pending future.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteTimeout))
	}
	c.closeWith(ErrConnectionClosed)
}

func (c *Client) closeWith(err error) {
	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return
	}
	c.closeErr = err
	conn := c.conn
	connected := c.connected
	futures := c.futures
	c.futures = make(map[string]*Future)
	c.subscriptions = make(map[string]Subscription)
	c.mu.Unlock()

	close(c.closed)
	c.authenticated.Store(false)
	if conn != nil {
		conn.Close()
	}
	if connected != nil {
		connected.Reject(err)
	}
	for _, f := range futures {
		f.Reject(err)
	}

	if errors.Is(err, ErrConnectionClosed) {
		c.logger.Info("connection closed", zap.Error(err))
	} else {
		c.logger.Warn("connection lost", zap.Error(err))
	}
	if c.hooks.OnClose != nil {
		c.hooks.OnClose(c, err)
	}
}
