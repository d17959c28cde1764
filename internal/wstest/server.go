// Package wstest provides an in-process WebSocket server for tests.
package wstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Reply is called for every frame the server receives. Returning a non-nil
// value sends it back on the same connection.
type Reply func(msg []byte) any

// Server records inbound frames and lets tests push frames to clients.
type Server struct {
	*httptest.Server
	URL string

	t        *testing.T
	reply    Reply
	mu       sync.Mutex
	conns    []*conn
	received [][]byte
	frames   chan []byte
	accepted chan struct{}
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a server closed automatically at test cleanup. reply may be nil.
func NewServer(t *testing.T, reply Reply) *Server {
	t.Helper()

	s := &Server{
		t:        t,
		reply:    reply,
		frames:   make(chan []byte, 1024),
		accepted: make(chan struct{}, 64),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		c := &conn{ws: ws}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		s.accepted <- struct{}{}

		s.serve(c)
	}))
	s.URL = strings.Replace(s.Server.URL, "http://", "ws://", 1)
	t.Cleanup(s.Close)

	return s
}

func (s *Server) serve(c *conn) {
	defer c.ws.Close()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()
		s.frames <- msg

		if s.reply == nil {
			continue
		}
		if out := s.reply(msg); out != nil {
			_ = c.write(encode(s.t, out))
		}
	}
}

func encode(t *testing.T, v any) []byte {
	switch msg := v.(type) {
	case []byte:
		return msg
	case string:
		return []byte(msg)
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

// Push sends v to the most recent connection.
func (s *Server) Push(v any) {
	s.t.Helper()

	s.mu.Lock()
	require.NotEmpty(s.t, s.conns, "no client connected")
	c := s.conns[len(s.conns)-1]
	s.mu.Unlock()

	require.NoError(s.t, c.write(encode(s.t, v)))
}

// Next waits for the next inbound frame.
func (s *Server) Next(timeout time.Duration) []byte {
	s.t.Helper()

	select {
	case msg := <-s.frames:
		return msg
	case <-time.After(timeout):
		s.t.Fatalf("no frame received within %s", timeout)
		return nil
	}
}

// WaitConnected blocks until a client connects.
func (s *Server) WaitConnected(timeout time.Duration) {
	s.t.Helper()

	select {
	case <-s.accepted:
	case <-time.After(timeout):
		s.t.Fatalf("no connection within %s", timeout)
	}
}

// Received returns every frame received so far.
func (s *Server) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.received))
	copy(out, s.received)

	return out
}

// Connections returns how many clients have connected.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// Drop closes every server-side connection without a close handshake.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		c.ws.Close()
	}
}
