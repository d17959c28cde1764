package stream

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

// Handler consumes every frame of every connection of a session. It runs on the
// connection's read goroutine.
type Handler interface {
	HandleMessage(s *Session, c *wsclient.Client, msg []byte) error
}

// Pinger is implemented by handlers of exchanges that expect application-level
// pings. A nil message falls back to a WebSocket ping frame.
type Pinger interface {
	Ping(c *wsclient.Client) any
}

// HandlerFunc handles one kind of message.
type HandlerFunc func(s *Session, c *wsclient.Client, msg []byte) error

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(s *Session, c *wsclient.Client, msg []byte) error {
	return f(s, c, msg)
}

// Dispatcher routes frames to handlers by a discriminant (channel, topic or event
// name) extracted from the frame.
type Dispatcher struct {
	kind     func(msg []byte) (string, error)
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a dispatcher using kind to classify frames.
func NewDispatcher(kind func(msg []byte) (string, error)) *Dispatcher {
	return &Dispatcher{kind: kind, handlers: make(map[string]HandlerFunc)}
}

// On registers h for kind, replacing any previous handler.
func (d *Dispatcher) On(kind string, h HandlerFunc) *Dispatcher {
	d.handlers[kind] = h
	return d
}

// HandleMessage implements Handler. Unknown kinds are logged and skipped.
func (d *Dispatcher) HandleMessage(s *Session, c *wsclient.Client, msg []byte) error {
	kind, err := d.kind(msg)
	if err != nil {
		return errors.Wrap(err, "classify message")
	}
	h, ok := d.handlers[kind]
	if !ok {
		s.Logger().Debug("unhandled message", zap.String("kind", kind), zap.ByteString("msg", msg))
		return nil
	}

	return h(s, c, msg)
}

// HandlerError confines a failure to the message hashes it names. Without
// hashes it is only logged.
type HandlerError struct {
	Hashes []string
	Err    error
}

// NewHandlerError wraps err for the given hashes.
func NewHandlerError(err error, hashes ...string) error {
	if err == nil {
		return nil
	}

	return &HandlerError{Hashes: hashes, Err: err}
}

func (e *HandlerError) Error() string {
	if len(e.Hashes) == 0 {
		return e.Err.Error()
	}

	return fmt.Sprintf("%s [%s]", e.Err, strings.Join(e.Hashes, ", "))
}

func (e *HandlerError) Unwrap() error { return e.Err }
