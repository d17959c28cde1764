package wsclient

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConnectionClosed = errors.New("connection closed")
	ErrStaleConnection  = errors.New("connection stale: no pong received")
	ErrNotConnected     = errors.New("not connected")
	ErrAuthentication   = errors.New("authentication failed")
	ErrBadRequest       = errors.New("bad request")
	ErrExchange         = errors.New("exchange error")
)

// ErrorKind classifies exchange error envelopes.
type ErrorKind int

const (
	KindExchange ErrorKind = iota
	KindBadRequest
	KindAuthentication
)

// ExchangeError is an error envelope sent by the exchange.
type ExchangeError struct {
	Code    string
	Message string
	Kind    ErrorKind
}

func (e *ExchangeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Unwrap(), e.Message)
	}

	return fmt.Sprintf("%s: %s (code %s)", e.Unwrap(), e.Message, e.Code)
}

// Unwrap maps the kind onto its sentinel so errors.Is(err, ErrAuthentication) works.
func (e *ExchangeError) Unwrap() error {
	switch e.Kind {
	case KindAuthentication:
		return ErrAuthentication
	case KindBadRequest:
		return ErrBadRequest
	default:
		return ErrExchange
	}
}
