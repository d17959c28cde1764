package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marketstream/internal/wsclient"
)

// Authenticate sends the login request once per connection and returns a future
// settled by ConfirmAuthentication or FailAuthentication. Building and signing
// request is up to the adapter.
func (s *Session) Authenticate(ctx context.Context, url string, request any) *wsclient.Future {
	if c := s.existing(url); c != nil && c.Authenticated() {
		return wsclient.Resolved(true)
	}

	return s.Watch(ctx, url, HashAuthenticated, request, HashAuthenticated, nil)
}

// ConfirmAuthentication marks c as logged in.
func (s *Session) ConfirmAuthentication(c *wsclient.Client) {
	c.SetAuthenticated(true)
	c.Resolve(true, HashAuthenticated)
}

// FailAuthentication rejects the login watchers and forgets the login record so
// the next Authenticate sends a fresh request.
func (s *Session) FailAuthentication(c *wsclient.Client, err error) {
	c.SetAuthenticated(false)
	c.Unsubscribe(HashAuthenticated)
	c.RejectPending(err, HashAuthenticated)

	s.logger.Warn("authentication failed", zap.String("url", c.URL()), zap.Error(err))
}
