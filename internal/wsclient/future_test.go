package wsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_SettlesOnce(t *testing.T) {
	f := NewFuture()
	assert.False(t, f.Settled())

	assert.True(t, f.Resolve(1))
	assert.False(t, f.Resolve(2))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, f.Settled())
}

func TestFuture_ManyWaiters(t *testing.T) {
	f := NewFuture()
	const waiters = 10

	var wg sync.WaitGroup
	results := make(chan any, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Wait(context.Background())
			assert.NoError(t, err)
			results <- v
		}()
	}

	f.Resolve("book")
	wg.Wait()
	close(results)
	for v := range results {
		assert.Equal(t, "book", v)
	}
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewFuture().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_OnSettle(t *testing.T) {
	f := NewFuture()
	var got []error
	f.OnSettle(func(_ any, err error) { got = append(got, err) })

	boom := errors.New("boom")
	f.Reject(boom)
	f.OnSettle(func(_ any, err error) { got = append(got, err) })

	assert.Equal(t, []error{boom, boom}, got)
}

func TestAwait(t *testing.T) {
	n, err := Await[int](context.Background(), Resolved(5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = Await[string](context.Background(), Resolved(5))
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = Await[int](context.Background(), Rejected(boom))
	assert.ErrorIs(t, err, boom)
}

func TestExchangeError(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{KindAuthentication, ErrAuthentication},
		{KindBadRequest, ErrBadRequest},
		{KindExchange, ErrExchange},
	}
	for _, tt := range tests {
		var err error = &ExchangeError{Code: "10003", Message: "invalid key", Kind: tt.kind}
		assert.ErrorIs(t, errors.Wrap(err, "login"), tt.want)
		assert.Contains(t, err.Error(), "10003")

		var ee *ExchangeError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "invalid key", ee.Message)
	}
}
