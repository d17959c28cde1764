package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBybitSigner(t *testing.T) {
	sign := NewBybitSigner("key", "secret")

	key, sig := sign(1700000000000)
	assert.Equal(t, "key", key)
	assert.Equal(t, "9baf584ddf7a063dffe910d97ce4eac0cf7064058356de8b8d92f028e5ad936f", sig)

	_, other := sign(1700000000001)
	assert.NotEqual(t, sig, other)
}

func TestNewClients(t *testing.T) {
	assert.NotNil(t, NewBinanceClient("", ""))
	assert.NotNil(t, NewBybitClient("", ""))
	assert.NotNil(t, NewBybitClient("key", "secret"))
}

func TestNewHyperliquidInfo_NoRequestAtConstruction(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var info any
	require.NotPanics(t, func() {
		info = NewHyperliquidInfo(context.Background(), srv.URL, []string{"BTC", "ETH"})
	})
	assert.NotNil(t, info)
	assert.Equal(t, int32(0), hits.Load())
}
