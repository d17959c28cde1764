package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marketstream/pkg/retrier"
)

func TestConsume(t *testing.T) {
	body := "id: 1\nevent: snapshot\ndata: {}\n\n" +
		": ping\n\n" +
		"id: 2\r\nevent: delta\r\ndata: {}\r\n\r\n" +
		"id: 3\nevent: delta\ndata: {}\n\n" +
		"id: 4\nevent: invalidate\ndata: {}\n\n"

	var s stats
	err := consume(strings.NewReader(body), &s)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, int64(1), s.snapshots.Load())
	assert.Equal(t, int64(2), s.deltas.Load())
	assert.Equal(t, int64(1), s.invalidates.Load())
	assert.Equal(t, int64(1), s.heartbeats.Load())
	assert.Equal(t, int64(4), s.events())
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base   string
		symbol string
		after  uint64
		want   string
	}{
		{"http://localhost:8080", "", 0, "http://localhost:8080/books/stream"},
		{"http://localhost:8080/", "BTC/USDT", 0, "http://localhost:8080/books/stream?symbol=BTC%2FUSDT"},
		{"http://host/api", "", 42, "http://host/api/books/stream?after=42"},
	}

	for _, tt := range tests {
		got, err := streamURL(tt.base, tt.symbol, tt.after)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantErr  bool
		wantHits int32
	}{
		{name: "ok", statuses: []int{http.StatusOK}, wantHits: 1},
		{name: "retries unavailable", statuses: []int{http.StatusServiceUnavailable, http.StatusOK}, wantHits: 2},
		{name: "client error is final", statuses: []int{http.StatusNotFound, http.StatusOK}, wantErr: true, wantHits: 1},
		{name: "gives up", statuses: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway}, wantErr: true, wantHits: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := hits.Add(1)
				w.WriteHeader(tt.statuses[int(n)-1])
			}))
			defer srv.Close()

			r := retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Millisecond))
			resp, err := open(context.Background(), srv.Client(), r, srv.URL+"/books/stream")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				resp.Body.Close()
			}
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}
