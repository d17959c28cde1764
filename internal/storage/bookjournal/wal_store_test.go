package bookjournal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/stream"
)

var _ stream.Journal = (*WALStore)(nil)

func level(price, size int64) orderbook.Level {
	return orderbook.Level{Price: decimal.NewFromInt(price), Size: decimal.NewFromInt(size)}
}

func newStore(t *testing.T, dir string) *WALStore {
	t.Helper()
	s, err := NewWALStore(dir, false)
	require.NoError(t, err, "Failed to create book journal")
	return s
}

func TestWALStore_RecordsAfter(t *testing.T) {
	s := newStore(t, t.TempDir())
	defer func() {
		assert.NoError(t, s.Close(), "Failed to close WAL")
	}()

	ts := time.UnixMilli(1700000000000).UTC()
	require.NoError(t, s.Snapshot(orderbook.Snapshot{Symbol: "BTC/USDT", Nonce: 10, Timestamp: ts, Bids: []orderbook.Level{level(100, 1)}}))
	require.NoError(t, s.Delta("BTC/USDT", orderbook.Delta{First: 11, Last: 12, Timestamp: ts, Asks: []orderbook.Level{level(101, 2)}}))
	require.NoError(t, s.Invalidate("BTC/USDT", 12))

	assert.Equal(t, uint64(3), s.CurrentIndex())

	records, err := s.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, uint64(1), records[0].Index)
	assert.Equal(t, KindSnapshot, records[0].Kind)
	assert.NotEqual(t, uuid.Nil, records[0].ID)
	assert.True(t, ts.Equal(records[0].Time))
	require.Len(t, records[0].Bids, 1)
	assert.True(t, records[0].Bids[0].Price.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, KindDelta, records[1].Kind)
	assert.Equal(t, int64(11), records[1].First)
	assert.Equal(t, int64(12), records[1].Nonce)

	assert.Equal(t, KindInvalidate, records[2].Kind)

	tail, err := s.RecordsAfter(2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(3), tail[0].Index)

	none, err := s.RecordsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWALStore_SaveRequiresSymbol(t *testing.T) {
	s := newStore(t, t.TempDir())
	defer s.Close()

	assert.Error(t, s.Save(Record{Kind: KindDelta}))
	assert.Equal(t, uint64(0), s.CurrentIndex())
}

func TestWALStore_LastBook(t *testing.T) {
	s := newStore(t, t.TempDir())
	defer s.Close()

	_, err := s.LastBook("BTC/USDT", 10)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, s.Snapshot(orderbook.Snapshot{
		Symbol: "BTC/USDT",
		Nonce:  10,
		Bids:   []orderbook.Level{level(100, 1), level(98, 1)},
		Asks:   []orderbook.Level{level(101, 1)},
	}))
	require.NoError(t, s.Snapshot(orderbook.Snapshot{Symbol: "ETH/USDT", Nonce: 5, Bids: []orderbook.Level{level(50, 1)}}))
	require.NoError(t, s.Delta("BTC/USDT", orderbook.Delta{First: 11, Last: 11, Bids: []orderbook.Level{level(100, 0), level(99, 2)}}))
	require.NoError(t, s.Delta("ETH/USDT", orderbook.Delta{First: 6, Last: 6, Bids: []orderbook.Level{level(51, 1)}}))
	require.NoError(t, s.Delta("BTC/USDT", orderbook.Delta{First: 12, Last: 12, Asks: []orderbook.Level{level(102, 3)}}))

	book, err := s.LastBook("BTC/USDT", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(12), book.Nonce)
	require.Len(t, book.Bids, 2)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(99)))
	assert.True(t, book.Bids[1].Price.Equal(decimal.NewFromInt(98)))
	assert.Len(t, book.Asks, 2)

	// nothing after an invalidation is trusted
	require.NoError(t, s.Invalidate("BTC/USDT", 12))
	require.NoError(t, s.Delta("BTC/USDT", orderbook.Delta{First: 20, Last: 20, Bids: []orderbook.Level{level(97, 1)}}))
	book, err = s.LastBook("BTC/USDT", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(12), book.Nonce)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(99)))
}

func TestWALStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	s := newStore(t, dir)
	require.NoError(t, s.Snapshot(orderbook.Snapshot{Symbol: "BTC/USDT", Nonce: 1}))
	require.NoError(t, s.Delta("BTC/USDT", orderbook.Delta{Last: 2}))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.CurrentIndex())
	records, err := reopened.RecordsAfter(0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestWALStore_Uninitialized(t *testing.T) {
	var s *WALStore

	assert.Error(t, s.Save(Record{Symbol: "BTC/USDT"}))
	_, err := s.RecordsAfter(0)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), s.CurrentIndex())
	assert.Error(t, s.Close())
}
