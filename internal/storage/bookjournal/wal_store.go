// Package bookjournal persists order-book snapshots, applied deltas and
// invalidations in a WAL so books can be inspected or rebuilt after the fact.
package bookjournal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

const (
	DefaultDir   = "./wal/books"
	segmentLimit = 1000
	maxSegments  = 10

	keyPrefix = "book_"
)

var ErrNoSnapshot = errors.New("no snapshot journaled")

// Kind of a journal record.
type Kind string

const (
	KindSnapshot   Kind = "snapshot"
	KindDelta      Kind = "delta"
	KindInvalidate Kind = "invalidate"
)

// Record is one journal entry. Index is filled in from the WAL on read.
type Record struct {
	Index  uint64            `json:"index"`
	ID     uuid.UUID         `json:"id"`
	Kind   Kind              `json:"kind"`
	Symbol string            `json:"symbol"`
	First  int64             `json:"first,omitempty"`
	Nonce  int64             `json:"nonce"`
	Time   time.Time         `json:"time"`
	Bids   []orderbook.Level `json:"bids,omitempty"`
	Asks   []orderbook.Level `json:"asks,omitempty"`
}

// WALStore is a WAL-backed order-book journal.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the journal in dir. syncDisk fsyncs every write.
func NewWALStore(dir string, syncDisk bool) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "book_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: syncDisk,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init book WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Snapshot journals a book reset.
func (s *WALStore) Snapshot(snap orderbook.Snapshot) error {
	return s.Save(Record{
		Kind:   KindSnapshot,
		Symbol: snap.Symbol,
		Nonce:  snap.Nonce,
		Time:   snap.Timestamp,
		Bids:   snap.Bids,
		Asks:   snap.Asks,
	})
}

// Delta journals a delta applied to symbol's book.
func (s *WALStore) Delta(symbol string, d orderbook.Delta) error {
	return s.Save(Record{
		Kind:   KindDelta,
		Symbol: symbol,
		First:  d.First,
		Nonce:  d.Last,
		Time:   d.Timestamp,
		Bids:   d.Bids,
		Asks:   d.Asks,
	})
}

// Invalidate journals that symbol's book stopped being trustworthy at nonce.
func (s *WALStore) Invalidate(symbol string, nonce int64) error {
	return s.Save(Record{Kind: KindInvalidate, Symbol: symbol, Nonce: nonce, Time: time.Now()})
}

// Save appends r under the next WAL index.
func (s *WALStore) Save(r Record) error {
	if s == nil || s.wal == nil {
		return errors.New("book journal is not initialized")
	}
	if r.Symbol == "" {
		return errors.New("book record symbol is required")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal book record")
	}
	key := fmt.Sprintf("%s%s_%s", keyPrefix, r.Kind, r.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// RecordsAfter returns every record written after index. Records rotated out
// of the WAL are skipped.
func (s *WALStore) RecordsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("book journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}

		var r Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, errors.Wrap(err, "decode book record")
		}
		r.Index = idx
		records = append(records, r)
	}

	return records, nil
}

// LastBook rebuilds symbol's book from its latest journaled snapshot and the
// deltas recorded after it, trimmed to depth levels per side.
func (s *WALStore) LastBook(symbol string, depth int) (orderbook.Snapshot, error) {
	records, err := s.RecordsAfter(0)
	if err != nil {
		return orderbook.Snapshot{}, err
	}

	start := -1
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Symbol == symbol && records[i].Kind == KindSnapshot {
			start = i
			break
		}
	}
	if start < 0 {
		return orderbook.Snapshot{}, errors.Wrapf(ErrNoSnapshot, "%s", symbol)
	}

	book := orderbook.NewBook(symbol, depth)
	snap := records[start]
	if err := book.Reset(orderbook.Snapshot{
		Symbol:    symbol,
		Nonce:     snap.Nonce,
		Timestamp: snap.Time,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
	}); err != nil {
		return orderbook.Snapshot{}, errors.Wrap(err, "reset from journal")
	}

	for _, r := range records[start+1:] {
		if r.Symbol != symbol {
			continue
		}
		if r.Kind == KindInvalidate {
			break
		}
		if r.Kind != KindDelta {
			continue
		}
		if _, err := book.Apply(orderbook.Delta{First: r.First, Last: r.Nonce, Timestamp: r.Time, Bids: r.Bids, Asks: r.Asks}); err != nil {
			return orderbook.Snapshot{}, errors.Wrap(err, "replay journal")
		}
	}

	return book.Limit(depth)
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("book journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
