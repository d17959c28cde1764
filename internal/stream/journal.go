package stream

import (
	"github.com/vadiminshakov/marketstream/internal/orderbook"
)

// Journal receives order-book activity of a session. Errors are logged by the
// session and never interrupt book maintenance.
type Journal interface {
	Snapshot(snap orderbook.Snapshot) error
	Delta(symbol string, d orderbook.Delta) error
	Invalidate(symbol string, nonce int64) error
}

type nopJournal struct{}

func (nopJournal) Snapshot(orderbook.Snapshot) error   { return nil }
func (nopJournal) Delta(string, orderbook.Delta) error { return nil }
func (nopJournal) Invalidate(string, int64) error      { return nil }
