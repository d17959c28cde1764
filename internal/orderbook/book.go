package orderbook

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNonceGap reports a delta that does not continue the book's sequence.
	ErrNonceGap = errors.New("order book sequence gap")
	// ErrSnapshotBehind reports a snapshot older than the buffered deltas can bridge.
	ErrSnapshotBehind = errors.New("order book snapshot is behind buffered updates")
	// ErrStaleSnapshot reports an unsequenced snapshot older than the synced book.
	ErrStaleSnapshot = errors.New("order book snapshot is older than the book")
	// ErrNotSynced is returned when reading a book that has no valid snapshot.
	ErrNotSynced = errors.New("order book is not synced")
)

const maxBufferedDeltas = 1000

// State is the lifecycle stage of a book.
type State int

const (
	// StateBuffering: created, deltas are queued until a snapshot lands.
	StateBuffering State = iota
	// StateSynced: snapshot applied, deltas are applied in sequence.
	StateSynced
	// StateInvalidated: a gap was seen; deltas are queued until a fresh snapshot.
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateSynced:
		return "synced"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Outcome says what Apply did with a delta.
type Outcome int

const (
	Buffered Outcome = iota
	Stale
	Applied
	Gap
)

func (o Outcome) String() string {
	switch o {
	case Buffered:
		return "buffered"
	case Stale:
		return "stale"
	case Applied:
		return "applied"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}

// Snapshot is a full point-in-time view of a book. It is also the read view
// handed to watchers.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Nonce     int64     `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
}

// Delta is an incremental update covering sequence numbers First..Last.
// First == 0 means the delta carries a single sequence number; Last == 0 means
// the exchange does not sequence its updates and only timestamps order them.
type Delta struct {
	First     int64
	Last      int64
	Timestamp time.Time
	Bids      []Level
	Asks      []Level
}

func (d Delta) normalized() Delta {
	if d.First == 0 {
		d.First = d.Last
	}

	return d
}

func (d Delta) sequenced() bool {
	return d.Last != 0
}

// Book is an order book built from a snapshot plus a delta stream.
type Book struct {
	mu        sync.RWMutex
	symbol    string
	depth     int
	bids      *Side
	asks      *Side
	nonce     int64
	timestamp time.Time
	state     State
	buffer    []Delta
	maxBuffer int
}

// NewBook creates an empty buffering book. depth is the default view size
// (0 is the whole book); the sides themselves keep every level, since a level
// below the view can move into it once the levels above are removed.
func NewBook(symbol string, depth int) *Book {
	return &Book{
		symbol:    symbol,
		depth:     depth,
		bids:      NewBids(0),
		asks:      NewAsks(0),
		maxBuffer: maxBufferedDeltas,
	}
}

// Symbol returns the unified symbol of the book.
func (b *Book) Symbol() string { return b.symbol }

// Depth returns the default view size.
func (b *Book) Depth() int { return b.depth }

// State returns the book's lifecycle stage.
func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.state
}

// Nonce returns the sequence number of the last applied update.
func (b *Book) Nonce() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.nonce
}

// Timestamp returns the time of the last applied update.
func (b *Book) Timestamp() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.timestamp
}

// Buffered returns the number of queued deltas.
func (b *Book) Buffered() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.buffer)
}

// Buffer queues a delta for replay after the next snapshot.
func (b *Book) Buffer(d Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.push(d.normalized())
}

func (b *Book) push(d Delta) {
	b.buffer = append(b.buffer, d)
	if len(b.buffer) > b.maxBuffer {
		// the dropped delta shows up as a gap during replay
		b.buffer = b.buffer[len(b.buffer)-b.maxBuffer:]
	}
}

// Invalidate marks the book unusable until the next snapshot.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateInvalidated
}

// Reset loads snap and replays the buffered deltas newer than it, each once.
// ErrSnapshotBehind and ErrStaleSnapshot leave the book and its buffer untouched;
// ErrNonceGap means a replayed delta did not connect and the book is invalidated again.
func (b *Book) Reset(snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// without sequence numbers only the time tells two full books apart
	if snap.Nonce == 0 && b.nonce == 0 && b.state == StateSynced &&
		!snap.Timestamp.IsZero() && snap.Timestamp.Before(b.timestamp) {
		return errors.Wrapf(ErrStaleSnapshot, "%s: snapshot at %s, book at %s", b.symbol, snap.Timestamp, b.timestamp)
	}

	if len(b.buffer) > 0 && snap.Nonce != 0 {
		first := b.buffer[0]
		if first.sequenced() && first.First > snap.Nonce+1 {
			return errors.Wrapf(ErrSnapshotBehind, "%s: snapshot %d, oldest buffered update %d",
				b.symbol, snap.Nonce, first.First)
		}
	}

	b.bids.Reset(snap.Bids)
	b.asks.Reset(snap.Asks)
	b.nonce = snap.Nonce
	b.timestamp = snap.Timestamp
	b.state = StateSynced

	pending := b.buffer
	b.buffer = nil
	for i, d := range pending {
		if _, err := b.apply(d); err != nil {
			// the gap delta is already requeued; keep what followed it
			for _, rest := range pending[i+1:] {
				b.push(rest)
			}
			return err
		}
	}

	return nil
}

// Apply applies a delta to a synced book and buffers it otherwise.
func (b *Book) Apply(d Delta) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d = d.normalized()
	if b.state != StateSynced {
		b.push(d)
		return Buffered, nil
	}

	return b.apply(d)
}

func (b *Book) apply(d Delta) (Outcome, error) {
	if !d.sequenced() || b.nonce == 0 {
		if !d.Timestamp.IsZero() && d.Timestamp.Before(b.timestamp) {
			return Stale, nil
		}
		b.store(d)
		if d.sequenced() {
			b.nonce = d.Last
		}
		return Applied, nil
	}

	if d.Last <= b.nonce {
		return Stale, nil
	}
	if d.First > b.nonce+1 {
		expected := b.nonce + 1
		b.state = StateInvalidated
		b.buffer = []Delta{d}
		return Gap, errors.Wrapf(ErrNonceGap, "%s: expected %d, got %d..%d", b.symbol, expected, d.First, d.Last)
	}

	b.store(d)
	b.nonce = d.Last

	return Applied, nil
}

func (b *Book) store(d Delta) {
	for _, l := range d.Bids {
		b.bids.StoreLevel(l)
	}
	for _, l := range d.Asks {
		b.asks.StoreLevel(l)
	}
	if d.Timestamp.After(b.timestamp) {
		b.timestamp = d.Timestamp
	}
}

// Limit returns a copy of the best n levels per side (n <= 0 is everything)
// and leaves the book itself untouched. Books that are not synced are never served.
func (b *Book) Limit(n int) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.state != StateSynced {
		return Snapshot{}, errors.Wrapf(ErrNotSynced, "%s is %s", b.symbol, b.state)
	}

	return Snapshot{
		Symbol:    b.symbol,
		Nonce:     b.nonce,
		Timestamp: b.timestamp,
		Bids:      b.bids.Limit(n),
		Asks:      b.asks.Limit(n),
	}, nil
}
