// Package orderbook maintains incrementally updated order books: sorted price
// sides, snapshot/delta sequencing with gap detection, and a per-session registry.
package orderbook

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Level is a single price level. Count is the number of resting orders for
// exchanges that publish it; zero otherwise.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Count int64           `json:"count,omitempty"`
}

// ParseLevel builds a level from the string pair most exchanges publish.
func ParseLevel(price, size string) (Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Level{}, errors.Wrapf(err, "parse price %q", price)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return Level{}, errors.Wrapf(err, "parse size %q", size)
	}
	if p.IsNegative() || s.IsNegative() {
		return Level{}, errors.Errorf("negative level %s@%s", size, price)
	}

	return Level{Price: p, Size: s}, nil
}

// ParseLevels parses [price, size, ...] string tuples.
func ParseLevels(pairs [][]string) ([]Level, error) {
	out := make([]Level, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			return nil, errors.Errorf("malformed level %v", pair)
		}
		l, err := ParseLevel(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}

	return out, nil
}

// Side keeps levels sorted by price: descending for bids, ascending for asks.
// Sides are not safe for concurrent use; Book serializes access.
type Side struct {
	desc   bool
	depth  int
	levels []Level
}

// NewBids creates a bid side holding at most depth levels (0 is unbounded).
func NewBids(depth int) *Side {
	return &Side{desc: true, depth: depth}
}

// NewAsks creates an ask side holding at most depth levels (0 is unbounded).
func NewAsks(depth int) *Side {
	return &Side{depth: depth}
}

// before reports whether price a sorts ahead of price b on this side.
func (s *Side) before(a, b decimal.Decimal) bool {
	if s.desc {
		return a.GreaterThan(b)
	}

	return a.LessThan(b)
}

func (s *Side) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.before(s.levels[i].Price, price)
	})

	return i, i < len(s.levels) && s.levels[i].Price.Equal(price)
}

// Store sets the size at price. A zero size removes the level.
func (s *Side) Store(price, size decimal.Decimal) {
	s.StoreLevel(Level{Price: price, Size: size})
}

// StoreLevel inserts, replaces or, when size is zero, removes a level.
func (s *Side) StoreLevel(l Level) {
	i, found := s.search(l.Price)
	if l.Size.IsZero() {
		if found {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
		return
	}
	if found {
		s.levels[i] = l
		return
	}

	s.levels = append(s.levels, Level{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = l
}

// Reset replaces the side's content. Later duplicates of a price win and zero
// sizes are skipped.
func (s *Side) Reset(levels []Level) {
	s.levels = s.levels[:0]
	for _, l := range levels {
		s.StoreLevel(l)
	}
	s.trim()
}

// trim drops levels beyond the configured depth.
func (s *Side) trim() {
	if s.depth > 0 && len(s.levels) > s.depth {
		s.levels = s.levels[:s.depth]
	}
}

// Limit returns a copy of the best n levels; n <= 0 returns the whole side.
func (s *Side) Limit(n int) []Level {
	size := len(s.levels)
	if s.depth > 0 && size > s.depth {
		size = s.depth
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Level, n)
	copy(out, s.levels[:n])

	return out
}

// Best returns the top of the side.
func (s *Side) Best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}

	return s.levels[0], true
}

// Len returns the number of stored levels.
func (s *Side) Len() int {
	return len(s.levels)
}
