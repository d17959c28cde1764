package cache

import (
	"container/list"
	"sync"
)

// ByTimestamp keeps candles: an item whose timestamp is already cached replaces
// the stored one in place, so a still-forming candle does not grow the cache.
type ByTimestamp[T any] struct {
	mu      sync.RWMutex
	items   *list.List
	index   map[int64]*list.Element
	limit   int
	tsOf    func(T) int64
	touched map[int64]struct{}
	clear   bool
}

// NewByTimestamp creates a candle cache keyed by tsOf.
func NewByTimestamp[T any](limit int, tsOf func(T) int64) *ByTimestamp[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &ByTimestamp[T]{
		items:   list.New(),
		index:   make(map[int64]*list.Element),
		limit:   limit,
		tsOf:    tsOf,
		touched: make(map[int64]struct{}),
	}
}

// Append inserts or replaces the candle for item's timestamp.
func (c *ByTimestamp[T]) Append(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.tsOf(item)
	if e, ok := c.index[ts]; ok {
		e.Value = item
	} else {
		c.index[ts] = c.items.PushBack(item)
		if c.items.Len() > c.limit {
			oldest := c.items.Front()
			delete(c.index, c.tsOf(oldest.Value.(T)))
			c.items.Remove(oldest)
		}
	}

	if c.clear {
		c.touched = make(map[int64]struct{})
		c.clear = false
	}
	c.touched[ts] = struct{}{}
}

// Items returns a copy of the cached candles, oldest first.
func (c *ByTimestamp[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return collect[T](c.items, 0)
}

// Last returns up to n newest candles, oldest first.
func (c *ByTimestamp[T]) Last(n int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return collect[T](c.items, n)
}

// Len returns the number of cached candles.
func (c *ByTimestamp[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.items.Len()
}

// NewUpdates returns the number of distinct candles touched since the previous call.
func (c *ByTimestamp[T]) NewUpdates(limit int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.touched)
	c.clear = true

	return clampUpdates(n, true, limit)
}
