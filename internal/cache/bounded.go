// Package cache provides the bounded append caches backing trade, candle, order
// and position streams.
//
// All caches evict FIFO once their limit is reached and hand out copies, so a
// reader never observes a cache while the connection goroutine mutates it.
package cache

import (
	"container/list"
	"sync"
)

// DefaultLimit is used when a cache is created with a non-positive limit.
const DefaultLimit = 1000

// Bounded is a fixed-capacity sequence ordered oldest to newest.
type Bounded[T any] struct {
	mu       sync.RWMutex
	items    *list.List
	limit    int
	symbolOf func(T) string
	updates  counter
}

// NewBounded creates a bounded cache. symbolOf is optional and enables
// per-symbol new-update tracking.
func NewBounded[T any](limit int, symbolOf func(T) string) *Bounded[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Bounded[T]{
		items:    list.New(),
		limit:    limit,
		symbolOf: symbolOf,
		updates:  newCounter(),
	}
}

// Append adds item to the tail, evicting the oldest entry on overflow.
func (c *Bounded[T]) Append(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.PushBack(item)
	if c.items.Len() > c.limit {
		c.items.Remove(c.items.Front())
	}

	var symbol string
	if c.symbolOf != nil {
		symbol = c.symbolOf(item)
	}
	c.updates.record(symbol, c.limit)
}

// Items returns a copy of the cached items, oldest first.
func (c *Bounded[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return collect[T](c.items, 0)
}

// Last returns up to n newest items, oldest first. n <= 0 returns everything.
func (c *Bounded[T]) Last(n int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return collect[T](c.items, n)
}

// Len returns the number of cached items.
func (c *Bounded[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.items.Len()
}

// Cap returns the configured capacity.
func (c *Bounded[T]) Cap() int {
	return c.limit
}

// NewUpdates returns how many items arrived since the previous call for the same
// symbol ("" for all symbols), capped by limit when limit > 0.
func (c *Bounded[T]) NewUpdates(symbol string, limit int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.updates.take(symbol, limit)
}

// Clear drops every item.
func (c *Bounded[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Init()
	c.updates = newCounter()
}

func collect[T any](l *list.List, n int) []T {
	size := l.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]T, n)
	i := n - 1
	for e := l.Back(); e != nil && i >= 0; e = e.Prev() {
		out[i] = e.Value.(T)
		i--
	}

	return out
}
