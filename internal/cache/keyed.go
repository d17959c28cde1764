package cache

import (
	"container/list"
	"sync"
)

// Key addresses an entry of a keyed cache: the symbol plus an optional sub-key
// (order id, position side).
type Key struct {
	Symbol string
	Sub    string
}

// Keyed is a bounded sequence with a secondary index by Key. Appending an item
// whose key is cached merges it into the previous one and moves it to the tail;
// eviction removes the head from the sequence and from the index together.
type Keyed[T any] struct {
	mu      sync.RWMutex
	seq     *list.List
	index   map[string]map[string]*list.Element
	limit   int
	keyOf   func(T) Key
	merge   func(prev, next T) T
	updates keySet
}

// NewBySymbol keeps one entry per symbol (tickers).
func NewBySymbol[T any](limit int, symbolOf func(T) string) *Keyed[T] {
	return newKeyed(limit, func(item T) Key {
		return Key{Symbol: symbolOf(item)}
	}, nil)
}

// NewBySymbolByID keeps one entry per (symbol, id), e.g. orders. merge may be nil.
func NewBySymbolByID[T any](limit int, keyOf func(T) (symbol, id string), merge func(prev, next T) T) *Keyed[T] {
	return newKeyed(limit, func(item T) Key {
		symbol, id := keyOf(item)
		return Key{Symbol: symbol, Sub: id}
	}, merge)
}

// NewBySymbolBySide keeps one entry per (symbol, side): long and short positions
// of a hedge-mode account are distinct.
func NewBySymbolBySide[T any](limit int, keyOf func(T) (symbol, side string)) *Keyed[T] {
	return newKeyed(limit, func(item T) Key {
		symbol, side := keyOf(item)
		return Key{Symbol: symbol, Sub: side}
	}, nil)
}

func newKeyed[T any](limit int, keyOf func(T) Key, merge func(prev, next T) T) *Keyed[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Keyed[T]{
		seq:     list.New(),
		index:   make(map[string]map[string]*list.Element),
		limit:   limit,
		keyOf:   keyOf,
		merge:   merge,
		updates: newKeySet(),
	}
}

type keyedEntry[T any] struct {
	key  Key
	item T
}

// Append inserts or updates item and returns the stored (possibly merged) value.
func (c *Keyed[T]) Append(item T) T {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.keyOf(item)
	if prev, exists := c.index[key.Symbol][key.Sub]; exists {
		if c.merge != nil {
			item = c.merge(prev.Value.(keyedEntry[T]).item, item)
		}
		c.seq.Remove(prev)
	} else if c.seq.Len() >= c.limit {
		c.evictOldest()
	}

	subs, ok := c.index[key.Symbol]
	if !ok {
		subs = make(map[string]*list.Element)
		c.index[key.Symbol] = subs
	}
	subs[key.Sub] = c.seq.PushBack(keyedEntry[T]{key: key, item: item})
	c.updates.record(key)

	return item
}

func (c *Keyed[T]) evictOldest() {
	oldest := c.seq.Front()
	if oldest == nil {
		return
	}
	key := oldest.Value.(keyedEntry[T]).key
	c.seq.Remove(oldest)
	c.unindex(key)
}

func (c *Keyed[T]) unindex(key Key) {
	subs := c.index[key.Symbol]
	delete(subs, key.Sub)
	if len(subs) == 0 {
		delete(c.index, key.Symbol)
	}
}

// Get returns the current entry for (symbol, sub).
func (c *Keyed[T]) Get(symbol, sub string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.index[symbol][sub]; ok {
		return e.Value.(keyedEntry[T]).item, true
	}
	var zero T

	return zero, false
}

// BySymbol returns the current entries of one symbol in sequence order.
func (c *Keyed[T]) BySymbol(symbol string) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := c.index[symbol]
	out := make([]T, 0, len(subs))
	for e := c.seq.Front(); e != nil && len(out) < len(subs); e = e.Next() {
		entry := e.Value.(keyedEntry[T])
		if entry.key.Symbol == symbol {
			out = append(out, entry.item)
		}
	}

	return out
}

// Items returns every entry, oldest update first.
func (c *Keyed[T]) Items() []T {
	return c.Last(0)
}

// Last returns up to n most recently updated entries, oldest first.
func (c *Keyed[T]) Last(n int) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	size := c.seq.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]T, n)
	i := n - 1
	for e := c.seq.Back(); e != nil && i >= 0; e = e.Prev() {
		out[i] = e.Value.(keyedEntry[T]).item
		i--
	}

	return out
}

// Len returns the number of entries.
func (c *Keyed[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.seq.Len()
}

// NewUpdates returns the number of distinct keys updated since the previous call
// for symbol ("" for all), capped by limit when limit > 0.
func (c *Keyed[T]) NewUpdates(symbol string, limit int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.updates.take(symbol, limit)
}

// RemoveSymbol drops every entry of symbol.
func (c *Keyed[T]) RemoveSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.index[symbol] {
		c.seq.Remove(e)
	}
	delete(c.index, symbol)
	c.updates.forget(symbol)
}
