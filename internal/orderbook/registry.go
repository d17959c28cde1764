package orderbook

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrBookNotFound is returned for symbols without a registered book.
var ErrBookNotFound = errors.New("order book not found")

// Registry owns the books of one session, keyed by unified symbol.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*Book)}
}

// Ensure returns the book for symbol, creating it when missing. created reports
// whether this call created it.
func (r *Registry) Ensure(symbol string, depth int) (book *Book, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.books[symbol]; ok {
		return b, false
	}
	b := NewBook(symbol, depth)
	r.books[symbol] = b

	return b, true
}

// Replace installs a fresh book for symbol, dropping the previous one.
func (r *Registry) Replace(symbol string, depth int) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := NewBook(symbol, depth)
	r.books[symbol] = b

	return b
}

// Get returns the book for symbol.
func (r *Registry) Get(symbol string) (*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.books[symbol]
	if !ok {
		return nil, errors.Wrap(ErrBookNotFound, symbol)
	}

	return b, nil
}

// Delete removes the book for symbol. In-flight snapshot loads for it will see
// Owns return false.
func (r *Registry) Delete(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.books, symbol)
}

// Owns reports whether book is still the registered book for symbol.
func (r *Registry) Owns(symbol string, book *Book) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.books[symbol] == book
}

// Symbols lists registered symbols in lexical order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)

	return out
}
