package cache

// counter tracks how many items were appended since a watcher last read them,
// globally and per symbol. A read arms a reset that the next append performs.
type counter struct {
	all        int
	clearAll   bool
	bySymbol   map[string]int
	clearBySym map[string]bool
}

func newCounter() counter {
	return counter{bySymbol: make(map[string]int), clearBySym: make(map[string]bool)}
}

func (c *counter) record(symbol string, max int) {
	if c.clearAll {
		c.all = 0
		c.clearAll = false
	}
	if c.all < max {
		c.all++
	}
	if symbol == "" {
		return
	}
	if c.clearBySym[symbol] {
		c.bySymbol[symbol] = 0
		delete(c.clearBySym, symbol)
	}
	if c.bySymbol[symbol] < max {
		c.bySymbol[symbol]++
	}
}

func (c *counter) take(symbol string, limit int) int {
	var n int
	var seen bool
	if symbol == "" {
		n, seen = c.all, true
		c.clearAll = true
	} else {
		n, seen = c.bySymbol[symbol]
		c.clearBySym[symbol] = true
	}

	return clampUpdates(n, seen, limit)
}

func (c *counter) forget(symbol string) {
	delete(c.bySymbol, symbol)
	delete(c.clearBySym, symbol)
}

// keySet tracks distinct keys touched since the last read; re-updating the same
// order twice counts once.
type keySet struct {
	all        map[Key]struct{}
	clearAll   bool
	bySymbol   map[string]map[string]struct{}
	clearBySym map[string]bool
}

func newKeySet() keySet {
	return keySet{
		all:        make(map[Key]struct{}),
		bySymbol:   make(map[string]map[string]struct{}),
		clearBySym: make(map[string]bool),
	}
}

func (s *keySet) record(key Key) {
	if s.clearAll {
		s.all = make(map[Key]struct{})
		s.clearAll = false
	}
	s.all[key] = struct{}{}

	if s.clearBySym[key.Symbol] {
		delete(s.bySymbol, key.Symbol)
		delete(s.clearBySym, key.Symbol)
	}
	subs, ok := s.bySymbol[key.Symbol]
	if !ok {
		subs = make(map[string]struct{})
		s.bySymbol[key.Symbol] = subs
	}
	subs[key.Sub] = struct{}{}
}

func (s *keySet) take(symbol string, limit int) int {
	if symbol == "" {
		s.clearAll = true
		return clampUpdates(len(s.all), true, limit)
	}
	subs, ok := s.bySymbol[symbol]
	s.clearBySym[symbol] = true

	return clampUpdates(len(subs), ok, limit)
}

func (s *keySet) forget(symbol string) {
	delete(s.bySymbol, symbol)
	delete(s.clearBySym, symbol)
	for key := range s.all {
		if key.Symbol == symbol {
			delete(s.all, key)
		}
	}
}

// clampUpdates: nothing tracked yet means the caller's limit stands.
func clampUpdates(n int, seen bool, limit int) int {
	if !seen {
		return limit
	}
	if limit > 0 && limit < n {
		return limit
	}

	return n
}
