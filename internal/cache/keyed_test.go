package cache

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	symbol string
	id     string
	status string
	fee    string
}

func orderKey(o order) (string, string) { return o.symbol, o.id }

func mergeOrder(prev, next order) order {
	if next.fee == "" {
		next.fee = prev.fee
	}
	return next
}

func TestKeyed_BySymbolByID(t *testing.T) {
	c := NewBySymbolByID[order](10, orderKey, mergeOrder)

	c.Append(order{symbol: "BTC/USDT", id: "1", status: "open", fee: "0.1"})
	c.Append(order{symbol: "BTC/USDT", id: "2", status: "open"})
	stored := c.Append(order{symbol: "BTC/USDT", id: "1", status: "closed"})

	assert.Equal(t, "0.1", stored.fee, "fee carried forward")
	require.Equal(t, 2, c.Len())

	items := c.Items()
	assert.Equal(t, "2", items[0].id)
	assert.Equal(t, "1", items[1].id, "re-updated order moves to the tail")

	got, ok := c.Get("BTC/USDT", "1")
	require.True(t, ok)
	assert.Equal(t, "closed", got.status)

	_, ok = c.Get("BTC/USDT", "3")
	assert.False(t, ok)
}

func TestKeyed_EvictionDropsIndex(t *testing.T) {
	c := NewBySymbolByID[order](2, orderKey, nil)
	c.Append(order{symbol: "BTC/USDT", id: "1"})
	c.Append(order{symbol: "ETH/USDT", id: "2"})
	c.Append(order{symbol: "ETH/USDT", id: "3"})

	_, ok := c.Get("BTC/USDT", "1")
	assert.False(t, ok)
	assert.Empty(t, c.BySymbol("BTC/USDT"))
	assert.Len(t, c.BySymbol("ETH/USDT"), 2)
}

func TestKeyed_BySymbolBySide(t *testing.T) {
	type position struct {
		symbol, side string
		contracts    int
	}
	c := NewBySymbolBySide[position](10, func(p position) (string, string) { return p.symbol, p.side })

	c.Append(position{"BTC/USDT:USDT", "long", 1})
	c.Append(position{"BTC/USDT:USDT", "short", 2})
	c.Append(position{"BTC/USDT:USDT", "long", 3})

	require.Equal(t, 2, c.Len())
	long, ok := c.Get("BTC/USDT:USDT", "long")
	require.True(t, ok)
	assert.Equal(t, 3, long.contracts)
	assert.Equal(t, 2, c.NewUpdates("BTC/USDT:USDT", 0))
}

func TestKeyed_BySymbol(t *testing.T) {
	c := NewBySymbol[tick](10, tickSymbol)
	c.Append(tick{"BTC/USDT", 1})
	c.Append(tick{"BTC/USDT", 2})
	c.Append(tick{"ETH/USDT", 3})

	got, ok := c.Get("BTC/USDT", "")
	require.True(t, ok)
	assert.Equal(t, 2, got.seq)
	assert.Equal(t, 2, c.Len())

	c.RemoveSymbol("BTC/USDT")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []tick{{"ETH/USDT", 3}}, c.Items())
}

func TestKeyed_NewUpdatesCountsDistinctKeys(t *testing.T) {
	c := NewBySymbolByID[order](10, orderKey, nil)
	c.Append(order{symbol: "BTC/USDT", id: "1"})
	c.Append(order{symbol: "BTC/USDT", id: "1"})
	c.Append(order{symbol: "ETH/USDT", id: "2"})

	assert.Equal(t, 1, c.NewUpdates("BTC/USDT", 0))
	assert.Equal(t, 2, c.NewUpdates("", 0))
	assert.Equal(t, 5, c.NewUpdates("SOL/USDT", 5))
}

func TestKeyed_RandomizedConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	const limit = 16
	c := NewBySymbolByID[order](limit, orderKey, nil)

	for step := 0; step < 5000; step++ {
		if rng.Intn(50) == 0 {
			c.RemoveSymbol(symbols[rng.Intn(len(symbols))])
		} else {
			c.Append(order{
				symbol: symbols[rng.Intn(len(symbols))],
				id:     fmt.Sprint(rng.Intn(40)),
			})
		}
		assertKeyedConsistent(t, c, limit)
	}
}

func assertKeyedConsistent(t *testing.T, c *Keyed[order], limit int) {
	t.Helper()

	c.mu.RLock()
	defer c.mu.RUnlock()

	require.LessOrEqual(t, c.seq.Len(), limit)

	indexed := 0
	for symbol, subs := range c.index {
		require.NotEmpty(t, subs, "empty symbol bucket %s", symbol)
		for sub, e := range subs {
			entry := e.Value.(keyedEntry[order])
			require.Equal(t, Key{Symbol: symbol, Sub: sub}, entry.key)
			indexed++
		}
	}

	seen := make(map[Key]bool)
	for e := c.seq.Front(); e != nil; e = e.Next() {
		entry := e.Value.(keyedEntry[order])
		require.False(t, seen[entry.key], "duplicate key %v in sequence", entry.key)
		seen[entry.key] = true
		require.Same(t, e, c.index[entry.key.Symbol][entry.key.Sub])
	}
	require.Equal(t, indexed, c.seq.Len())
}
