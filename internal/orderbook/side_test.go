package orderbook

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(price, size float64) Level {
	return Level{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func prices(levels []Level) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}

func TestSide_Store(t *testing.T) {
	tests := []struct {
		name   string
		side   *Side
		stores []Level
		want   []string
	}{
		{
			name:   "bids descending",
			side:   NewBids(0),
			stores: []Level{lvl(100, 1), lvl(102, 1), lvl(101, 1)},
			want:   []string{"102", "101", "100"},
		},
		{
			name:   "asks ascending",
			side:   NewAsks(0),
			stores: []Level{lvl(100, 1), lvl(102, 1), lvl(101, 1)},
			want:   []string{"100", "101", "102"},
		},
		{
			name:   "zero size deletes",
			side:   NewAsks(0),
			stores: []Level{lvl(100, 1), lvl(101, 1), lvl(100, 0)},
			want:   []string{"101"},
		},
		{
			name:   "zero size on missing price is a no-op",
			side:   NewBids(0),
			stores: []Level{lvl(100, 1), lvl(99, 0)},
			want:   []string{"100"},
		},
		{
			name:   "replace keeps one level",
			side:   NewBids(0),
			stores: []Level{lvl(100, 1), lvl(100, 3)},
			want:   []string{"100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, l := range tt.stores {
				tt.side.StoreLevel(l)
			}
			assert.Equal(t, tt.want, prices(tt.side.Limit(0)))
		})
	}
}

func TestSide_LimitAndDepth(t *testing.T) {
	s := NewAsks(3)
	s.Reset([]Level{lvl(5, 1), lvl(1, 1), lvl(4, 1), lvl(2, 1), lvl(3, 1)})

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"1", "2"}, prices(s.Limit(2)))
	assert.Equal(t, []string{"1", "2", "3"}, prices(s.Limit(10)))

	best, ok := s.Best()
	require.True(t, ok)
	assert.Equal(t, "1", best.Price.String())

	view := s.Limit(1)
	view[0].Size = decimal.NewFromInt(42)
	best, _ = s.Best()
	assert.Equal(t, "1", best.Size.String(), "limit returns a copy")
}

func TestSide_RandomizedOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, side := range []*Side{NewBids(0), NewAsks(0)} {
		for step := 0; step < 5000; step++ {
			price := decimal.NewFromInt(int64(rng.Intn(200))).Div(decimal.NewFromInt(4))
			size := decimal.Zero
			if rng.Intn(3) > 0 {
				size = decimal.NewFromInt(int64(rng.Intn(10)))
			}
			side.Store(price, size)

			levels := side.Limit(0)
			for i, l := range levels {
				require.True(t, l.Size.IsPositive(), "zero-size level at %s", l.Price)
				if i == 0 {
					continue
				}
				if side.desc {
					require.True(t, levels[i-1].Price.GreaterThan(l.Price))
				} else {
					require.True(t, levels[i-1].Price.LessThan(l.Price))
				}
			}
		}
	}
}

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels([][]string{{"100.5", "2"}, {"99", "0"}})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, levels[1].Size.IsZero())

	_, err = ParseLevels([][]string{{"100"}})
	assert.Error(t, err)
	_, err = ParseLevels([][]string{{"abc", "1"}})
	assert.Error(t, err)
	_, err = ParseLevels([][]string{{"100", "-1"}})
	assert.Error(t, err)
}
