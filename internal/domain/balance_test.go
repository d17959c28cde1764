package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalances_Merge(t *testing.T) {
	balances := NewBalances()
	balances.Merge(Balances{
		Timestamp: time.UnixMilli(1000),
		Currencies: map[string]Balance{
			"USDT": {Free: Dec(decimal.NewFromInt(100)), Used: Dec(decimal.NewFromInt(20)), Total: Dec(decimal.NewFromInt(120))},
			"BTC":  {Free: Dec(decimal.NewFromInt(1))},
		},
	})

	t.Run("only present fields are replaced", func(t *testing.T) {
		balances.Merge(Balances{
			Timestamp:  time.UnixMilli(2000),
			Currencies: map[string]Balance{"USDT": {Used: Dec(decimal.NewFromInt(50))}},
		})

		usdt := balances.Currencies["USDT"]
		require.NotNil(t, usdt.Free)
		assert.True(t, usdt.Free.Equal(decimal.NewFromInt(100)))
		assert.True(t, usdt.Used.Equal(decimal.NewFromInt(50)))
		// total is derived again from free and used
		assert.True(t, usdt.Total.Equal(decimal.NewFromInt(150)))
		assert.Equal(t, time.UnixMilli(2000), balances.Timestamp)
	})

	t.Run("untouched currencies survive", func(t *testing.T) {
		btc := balances.Currencies["BTC"]
		require.NotNil(t, btc.Free)
		assert.True(t, btc.Free.Equal(decimal.NewFromInt(1)))
		assert.Nil(t, btc.Total)
	})

	t.Run("older update does not move timestamp back", func(t *testing.T) {
		balances.Merge(Balances{
			Timestamp:  time.UnixMilli(1500),
			Currencies: map[string]Balance{"ETH": {Total: Dec(decimal.NewFromInt(3))}},
		})
		assert.Equal(t, time.UnixMilli(2000), balances.Timestamp)
		assert.True(t, balances.Currencies["ETH"].Total.Equal(decimal.NewFromInt(3)))
	})
}

func TestBalances_Clone(t *testing.T) {
	balances := NewBalances()
	balances.Merge(Balances{Currencies: map[string]Balance{"USDT": {Free: Dec(decimal.NewFromInt(1))}}})

	clone := balances.Clone()
	balances.Merge(Balances{Currencies: map[string]Balance{"USDT": {Free: Dec(decimal.NewFromInt(2))}}})

	assert.True(t, clone.Currencies["USDT"].Free.Equal(decimal.NewFromInt(1)))
}
