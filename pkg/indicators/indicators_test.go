package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/marketstream/internal/domain"
)

func flatCandles(n int) []domain.OHLCV {
	candles := make([]domain.OHLCV, n)
	start := time.Unix(1700000000, 0)
	for i := range candles {
		candles[i] = domain.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(101),
			Low:       decimal.NewFromInt(99),
			Close:     decimal.NewFromInt(100),
			Volume:    decimal.NewFromInt(1),
		}
	}
	return candles
}

func TestEMAConstantSeries(t *testing.T) {
	closes := make([]decimal.Decimal, 10)
	for i := range closes {
		closes[i] = decimal.NewFromInt(5)
	}

	ema, err := EMA(closes, 3)
	require.NoError(t, err)
	require.NotEmpty(t, ema)
	f, _ := last(ema).Float64()
	assert.InDelta(t, 5.0, f, 1e-9)
}

func TestNotEnoughData(t *testing.T) {
	_, err := EMA([]decimal.Decimal{decimal.NewFromInt(1)}, 3)
	assert.Error(t, err)

	_, err = RSI(make([]decimal.Decimal, 3), 3)
	assert.Error(t, err)

	_, err = ATR(flatCandles(3), 3)
	assert.Error(t, err)

	_, err = Summarize(flatCandles(2), 3)
	assert.Error(t, err)
}

func TestSummarizeFlat(t *testing.T) {
	s, err := Summarize(flatCandles(30), 5)
	require.NoError(t, err)

	assert.True(t, s.Close.Equal(decimal.NewFromInt(100)))
	ema, _ := s.EMA.Float64()
	assert.InDelta(t, 100.0, ema, 1e-9)
	atr, _ := s.ATR.Float64()
	assert.InDelta(t, 2.0, atr, 1e-9)
	// closes never move, so the RSI has nothing to weigh
	assert.True(t, s.RSI.Equal(decimal.NewFromInt(50)), "rsi %s", s.RSI)
}

func TestFloat64ToDecimalsSkipsNonFinite(t *testing.T) {
	got := float64ToDecimals([]float64{1.5, math.NaN(), math.Inf(1), math.Inf(-1), 2})

	require.Len(t, got, 2)
	assert.Equal(t, "1.5", got[0].String())
	assert.Equal(t, "2", got[1].String())
}
