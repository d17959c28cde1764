// Package indicators summarizes candle series with EMA, RSI and ATR.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/marketstream/internal/domain"
)

const neutralRSI = 50

// Summary holds the latest indicator values of a candle series.
type Summary struct {
	Close decimal.Decimal
	EMA   decimal.Decimal
	RSI   decimal.Decimal
	ATR   decimal.Decimal
}

// EMA calculates the Exponential Moving Average for the given period.
func EMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if period <= 0 || len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := ema.Compute(helper.SliceToChan(decimalsToFloat64(closes)))

	return float64ToDecimals(helper.ChanToSlice(out)), nil
}

// RSI calculates the Relative Strength Index for the given period.
func RSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if period <= 0 || len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	values := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(decimalsToFloat64(closes))))
	for i, v := range values {
		// no gains and no losses over the window: 0/0
		if math.IsNaN(v) {
			values[i] = neutralRSI
		}
	}

	return float64ToDecimals(values), nil
}

// ATR calculates the Average True Range for the given period.
func ATR(candles []domain.OHLCV, period int) ([]decimal.Decimal, error) {
	if period <= 0 || len(candles) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(candles))
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	out := atr.Compute(helper.SliceToChan(highs), helper.SliceToChan(lows), helper.SliceToChan(closes))

	return float64ToDecimals(helper.ChanToSlice(out)), nil
}

// Summarize returns the last EMA, RSI and ATR over candles. Candles are
// expected oldest first, as the OHLCV cache keeps them.
func Summarize(candles []domain.OHLCV, period int) (Summary, error) {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema, err := EMA(closes, period)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to calculate EMA%d: %w", period, err)
	}
	rsi, err := RSI(closes, period)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to calculate RSI%d: %w", period, err)
	}
	atr, err := ATR(candles, period)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to calculate ATR%d: %w", period, err)
	}

	return Summary{
		Close: closes[len(closes)-1],
		EMA:   last(ema),
		RSI:   last(rsi),
		ATR:   last(atr),
	}, nil
}

func last(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	return values[len(values)-1]
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals drops NaN and infinite values, which decimal cannot hold.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, 0, len(floats))
	for _, f := range floats {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		result = append(result, decimal.NewFromFloat(f))
	}
	return result
}
