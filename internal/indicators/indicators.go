// Package indicators computes the technical indicators referenced by
// condition-based scheduled alerts (spec §4.8): RSI, MACD, EMA, SMA,
// and Bollinger Bands via go-talib, plus Supertrend and VWAP built
// directly on gonum where talib has no equivalent. Every function
// reports insufficient data (nil, or ok=false for Supertrend and VWAP)
// rather than panicking,
// matching the teacher's formula-package convention.
package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

func isNaN(f float64) bool { return math.IsNaN(f) }

// RSI computes the Relative Strength Index over period, returning the
// most recent value or nil if closes is too short.
func RSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	out := talib.Rsi(closes, period)
	return lastValid(out)
}

// MACDResult holds the three series MACD produces.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes MACD/signal/histogram with the given periods.
func MACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(closes) < slowPeriod+signalPeriod {
		return nil
	}
	macd, signal, hist := talib.Macd(closes, fastPeriod, slowPeriod, signalPeriod)
	m, s, h := lastValid(macd), lastValid(signal), lastValid(hist)
	if m == nil || s == nil || h == nil {
		return nil
	}
	return &MACDResult{MACD: *m, Signal: *s, Histogram: *h}
}

// EMA computes the Exponential Moving Average over period.
func EMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	out := talib.Ema(closes, period)
	return lastValid(out)
}

// SMA computes the Simple Moving Average over period.
func SMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	out := talib.Sma(closes, period)
	return lastValid(out)
}

// BollingerBands holds the upper/middle/lower band values.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes Bollinger Bands over period with the given
// standard-deviation multiplier.
func Bollinger(closes []float64, period int, stdDev float64) *BollingerBands {
	if len(closes) < period {
		return nil
	}
	upper, middle, lower := talib.BBands(closes, period, stdDev, stdDev, talib.SMA)
	u, m, l := lastValid(upper), lastValid(middle), lastValid(lower)
	if u == nil || m == nil || l == nil {
		return nil
	}
	return &BollingerBands{Upper: *u, Middle: *m, Lower: *l}
}

func lastValid(series []float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !isNaN(series[i]) {
			v := series[i]
			return &v
		}
	}
	return nil
}
