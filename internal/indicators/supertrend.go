package indicators

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Candle is the OHLCV bar shape Supertrend and VWAP consume; callers
// build these from the tick history the alert engine retains per
// symbol.
type Candle struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Supertrend computes an ATR-based trend band from the last candle
// only: ATR is the simple mean of the last period true ranges, the
// bands are the last candle's (high+low)/2 plus/minus multiplier*ATR,
// and the trend is up when the last close is above the upper band
// (the lower band is then returned as level; otherwise the upper
// band). Earlier bands are not carried forward, so this is not the
// recursive final-band Supertrend. go-talib has no Supertrend
// primitive, so the ATR leg is computed directly with gonum/floats.
func Supertrend(candles []Candle, period int, multiplier float64) (level float64, uptrend bool, ok bool) {
	if len(candles) < period+1 {
		return 0, false, false
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := floats.Max([]float64{
			c.High - c.Low,
			math.Abs(c.High - prevClose),
			math.Abs(c.Low - prevClose),
		})
		trueRanges = append(trueRanges, tr)
	}

	atr := rollingMean(trueRanges, period)
	if atr == nil {
		return 0, false, false
	}

	last := candles[len(candles)-1]
	mid := (last.High + last.Low) / 2
	upperBand := mid + multiplier*(*atr)
	lowerBand := mid - multiplier*(*atr)

	if last.Close > upperBand {
		return lowerBand, true, true
	}
	return upperBand, false, true
}

// VWAP computes the volume-weighted average price across candles
// using gonum/floats for the weighted sum.
func VWAP(candles []Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	typicalPrices := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		typicalPrices[i] = (c.High + c.Low + c.Close) / 3
		volumes[i] = c.Volume
	}
	totalVolume := floats.Sum(volumes)
	if totalVolume == 0 {
		return 0, false
	}
	weighted := 0.0
	for i := range typicalPrices {
		weighted += typicalPrices[i] * volumes[i]
	}
	return weighted / totalVolume, true
}

func rollingMean(series []float64, period int) *float64 {
	if len(series) < period {
		return nil
	}
	window := series[len(series)-period:]
	mean := floats.Sum(window) / float64(period)
	return &mean
}
