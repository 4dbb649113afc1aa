package alerts

import (
	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/indicators"
)

// evalState carries the previous/current readings a condition needs
// to detect edge crossings; it is the in-memory mirror of
// ScheduledAlert's PrevLTP/LastLTP/PrevIndicator/LastIndicator fields.
type evalState struct {
	prevLTP float64
	lastLTP float64
	prev    map[string]float64
	last    map[string]float64
}

// window accumulates recent closes/candles per alert for the
// indicator-backed conditions; the engine keeps one per alert id.
type window struct {
	closes  []float64
	candles []indicators.Candle
}

const maxWindow = 210 // closes/candles kept per symbol; periods come from each alert's params

func (w *window) push(tick domain.Tick) {
	close := tick.LTP
	if tick.Close != 0 {
		close = tick.Close
	}
	w.closes = append(w.closes, close)
	if len(w.closes) > maxWindow {
		w.closes = w.closes[len(w.closes)-maxWindow:]
	}
	if tick.High != 0 || tick.Low != 0 {
		w.candles = append(w.candles, indicators.Candle{High: tick.High, Low: tick.Low, Close: close, Volume: float64(tick.Volume)})
		if len(w.candles) > maxWindow {
			w.candles = w.candles[len(w.candles)-maxWindow:]
		}
	}
}

// evaluate reports whether a's condition fires against the latest
// tick, and the (trigger, target) values to record in the resulting
// TriggerRecord. indicatorOut, when non-nil, is merged into the
// alert's LastIndicator snapshot for the next evaluation.
func evaluate(a *domain.ScheduledAlert, tick domain.Tick, w *window, state evalState) (fired bool, triggerValue, targetValue float64, indicatorOut map[string]float64) {
	p := a.Params

	switch a.Condition {
	case domain.ConditionGreaterThan:
		return tick.LTP > p.Level, tick.LTP, p.Level, nil
	case domain.ConditionLessThan:
		return tick.LTP < p.Level, tick.LTP, p.Level, nil
	case domain.ConditionCrossingUp:
		return state.lastLTP <= p.Level && tick.LTP > p.Level, tick.LTP, p.Level, nil
	case domain.ConditionCrossingDown:
		return state.lastLTP >= p.Level && tick.LTP < p.Level, tick.LTP, p.Level, nil
	case domain.ConditionCrossing:
		crossedUp := state.lastLTP <= p.Level && tick.LTP > p.Level
		crossedDown := state.lastLTP >= p.Level && tick.LTP < p.Level
		return crossedUp || crossedDown, tick.LTP, p.Level, nil
	case domain.ConditionEntering:
		inside := tick.LTP >= p.LowerBound && tick.LTP <= p.UpperBound
		wasInside := state.lastLTP >= p.LowerBound && state.lastLTP <= p.UpperBound
		return inside && !wasInside, tick.LTP, p.UpperBound, nil
	case domain.ConditionExiting:
		inside := tick.LTP >= p.LowerBound && tick.LTP <= p.UpperBound
		wasInside := state.lastLTP >= p.LowerBound && state.lastLTP <= p.UpperBound
		return !inside && wasInside, tick.LTP, p.LowerBound, nil
	case domain.ConditionInside:
		return tick.LTP >= p.LowerBound && tick.LTP <= p.UpperBound, tick.LTP, p.UpperBound, nil
	case domain.ConditionOutside:
		return tick.LTP < p.LowerBound || tick.LTP > p.UpperBound, tick.LTP, p.UpperBound, nil
	case domain.ConditionAbsoluteMove:
		move := tick.LTP - state.lastLTP
		if move < 0 {
			move = -move
		}
		return move >= p.Level, move, p.Level, nil
	case domain.ConditionPercentMove:
		if state.lastLTP == 0 {
			return false, 0, p.Level, nil
		}
		move := (tick.LTP - state.lastLTP) / state.lastLTP * 100
		if move < 0 {
			move = -move
		}
		return move >= p.Level, move, p.Level, nil

	case domain.ConditionRSICrossing:
		rsi := indicators.RSI(w.closes, p.Period)
		if rsi == nil {
			return false, 0, p.Level, nil
		}
		prevRSI, hadPrev := state.last["rsi"]
		fires := hadPrev && prevRSI <= p.Level && *rsi > p.Level
		return fires, *rsi, p.Level, map[string]float64{"rsi": *rsi}

	case domain.ConditionMACrossing:
		fast := indicators.EMA(w.closes, p.FastMAPeriod)
		slow := indicators.EMA(w.closes, p.SlowMAPeriod)
		if fast == nil || slow == nil {
			return false, 0, 0, nil
		}
		prevDiff, hadPrev := state.last["ma_diff"]
		diff := *fast - *slow
		fires := hadPrev && ((prevDiff <= 0 && diff > 0) || (prevDiff >= 0 && diff < 0))
		return fires, *fast, *slow, map[string]float64{"ma_diff": diff}

	case domain.ConditionPriceVsMA:
		ma := indicators.SMA(w.closes, p.Period)
		if ma == nil {
			return false, 0, 0, nil
		}
		return tick.LTP > *ma, tick.LTP, *ma, map[string]float64{"ma": *ma}

	case domain.ConditionMACDCrossing:
		res := indicators.MACD(w.closes, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		if res == nil {
			return false, 0, 0, nil
		}
		prevHist, hadPrev := state.last["macd_hist"]
		fires := hadPrev && ((prevHist <= 0 && res.Histogram > 0) || (prevHist >= 0 && res.Histogram < 0))
		return fires, res.MACD, res.Signal, map[string]float64{"macd_hist": res.Histogram}

	case domain.ConditionBollingerTouch:
		bb := indicators.Bollinger(w.closes, p.Period, p.StdDev)
		if bb == nil {
			return false, 0, 0, nil
		}
		touchedUpper := tick.LTP >= bb.Upper
		touchedLower := tick.LTP <= bb.Lower
		return touchedUpper || touchedLower, tick.LTP, bb.Upper, map[string]float64{"bb_upper": bb.Upper, "bb_lower": bb.Lower}

	case domain.ConditionBollingerBreak:
		bb := indicators.Bollinger(w.closes, p.Period, p.StdDev)
		if bb == nil {
			return false, 0, 0, nil
		}
		prevUpper, hadPrev := state.last["bb_upper"]
		fires := hadPrev && state.lastLTP <= prevUpper && tick.LTP > bb.Upper
		return fires, tick.LTP, bb.Upper, map[string]float64{"bb_upper": bb.Upper, "bb_lower": bb.Lower}

	case domain.ConditionSupertrendFlip:
		level, uptrend, ok := indicators.Supertrend(w.candles, p.Period, p.Multiplier)
		if !ok {
			return false, 0, 0, nil
		}
		prevUptrend, hadPrev := state.last["supertrend_up"]
		wasUp := hadPrev && prevUptrend != 0
		flipped := hadPrev && wasUp != uptrend
		up := 0.0
		if uptrend {
			up = 1
		}
		return flipped, tick.LTP, level, map[string]float64{"supertrend_up": up}

	case domain.ConditionVWAPCrossing:
		vwap, ok := indicators.VWAP(w.candles)
		if !ok {
			return false, 0, 0, nil
		}
		crossedUp := state.lastLTP <= vwap && tick.LTP > vwap
		crossedDown := state.lastLTP >= vwap && tick.LTP < vwap
		return crossedUp || crossedDown, tick.LTP, vwap, map[string]float64{"vwap": vwap}

	case domain.ConditionVolumeThreshold:
		return float64(tick.Volume) >= p.Level, float64(tick.Volume), p.Level, nil

	case domain.ConditionVolumeSpike:
		if len(w.closes) < 2 {
			return false, 0, 0, nil
		}
		avg := rollingAvgVolume(w.candles)
		if avg == 0 {
			return false, 0, 0, nil
		}
		ratio := float64(tick.Volume) / avg
		return ratio >= p.Multiplier, ratio, p.Multiplier, nil

	default:
		// at_time / market_open / market_close / interval / candle_close
		// fire off the wall clock, not the tick stream; the engine's
		// per-minute clock sweep (clock.go) evaluates them. oi_change
		// has no OI field in the tick feed and never fires.
		return false, 0, 0, nil
	}
}

func rollingAvgVolume(candles []indicators.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}
