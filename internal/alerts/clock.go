package alerts

import (
	"context"
	"time"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// ClockJob drives the clock-based condition types (at_time,
// market_open, market_close, interval, candle_close) off a per-minute
// cron sweep; they have no tick to react to, so the tick-path
// evaluator never fires them.
type ClockJob struct {
	engine *Engine
}

func NewClockJob(engine *Engine) *ClockJob {
	return &ClockJob{engine: engine}
}

func (j *ClockJob) Name() string { return "alerts.clock" }

func (j *ClockJob) Run() error {
	j.engine.EvaluateClock(time.Now())
	return nil
}

// EvaluateClock walks every registered clock-driven alert and fires
// those whose condition matches the current minute, applying the same
// schedule and cooldown gates as the tick path.
func (e *Engine) EvaluateClock(now time.Time) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.evaluateClockOne(id, now)
	}
}

func (e *Engine) evaluateClockOne(alertID string, now time.Time) {
	e.mu.Lock()
	state := e.byID[alertID]
	e.mu.Unlock()
	if state == nil {
		return
	}

	ctx := context.Background()

	state.mu.Lock()
	a := state.alert
	if !a.Condition.ClockDriven() || !a.Armed() || !withinAlertSchedule(a.Schedule, now) {
		state.mu.Unlock()
		return
	}
	if a.TriggerMode != domain.TriggerOnce && a.CooldownMinutes > 0 && a.LastTriggeredAt != nil {
		if now.Sub(*a.LastTriggeredAt) < time.Duration(a.CooldownMinutes)*time.Minute {
			state.mu.Unlock()
			return
		}
	}

	if !clockConditionMet(&a, now) {
		state.mu.Unlock()
		return
	}

	state.alert.TriggerCount++
	firedAt := now
	state.alert.LastTriggeredAt = &firedAt

	switch state.alert.TriggerMode {
	case domain.TriggerOnce:
		state.alert.Status = domain.AlertTriggered
	default:
		if state.alert.MaxTriggers > 0 && state.alert.TriggerCount >= state.alert.MaxTriggers {
			state.alert.Status = domain.AlertTriggered
		}
	}

	alertCopy := state.alert
	shouldUnregister := alertCopy.Status == domain.AlertTriggered
	state.mu.Unlock()

	// the last observed LTP stands in for a tick snapshot; a clock
	// trigger may fire when no tick has arrived this minute.
	tick := domain.Tick{Symbol: alertCopy.Symbol, Exchange: alertCopy.Exchange, LTP: alertCopy.LastLTP, Time: now}
	e.trigger(ctx, alertCopy, tick, alertCopy.LastLTP, 0, nil)

	if err := e.store.Save(ctx, &alertCopy); err != nil {
		e.log.Error().Err(err).Str("alert_id", alertCopy.ID).Msg("failed to persist alert after clock trigger")
	}
	if shouldUnregister {
		e.unregister(alertCopy)
	}
}

// clockConditionMet reports whether a's clock condition matches the
// minute containing now. The sweep runs once per minute, so minute
// equality fires each matching minute exactly once.
func clockConditionMet(a *domain.ScheduledAlert, now time.Time) bool {
	minute := now.Format("15:04")

	switch a.Condition {
	case domain.ConditionAtTime:
		return clockMinute(a.Params.AtTime) == minute
	case domain.ConditionMarketOpen:
		return minute == clockMinute(marketOpenClock)
	case domain.ConditionMarketClose:
		return minute == clockMinute(marketCloseClock)
	case domain.ConditionInterval:
		interval := a.Params.IntervalSec
		if interval <= 0 {
			interval = 300
		}
		if a.LastTriggeredAt == nil {
			return true
		}
		return now.Sub(*a.LastTriggeredAt) >= time.Duration(interval)*time.Second
	case domain.ConditionCandleClose:
		// fires on N-minute candle boundaries counted from market open.
		n := a.Params.IntervalSec / 60
		if n <= 0 {
			n = 5
		}
		sinceOpen := minutesSince(now, clockMinute(marketOpenClock))
		return sinceOpen > 0 && sinceOpen%n == 0
	default:
		return false
	}
}

// clockMinute truncates an "HH:MM[:SS]" clock string to "HH:MM".
func clockMinute(clock string) string {
	if len(clock) >= 5 {
		return clock[:5]
	}
	return clock
}

// minutesSince counts whole minutes from the "HH:MM" reference to now
// within the same day; negative before the reference.
func minutesSince(now time.Time, ref string) int {
	if len(ref) < 5 {
		return -1
	}
	refH := int(ref[0]-'0')*10 + int(ref[1]-'0')
	refM := int(ref[3]-'0')*10 + int(ref[4]-'0')
	return (now.Hour()*60 + now.Minute()) - (refH*60 + refM)
}
