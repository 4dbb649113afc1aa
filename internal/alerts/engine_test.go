package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
	"github.com/aristath/openalgo-bridge/internal/notify"
)

type fakeHub struct {
	ch chan domain.Tick
}

func (f *fakeHub) Subscribe(ctx context.Context, sub domain.Subscription) (<-chan domain.Tick, domain.DepthLevel, bool, error) {
	return f.ch, 0, false, nil
}
func (f *fakeHub) Unsubscribe(ctx context.Context, sub domain.Subscription, ch <-chan domain.Tick) error {
	return nil
}

type fakeHubRegistry struct{ hub *fakeHub }

func (f *fakeHubRegistry) HubFor(ctx context.Context, userID, broker string) (Hub, error) {
	return f.hub, nil
}

type fakeBrokers struct{}

func (fakeBrokers) BrokerFor(ctx context.Context, userID string) (string, error) {
	return "zerodha", nil
}

type fakeNotifier struct {
	sent []notify.TriggerNotification
}

func (f *fakeNotifier) Send(ctx context.Context, userID string, payload notify.TriggerNotification) error {
	f.sent = append(f.sent, payload)
	return nil
}

type fakeOrders struct{ placed int }

func (f *fakeOrders) Place(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error) {
	f.placed++
	return &domain.PlaceResult{}, nil
}
func (f *fakeOrders) SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error) {
	f.placed++
	return &domain.PlaceResult{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeHub, *fakeNotifier) {
	t.Helper()
	backend := cache.NewMemoryBackend(1000)
	store := NewStore(backend)
	hub := &fakeHub{ch: make(chan domain.Tick, 4)}
	notifier := &fakeNotifier{}
	eng := NewEngine(store, &fakeHubRegistry{hub: hub}, fakeBrokers{}, notifier, &fakeOrders{}, nil, events.NewManager(zerolog.Nop()), 2, zerolog.Nop())
	return eng, hub, notifier
}

func TestEngineTriggersOnceAndUnregisters(t *testing.T) {
	eng, _, notifier := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.Create(ctx, domain.ScheduledAlert{
		UserID:      "u1",
		Symbol:      "RELIANCE",
		Exchange:    domain.ExchangeNSE,
		Condition:   domain.ConditionGreaterThan,
		Params:      domain.ConditionParams{Level: 2500},
		TriggerMode: domain.TriggerOnce,
		Action:      domain.ActionNotifyOnly,
	})
	require.NoError(t, err)

	eng.evaluateOne(created.ID, domain.Tick{Symbol: "RELIANCE", Exchange: domain.ExchangeNSE, LTP: 2550, Time: time.Now()})

	require.Len(t, notifier.sent, 1)

	eng.mu.Lock()
	_, stillIndexed := eng.byID[created.ID]
	eng.mu.Unlock()
	require.False(t, stillIndexed, "once-mode alert should be unregistered after firing")
}

func TestSubscriptionModeSelection(t *testing.T) {
	require.Equal(t, domain.ModeDepth, subscriptionMode(domain.ConditionVolumeThreshold))
	require.Equal(t, domain.ModeQuote, subscriptionMode(domain.ConditionVWAPCrossing))
	require.Equal(t, domain.ModeLTP, subscriptionMode(domain.ConditionGreaterThan))
}

func TestWithinAlertSchedule_MarketHoursBoundary(t *testing.T) {
	sched := domain.AlertSchedule{MarketHoursOnly: true}

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local) // a Monday

	beforeOpen := day.Add(9*time.Hour + 14*time.Minute + 59*time.Second)
	require.False(t, withinAlertSchedule(sched, beforeOpen), "09:14:59 must be gated out")

	atOpen := day.Add(9*time.Hour + 15*time.Minute)
	require.True(t, withinAlertSchedule(sched, atOpen), "09:15:00 sharp must evaluate")

	atClose := day.Add(15*time.Hour + 30*time.Minute)
	require.True(t, withinAlertSchedule(sched, atClose))

	afterClose := day.Add(15*time.Hour + 30*time.Minute + 1*time.Second)
	require.False(t, withinAlertSchedule(sched, afterClose))
}

func TestContinuousModeHonoursCooldown(t *testing.T) {
	eng, _, notifier := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.Create(ctx, domain.ScheduledAlert{
		UserID:          "u1",
		Symbol:          "RELIANCE",
		Exchange:        domain.ExchangeNSE,
		Condition:       domain.ConditionGreaterThan,
		Params:          domain.ConditionParams{Level: 2500},
		TriggerMode:     domain.TriggerContinuous,
		CooldownMinutes: 5,
		Action:          domain.ActionNotifyOnly,
	})
	require.NoError(t, err)

	eng.evaluateOne(created.ID, domain.Tick{Symbol: "RELIANCE", Exchange: domain.ExchangeNSE, LTP: 2550, Time: time.Now()})
	eng.evaluateOne(created.ID, domain.Tick{Symbol: "RELIANCE", Exchange: domain.ExchangeNSE, LTP: 2560, Time: time.Now()})

	require.Len(t, notifier.sent, 1, "second qualifying tick inside the cooldown window must not re-fire")
}

// Verifies spec §8 Scenario 1: a crossing_up alert on 2500 in once
// mode fires exactly once, on the first tick strictly above the level
// after one at or below it, then disables itself.
func TestCrossingUpFiresOnceAcrossTickSequence(t *testing.T) {
	eng, _, notifier := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.Create(ctx, domain.ScheduledAlert{
		UserID:      "u1",
		Symbol:      "RELIANCE",
		Exchange:    domain.ExchangeNSE,
		Condition:   domain.ConditionCrossingUp,
		Params:      domain.ConditionParams{Level: 2500},
		TriggerMode: domain.TriggerOnce,
		Action:      domain.ActionNotifyOnly,
	})
	require.NoError(t, err)

	for _, ltp := range []float64{2498, 2499, 2500, 2501, 2502, 2499, 2501} {
		eng.evaluateOne(created.ID, domain.Tick{Symbol: "RELIANCE", Exchange: domain.ExchangeNSE, LTP: ltp, Time: time.Now()})
	}

	require.Len(t, notifier.sent, 1, "exactly one trigger on the 2500 -> 2501 transition")

	stored, err := eng.store.All(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, domain.AlertTriggered, stored[0].Status)
}

func TestClockConditionMet(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)

	atTime := domain.ScheduledAlert{Condition: domain.ConditionAtTime, Params: domain.ConditionParams{AtTime: "14:30:00"}}
	require.True(t, clockConditionMet(&atTime, day.Add(14*time.Hour+30*time.Minute)))
	require.False(t, clockConditionMet(&atTime, day.Add(14*time.Hour+31*time.Minute)))

	open := domain.ScheduledAlert{Condition: domain.ConditionMarketOpen}
	require.True(t, clockConditionMet(&open, day.Add(9*time.Hour+15*time.Minute)))
	require.False(t, clockConditionMet(&open, day.Add(9*time.Hour+16*time.Minute)))

	mktClose := domain.ScheduledAlert{Condition: domain.ConditionMarketClose}
	require.True(t, clockConditionMet(&mktClose, day.Add(15*time.Hour+30*time.Minute)))

	lastFired := day.Add(10 * time.Hour)
	interval := domain.ScheduledAlert{Condition: domain.ConditionInterval, Params: domain.ConditionParams{IntervalSec: 600}, LastTriggeredAt: &lastFired}
	require.False(t, clockConditionMet(&interval, day.Add(10*time.Hour+5*time.Minute)))
	require.True(t, clockConditionMet(&interval, day.Add(10*time.Hour+10*time.Minute)))

	candle := domain.ScheduledAlert{Condition: domain.ConditionCandleClose, Params: domain.ConditionParams{IntervalSec: 300}}
	require.True(t, clockConditionMet(&candle, day.Add(9*time.Hour+20*time.Minute)), "five minutes past open is a 5m candle boundary")
	require.False(t, clockConditionMet(&candle, day.Add(9*time.Hour+22*time.Minute)))
	require.False(t, clockConditionMet(&candle, day.Add(9*time.Hour+15*time.Minute)), "the opening minute is not a close")
}

func TestEvaluateClockFiresAtTimeAlertOnce(t *testing.T) {
	eng, _, notifier := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.Create(ctx, domain.ScheduledAlert{
		UserID:      "u1",
		Symbol:      "RELIANCE",
		Exchange:    domain.ExchangeNSE,
		Condition:   domain.ConditionAtTime,
		Params:      domain.ConditionParams{AtTime: "14:30:00"},
		TriggerMode: domain.TriggerOnce,
		Action:      domain.ActionNotifyOnly,
	})
	require.NoError(t, err)

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)
	eng.EvaluateClock(day.Add(14*time.Hour + 29*time.Minute))
	require.Empty(t, notifier.sent)

	eng.EvaluateClock(day.Add(14*time.Hour + 30*time.Minute))
	require.Len(t, notifier.sent, 1)

	eng.EvaluateClock(day.Add(14*time.Hour + 30*time.Minute))
	require.Len(t, notifier.sent, 1, "once-mode clock alert must not re-fire")

	eng.mu.Lock()
	_, stillIndexed := eng.byID[created.ID]
	eng.mu.Unlock()
	require.False(t, stillIndexed)
}
