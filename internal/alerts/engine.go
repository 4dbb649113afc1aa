package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
	"github.com/aristath/openalgo-bridge/internal/notify"
)

const defaultWorkers = 10

// Hub is the C4 collaborator subscribed to per (user, symbol,
// exchange) topic. Satisfied structurally by *marketfeed.Hub.
type Hub interface {
	Subscribe(ctx context.Context, sub domain.Subscription) (<-chan domain.Tick, domain.DepthLevel, bool, error)
	Unsubscribe(ctx context.Context, sub domain.Subscription, ch <-chan domain.Tick) error
}

// HubRegistry resolves the per-(user,broker) hub.
type HubRegistry interface {
	HubFor(ctx context.Context, userID, broker string) (Hub, error)
}

// UserBrokers resolves which broker a user's alerts route through.
type UserBrokers interface {
	BrokerFor(ctx context.Context, userID string) (string, error)
}

// OrderPlacer is the C5 collaborator used by notify+order and
// notify+smart-order alert actions.
type OrderPlacer interface {
	Place(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error)
	SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error)
}

type topicKey struct {
	UserID   string
	Symbol   string
	Exchange domain.Exchange
}

type topicSub struct {
	ch       <-chan domain.Tick
	stopCh   chan struct{}
	refCount int
	mode     domain.SubscriptionMode
}

// alertState wraps a ScheduledAlert with its own lock plus the rolling
// window/evalState the condition evaluator needs, so concurrent ticks
// across different alerts never contend on a single mutex (spec §5).
type alertState struct {
	mu     sync.Mutex
	alert  domain.ScheduledAlert
	window window
}

// GlobalPanic reports whether the system-wide panic switch (spec §5,
// §7) is engaged; while active, C8 still evaluates and notifies but
// rejects the order-placement half of a trigger.
type GlobalPanic interface {
	Active() bool
}

// Engine is the C8 component: it builds a symbol->alert-ids index and
// an alert-id->alert index at startup, subscribes each distinct
// (user, symbol, exchange) to C4 at the mode the alert set requires,
// and dispatches matching ticks through a bounded worker pool to avoid
// a burst of simultaneous fires starving the tick-reader goroutines.
type Engine struct {
	store    *Store
	hubs     HubRegistry
	brokers  UserBrokers
	notifier notify.Telegram
	orders   OrderPlacer
	panic    GlobalPanic
	events   *events.Manager
	log      zerolog.Logger

	mu      sync.Mutex
	byID    map[string]*alertState
	byTopic map[topicKey]map[string]struct{}
	subs    map[topicKey]*topicSub

	sem      chan struct{}
	inFlight map[string]struct{} // alert ids with an evaluation currently running
	stopCh   chan struct{}
}

func NewEngine(store *Store, hubs HubRegistry, brokers UserBrokers, notifier notify.Telegram, orders OrderPlacer, panic GlobalPanic, mgr *events.Manager, workers int, log zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		store:    store,
		hubs:     hubs,
		brokers:  brokers,
		notifier: notifier,
		orders:   orders,
		panic:    panic,
		events:   mgr,
		log:      log.With().Str("component", "alerts").Logger(),
		byID:     make(map[string]*alertState),
		byTopic:  make(map[topicKey]map[string]struct{}),
		subs:     make(map[topicKey]*topicSub),
		sem:      make(chan struct{}, workers),
		inFlight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start loads every persisted alert, builds the in-memory indices, and
// subscribes each one to C4 (spec §4.8: "on startup, build two
// indices from C1 and subscribe once per distinct symbol").
func (e *Engine) Start(ctx context.Context) error {
	alerts, err := e.store.All(ctx)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if !a.Armed() {
			continue
		}
		if err := e.register(ctx, *a); err != nil {
			e.log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to subscribe alert on startup")
		}
	}
	return nil
}

// Stop tears down every hub subscription.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subs {
		close(sub.stopCh)
	}
}

// Create validates and persists a new alert, then subscribes it.
func (e *Engine) Create(ctx context.Context, a domain.ScheduledAlert) (*domain.ScheduledAlert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TriggerMode == "" {
		a.TriggerMode = domain.TriggerOnce
	}
	a.Status = domain.AlertActive

	if err := e.store.Save(ctx, &a); err != nil {
		return nil, err
	}
	if err := e.register(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Delete removes an alert and unsubscribes it.
func (e *Engine) Delete(ctx context.Context, alertID string) error {
	e.mu.Lock()
	state := e.byID[alertID]
	e.mu.Unlock()
	if state == nil {
		return e.store.Delete(ctx, alertID)
	}
	state.mu.Lock()
	a := state.alert
	state.mu.Unlock()
	e.unregister(a)
	return e.store.Delete(ctx, alertID)
}

// subscriptionMode picks the minimum C4 mode needed: DEPTH if any
// condition in the alert's family requires it, else QUOTE, else LTP
// (spec §4.8).
func subscriptionMode(condition domain.ConditionType) domain.SubscriptionMode {
	if condition.NeedsDepth() {
		return domain.ModeDepth
	}
	if condition.NeedsQuote() {
		return domain.ModeQuote
	}
	return domain.ModeLTP
}

func (e *Engine) register(ctx context.Context, a domain.ScheduledAlert) error {
	key := topicKey{UserID: a.UserID, Symbol: a.Symbol, Exchange: a.Exchange}
	mode := subscriptionMode(a.Condition)

	e.mu.Lock()
	state := &alertState{alert: a, window: window{}}
	e.byID[a.ID] = state
	if e.byTopic[key] == nil {
		e.byTopic[key] = make(map[string]struct{})
	}
	e.byTopic[key][a.ID] = struct{}{}

	sub, exists := e.subs[key]
	if exists {
		sub.refCount++
		if mode > sub.mode {
			sub.mode = mode
		}
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	broker, err := e.brokers.BrokerFor(ctx, a.UserID)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "alerts: failed to resolve user's broker", err)
	}
	hub, err := e.hubs.HubFor(ctx, a.UserID, broker)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "alerts: failed to acquire hub", err)
	}
	ch, _, _, err := hub.Subscribe(ctx, domain.Subscription{UserID: a.UserID, Symbol: a.Symbol, Exchange: a.Exchange, Mode: mode})
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "alerts: failed to subscribe to market data", err)
	}

	stopCh := make(chan struct{})
	e.mu.Lock()
	if existing, ok := e.subs[key]; ok {
		existing.refCount++
		e.mu.Unlock()
		close(stopCh)
		return nil
	}
	e.subs[key] = &topicSub{ch: ch, stopCh: stopCh, refCount: 1, mode: mode}
	e.mu.Unlock()

	go e.dispatch(key, ch, stopCh)
	return nil
}

func (e *Engine) unregister(a domain.ScheduledAlert) {
	key := topicKey{UserID: a.UserID, Symbol: a.Symbol, Exchange: a.Exchange}

	e.mu.Lock()
	delete(e.byID, a.ID)
	if set := e.byTopic[key]; set != nil {
		delete(set, a.ID)
		if len(set) == 0 {
			delete(e.byTopic, key)
		}
	}
	sub, exists := e.subs[key]
	if !exists {
		e.mu.Unlock()
		return
	}
	sub.refCount--
	lastRef := sub.refCount <= 0
	if lastRef {
		delete(e.subs, key)
	}
	e.mu.Unlock()

	if lastRef {
		close(sub.stopCh)
	}
}

func (e *Engine) dispatch(key topicKey, ch <-chan domain.Tick, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-e.stopCh:
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			e.fanOutTick(key, tick)
		}
	}
}

// fanOutTick hands every alert on key's topic to the bounded worker
// pool. When the pool is saturated and an alert still has an
// evaluation in flight, the new tick is dropped for that alert only;
// other alerts queue for a free worker as usual (spec §5's
// drop-on-overflow policy).
func (e *Engine) fanOutTick(key topicKey, tick domain.Tick) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.byTopic[key]))
	for id := range e.byTopic[key] {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		id := id
		select {
		case e.sem <- struct{}{}:
		default:
			e.mu.Lock()
			_, busy := e.inFlight[id]
			e.mu.Unlock()
			if busy {
				e.log.Debug().Str("alert_id", id).Msg("worker pool saturated, tick dropped for in-flight alert")
				continue
			}
			e.sem <- struct{}{}
		}
		e.mu.Lock()
		e.inFlight[id] = struct{}{}
		e.mu.Unlock()
		go func() {
			defer func() {
				e.mu.Lock()
				delete(e.inFlight, id)
				e.mu.Unlock()
				<-e.sem
			}()
			e.evaluateOne(id, tick)
		}()
	}
}

func (e *Engine) evaluateOne(alertID string, tick domain.Tick) {
	e.mu.Lock()
	state := e.byID[alertID]
	e.mu.Unlock()
	if state == nil {
		return
	}

	ctx := context.Background()

	state.mu.Lock()
	if !state.alert.Armed() || !withinAlertSchedule(state.alert.Schedule, time.Now()) {
		state.mu.Unlock()
		return
	}
	// cooldown gates both cooldown-mode re-arming and continuous-mode
	// per-tick throttling (spec glossary: continuous is "still gated
	// by cooldown").
	if state.alert.TriggerMode != domain.TriggerOnce && state.alert.CooldownMinutes > 0 && state.alert.LastTriggeredAt != nil {
		if time.Since(*state.alert.LastTriggeredAt) < time.Duration(state.alert.CooldownMinutes)*time.Minute {
			state.alert.PrevLTP = state.alert.LastLTP
			state.alert.LastLTP = tick.LTP
			state.mu.Unlock()
			return
		}
	}

	state.window.push(tick)
	es := evalState{
		prevLTP: state.alert.PrevLTP,
		lastLTP: state.alert.LastLTP,
		prev:    state.alert.PrevIndicator,
		last:    state.alert.LastIndicator,
	}

	fired, triggerValue, targetValue, indicatorOut := evaluate(&state.alert, tick, &state.window, es)

	state.alert.PrevLTP = state.alert.LastLTP
	state.alert.LastLTP = tick.LTP
	if indicatorOut != nil {
		state.alert.PrevIndicator = state.alert.LastIndicator
		state.alert.LastIndicator = indicatorOut
	}

	if !fired {
		alertCopy := state.alert
		state.mu.Unlock()
		_ = e.store.Save(ctx, &alertCopy)
		return
	}

	state.alert.TriggerCount++
	now := time.Now()
	state.alert.LastTriggeredAt = &now

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

	e.trigger(ctx, alertCopy, tick, triggerValue, targetValue, indicatorOut)

	if err := e.store.Save(ctx, &alertCopy); err != nil {
		e.log.Error().Err(err).Str("alert_id", alertCopy.ID).Msg("failed to persist alert after trigger")
	}
	if shouldUnregister {
		e.unregister(alertCopy)
	}
}

// trigger writes the audit record, sends the Telegram notification,
// and optionally submits an order, per the alert's configured action.
func (e *Engine) trigger(ctx context.Context, a domain.ScheduledAlert, tick domain.Tick, triggerValue, targetValue float64, indicators map[string]float64) {
	log := e.log.With().Str("alert_id", a.ID).Str("symbol", a.Symbol).Logger()

	rec := domain.TriggerRecord{
		ID:             uuid.NewString(),
		AlertID:        a.ID,
		TriggeredAt:    time.Now(),
		TriggerValue:   triggerValue,
		TargetValue:    targetValue,
		ConditionText:  string(a.Condition),
		MarketSnapshot: tick,
		Indicators:     indicators,
		TelegramStatus: "skipped",
	}

	if e.notifier != nil {
		err := e.notifier.Send(ctx, a.UserID, notify.TriggerNotification{
			Title:   "Alert triggered: " + a.Symbol,
			Body:    conditionText(a, triggerValue, targetValue),
			Symbol:  a.Symbol,
			LTP:     tick.LTP,
			AlertID: a.ID,
		})
		if err != nil {
			rec.TelegramStatus = "failed"
			log.Warn().Err(err).Msg("telegram notification failed")
		} else {
			rec.TelegramStatus = "sent"
		}
	}

	panicked := e.panic != nil && e.panic.Active()
	if panicked {
		rec.OrderStatus = "rejected: global panic engaged"
	} else if (a.Action == domain.ActionNotifyOrder || a.Action == domain.ActionNotifySmartOrder) && a.Order != nil && e.orders != nil {
		if a.Action == domain.ActionNotifySmartOrder {
			_, err := e.orders.SmartClose(ctx, a.UserID, a.Symbol, string(a.Exchange), string(a.Order.Product), "alert:"+a.ID)
			rec.OrderStatus = orderStatusText(err)
		} else {
			intent := *a.Order
			intent.UserID = a.UserID
			intent.Symbol = a.Symbol
			intent.Exchange = a.Exchange
			intent.CreatedAt = time.Now()
			_, err := e.orders.Place(ctx, intent)
			rec.OrderStatus = orderStatusText(err)
		}
	}

	if err := e.store.SaveTrigger(ctx, rec); err != nil {
		log.Error().Err(err).Msg("failed to persist trigger record")
	}
	e.events.Emit(a.UserID, events.AlertTriggeredData{
		AlertID: a.ID, Symbol: a.Symbol, Exchange: string(a.Exchange),
		ConditionText: rec.ConditionText, TriggerValue: triggerValue,
	})
	log.Info().Float64("trigger_value", triggerValue).Msg("alert triggered")
}

func orderStatusText(err error) string {
	if err != nil {
		return "failed: " + err.Error()
	}
	return "submitted"
}

func conditionText(a domain.ScheduledAlert, triggerValue, targetValue float64) string {
	return string(a.Condition) + " on " + a.Symbol
}

// TestAlert dry-runs a's condition against a single synthetic tick
// without persisting state or sending a notification, for the
// management API's "test alert" endpoint (spec §6 supplement).
func (e *Engine) TestAlert(a domain.ScheduledAlert, tick domain.Tick) (fired bool, triggerValue, targetValue float64) {
	w := &window{}
	w.push(tick)
	fired, triggerValue, targetValue, _ = evaluate(&a, tick, w, evalState{prevLTP: a.PrevLTP, lastLTP: a.LastLTP, prev: a.PrevIndicator, last: a.LastIndicator})
	return
}

// Regular cash-market session bounds, inclusive on both ends: an
// alert gated by market_hours_only evaluates at 09:15:00 sharp but
// not at 09:14:59.
const (
	marketOpenClock  = "09:15:00"
	marketCloseClock = "15:30:00"
)

func withinAlertSchedule(sched domain.AlertSchedule, now time.Time) bool {
	if sched.DateFrom != nil && now.Before(*sched.DateFrom) {
		return false
	}
	if sched.DateTo != nil && now.After(*sched.DateTo) {
		return false
	}
	if len(sched.Weekdays) > 0 {
		allowed := false
		for _, d := range sched.Weekdays {
			if d == now.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	nowClock := now.Format("15:04:05")
	if sched.MarketHoursOnly && (nowClock < marketOpenClock || nowClock > marketCloseClock) {
		return false
	}
	if sched.TimeFrom == "" && sched.TimeTo == "" {
		return true
	}
	return nowClock >= sched.TimeFrom && nowClock <= sched.TimeTo
}
