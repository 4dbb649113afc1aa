package trademonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
)

const (
	flushInterval   = 30 * time.Second
	entryPollEvery  = 2 * time.Second
	entryPollGiveUp = 30 * time.Minute
)

// Hub is the C4 collaborator the monitor subscribes to per (user,
// symbol, exchange) topic. Satisfied structurally by *marketfeed.Hub.
type Hub interface {
	Subscribe(ctx context.Context, sub domain.Subscription) (<-chan domain.Tick, domain.DepthLevel, bool, error)
	Unsubscribe(ctx context.Context, sub domain.Subscription, ch <-chan domain.Tick) error
}

// HubRegistry resolves the per-(user,broker) hub, satisfied
// structurally by *marketfeed.Registry via a thin adapter (HubFor's
// concrete *marketfeed.Hub return type needs boxing into Hub; see
// cmd/server's wiring).
type HubRegistry interface {
	HubFor(ctx context.Context, userID, broker string) (Hub, error)
}

// UserBrokers resolves which broker a user's orders currently route
// through, needed to pick the right hub.
type UserBrokers interface {
	BrokerFor(ctx context.Context, userID string) (string, error)
}

// Closer is the smart_close collaborator, satisfied by
// internal/orders.Router.
type Closer interface {
	SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error)
}

// PositionChecker reports a user's broker/sandbox net position,
// satisfied by internal/orders.Router.NetPosition, used during
// recovery reconciliation.
type PositionChecker interface {
	NetPosition(ctx context.Context, userID, symbol, exchange, product string) (float64, error)
}

// OrderStatusSource polls a previously placed order's status, used
// while a trade sits in pending_entry.
type OrderStatusSource interface {
	OrderStatus(ctx context.Context, userID, orderID string) (*domain.OrderRecord, error)
}

// StrategyLookup is the subset of internal/strategies.Store the
// portfolio monitor needs: read a strategy's risk config and persist
// its updated HighestPnL watermark.
type StrategyLookup interface {
	Get(ctx context.Context, strategyID string) (*domain.StrategyInstance, error)
	Save(ctx context.Context, st *domain.StrategyInstance) error
}

// topicKey identifies one (user, symbol, exchange) tick stream the
// monitor has subscribed to.
type topicKey struct {
	UserID   string
	Symbol   string
	Exchange domain.Exchange
}

type topicSub struct {
	ch       <-chan domain.Tick
	stopCh   chan struct{}
	refCount int
}

// tradeState wraps an ActiveTrade with its own lock, so per-trade
// mutable-field updates ("current LTP, highest/lowest, trailing
// level") take only that trade's lane rather than the monitor's
// structural mutex (spec §5).
type tradeState struct {
	mu    sync.Mutex
	trade domain.ActiveTrade
}

// Monitor is the C9 component.
type Monitor struct {
	store      *Store
	hubs       HubRegistry
	brokers    UserBrokers
	closer     Closer
	positions  PositionChecker
	orders     OrderStatusSource
	strategies StrategyLookup
	events     *events.Manager
	log        zerolog.Logger

	mu         sync.Mutex
	byID       map[string]*tradeState
	byTopic    map[topicKey]map[string]struct{}
	byStrategy map[string]map[string]struct{}
	subs       map[topicKey]*topicSub

	stopCh chan struct{}
}

func NewMonitor(store *Store, hubs HubRegistry, brokers UserBrokers, closer Closer, positions PositionChecker, orders OrderStatusSource, strategies StrategyLookup, mgr *events.Manager, log zerolog.Logger) *Monitor {
	return &Monitor{
		store:      store,
		hubs:       hubs,
		brokers:    brokers,
		closer:     closer,
		positions:  positions,
		orders:     orders,
		strategies: strategies,
		events:     mgr,
		log:        log.With().Str("component", "trademonitor").Logger(),
		byID:       make(map[string]*tradeState),
		byTopic:    make(map[topicKey]map[string]struct{}),
		byStrategy: make(map[string]map[string]struct{}),
		subs:       make(map[topicKey]*topicSub),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic sync-flush ticker (spec §4.9: "every 30s
// the monitor sync-flushes each active trade's mutable fields").
func (m *Monitor) Start(ctx context.Context) {
	go m.flushLoop(ctx)
}

// Stop halts the flush loop and tears down every hub subscription.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		close(sub.stopCh)
	}
}

// SeedPendingEntry records the trade in pending_entry and starts
// polling the broker order status until it completes. No
// order-placement path (C5/C7/C8) calls it; a trade enters supervision
// only through a direct call to this method or through Recover.
func (m *Monitor) SeedPendingEntry(ctx context.Context, trade domain.ActiveTrade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	trade.Status = domain.TradeStatusPendingEntry
	trade.CreatedAt = time.Now()

	if err := m.store.Save(ctx, &trade); err != nil {
		return fmt.Errorf("trademonitor: failed to seed pending entry: %w", err)
	}
	go m.pollEntry(ctx, trade)
	return nil
}

// pollEntry polls the broker order status until it reaches a terminal
// state. complete activates the trade; cancelled/rejected drops it.
func (m *Monitor) pollEntry(ctx context.Context, trade domain.ActiveTrade) {
	deadline := time.Now().Add(entryPollGiveUp)
	ticker := time.NewTicker(entryPollEvery)
	defer ticker.Stop()

	log := m.log.With().Str("trade_id", trade.ID).Str("broker_order_id", trade.BrokerOrderID).Logger()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			log.Warn().Msg("gave up waiting for entry order to complete, trade remains pending_entry for manual review")
			return
		}

		rec, err := m.orders.OrderStatus(ctx, trade.UserID, trade.BrokerOrderID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to poll entry order status, retrying")
			continue
		}

		switch rec.Status {
		case domain.StatusComplete:
			trade.EntryPrice = rec.AvgPrice
			if rec.FilledQty > 0 {
				trade.Qty = rec.FilledQty
			}
			trade.LTP = trade.EntryPrice
			trade.TrailingRef = trade.EntryPrice
			trade.Status = domain.TradeStatusActive
			if err := m.activate(ctx, trade); err != nil {
				log.Error().Err(err).Msg("failed to activate trade after entry fill")
			}
			return
		case domain.StatusCancelled, domain.StatusRejected:
			trade.Status = domain.TradeStatusForceClosed
			trade.ExitReason = domain.ExitReason(rec.Status)
			if err := m.store.Save(ctx, &trade); err != nil {
				log.Error().Err(err).Msg("failed to persist abandoned pending_entry trade")
			}
			log.Info().Str("broker_status", string(rec.Status)).Msg("entry order did not complete, trade abandoned")
			return
		}
	}
}

// activate registers trade in the in-memory indices, subscribes to
// its (user, symbol, exchange) topic on C4, and persists the now-
// active state.
func (m *Monitor) activate(ctx context.Context, trade domain.ActiveTrade) error {
	if err := m.subscribe(ctx, trade); err != nil {
		return err
	}
	if err := m.store.Save(ctx, &trade); err != nil {
		return err
	}
	return nil
}

func (m *Monitor) subscribe(ctx context.Context, trade domain.ActiveTrade) error {
	key := topicKey{UserID: trade.UserID, Symbol: trade.Symbol, Exchange: trade.Exchange}

	m.mu.Lock()
	state := &tradeState{trade: trade}
	m.byID[trade.ID] = state
	if m.byTopic[key] == nil {
		m.byTopic[key] = make(map[string]struct{})
	}
	m.byTopic[key][trade.ID] = struct{}{}
	if m.byStrategy[trade.StrategyID] == nil {
		m.byStrategy[trade.StrategyID] = make(map[string]struct{})
	}
	m.byStrategy[trade.StrategyID][trade.ID] = struct{}{}

	sub, exists := m.subs[key]
	if exists {
		sub.refCount++
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	broker, err := m.brokers.BrokerFor(ctx, trade.UserID)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "trademonitor: failed to resolve user's broker", err)
	}
	hub, err := m.hubs.HubFor(ctx, trade.UserID, broker)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "trademonitor: failed to acquire hub", err)
	}
	ch, _, _, err := hub.Subscribe(ctx, domain.Subscription{UserID: trade.UserID, Symbol: trade.Symbol, Exchange: trade.Exchange, Mode: domain.ModeLTP})
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "trademonitor: failed to subscribe to market data", err)
	}

	stopCh := make(chan struct{})
	m.mu.Lock()
	if existing, ok := m.subs[key]; ok {
		existing.refCount++
		m.mu.Unlock()
		close(stopCh)
		return nil
	}
	m.subs[key] = &topicSub{ch: ch, stopCh: stopCh, refCount: 1}
	m.mu.Unlock()

	go m.dispatch(key, ch, stopCh)
	return nil
}

// dispatch drains one topic's tick channel and evaluates every trade
// registered under it. A slow monitor never blocks the hub: the
// channel is the hub's own buffered fanout subscription.
func (m *Monitor) dispatch(key topicKey, ch <-chan domain.Tick, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-m.stopCh:
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			m.handleTick(key, tick)
		}
	}
}

// handleTick evaluates every trade subscribed to key against tick,
// then runs portfolio-level evaluation for any strategy touched,
// honouring the preemption rule from spec §4.9.
func (m *Monitor) handleTick(key topicKey, tick domain.Tick) {
	ctx := context.Background()

	m.mu.Lock()
	ids := make([]string, 0, len(m.byTopic[key]))
	for id := range m.byTopic[key] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	pendingExit := make(map[string]domain.ExitReason, len(ids))
	touchedStrategies := make(map[string]struct{})

	for _, id := range ids {
		m.mu.Lock()
		state := m.byID[id]
		m.mu.Unlock()
		if state == nil {
			continue
		}

		state.mu.Lock()
		if state.trade.Status != domain.TradeStatusActive {
			state.mu.Unlock()
			continue
		}
		reason, fires := evaluateIndividual(&state.trade, tick.LTP)
		strategyID := state.trade.StrategyID
		state.mu.Unlock()

		touchedStrategies[strategyID] = struct{}{}
		if fires {
			pendingExit[id] = reason
		}
	}

	for strategyID := range touchedStrategies {
		if strategyID == "" {
			continue
		}
		m.evaluatePortfolio(ctx, strategyID, pendingExit)
	}

	for id, reason := range pendingExit {
		m.exitTrade(ctx, id, reason)
	}
}

// evaluateIndividual applies the per-tick SL/target/trailing table
// (spec §4.9 table) to trade, mutating its LTP/trailing fields in
// place. It reports whether an individual exit condition fired and
// why, without invoking smart_close itself (the caller decides
// whether portfolio preemption applies first).
func evaluateIndividual(trade *domain.ActiveTrade, ltp float64) (domain.ExitReason, bool) {
	trade.LTP = ltp

	switch trade.Side {
	case domain.SideLong:
		if trade.StopLoss > 0 && ltp <= trade.StopLoss {
			return domain.ExitSL, true
		}
		if trade.Target > 0 && ltp >= trade.Target {
			return domain.ExitTarget, true
		}
		if trade.Trailing.Kind != domain.TrailingNone && ltp > trade.TrailingRef {
			trade.TrailingRef = ltp
			newLevel := trailingLevelLong(trade.Trailing, ltp)
			if newLevel > trade.TrailingLevel {
				trade.TrailingLevel = newLevel
				trade.StopLoss = newLevel
			}
		}
	case domain.SideShort:
		if trade.StopLoss > 0 && ltp >= trade.StopLoss {
			return domain.ExitSL, true
		}
		if trade.Target > 0 && ltp <= trade.Target {
			return domain.ExitTarget, true
		}
		if trade.Trailing.Kind != domain.TrailingNone && (trade.TrailingRef == 0 || ltp < trade.TrailingRef) {
			trade.TrailingRef = ltp
			newLevel := trailingLevelShort(trade.Trailing, ltp)
			if trade.TrailingLevel == 0 || newLevel < trade.TrailingLevel {
				trade.TrailingLevel = newLevel
				trade.StopLoss = newLevel
			}
		}
	}
	return "", false
}

func trailingLevelLong(cfg domain.TrailingConfig, ltp float64) float64 {
	if cfg.Kind == domain.TrailingPoints {
		return ltp - cfg.Value
	}
	return ltp * (1 - cfg.Value/100)
}

func trailingLevelShort(cfg domain.TrailingConfig, ltp float64) float64 {
	if cfg.Kind == domain.TrailingPoints {
		return ltp + cfg.Value
	}
	return ltp * (1 + cfg.Value/100)
}

// exitTrade calls smart_close, marks the trade terminal, and removes
// it from the in-memory indices.
func (m *Monitor) exitTrade(ctx context.Context, tradeID string, reason domain.ExitReason) {
	m.mu.Lock()
	state := m.byID[tradeID]
	m.mu.Unlock()
	if state == nil {
		return
	}

	state.mu.Lock()
	if state.trade.Status != domain.TradeStatusActive {
		state.mu.Unlock()
		return
	}
	trade := state.trade
	state.mu.Unlock()

	log := m.log.With().Str("trade_id", trade.ID).Str("reason", string(reason)).Logger()

	result, err := m.closer.SmartClose(ctx, trade.UserID, trade.Symbol, string(trade.Exchange), string(trade.Product), string(reason))
	if err != nil {
		log.Error().Err(err).Msg("smart_close failed during trade exit")
		return
	}

	state.mu.Lock()
	state.trade.Status = statusForReason(reason)
	state.trade.ExitReason = reason
	if len(result.Legs) > 0 {
		state.trade.ExitOrderID = result.Legs[0].BrokerOrderID
		state.trade.RealisedPnL = state.trade.Unrealised()
	}
	final := state.trade
	state.mu.Unlock()

	if err := m.store.Save(ctx, &final); err != nil {
		log.Error().Err(err).Msg("failed to persist trade exit")
	}
	m.events.Emit(trade.UserID, events.TradeClosedData{
		TradeID: trade.ID, Symbol: trade.Symbol, Exchange: string(trade.Exchange),
		ExitReason: string(reason), RealisedPnL: final.RealisedPnL,
	})
	log.Info().Msg("trade exited")

	m.unsubscribeAndDrop(ctx, final)
}

func statusForReason(reason domain.ExitReason) domain.TradeStatus {
	switch reason {
	case domain.ExitSL:
		return domain.TradeStatusSLHit
	case domain.ExitTarget:
		return domain.TradeStatusTargetHit
	case domain.ExitPortfolioSL, domain.ExitPortfolioTarget, domain.ExitPortfolioTrail:
		return domain.TradeStatusPortfolioExit
	case domain.ExitExternallyClosed:
		return domain.TradeStatusClosed
	default:
		return domain.TradeStatusForceClosed
	}
}

func (m *Monitor) unsubscribeAndDrop(ctx context.Context, trade domain.ActiveTrade) {
	key := topicKey{UserID: trade.UserID, Symbol: trade.Symbol, Exchange: trade.Exchange}

	m.mu.Lock()
	delete(m.byID, trade.ID)
	if set := m.byTopic[key]; set != nil {
		delete(set, trade.ID)
		if len(set) == 0 {
			delete(m.byTopic, key)
		}
	}
	if set := m.byStrategy[trade.StrategyID]; set != nil {
		delete(set, trade.ID)
		if len(set) == 0 {
			delete(m.byStrategy, trade.StrategyID)
		}
	}
	sub, exists := m.subs[key]
	if !exists {
		m.mu.Unlock()
		return
	}
	sub.refCount--
	lastRef := sub.refCount <= 0
	if lastRef {
		delete(m.subs, key)
	}
	m.mu.Unlock()

	if lastRef {
		close(sub.stopCh)
	}
}

// OpenPositionCount satisfies internal/strategies's ActiveTradeCounter:
// how many trades the monitor currently supervises for strategyID.
func (m *Monitor) OpenPositionCount(ctx context.Context, strategyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byStrategy[strategyID]), nil
}

// TradesForStrategy satisfies internal/strategies's
// ActiveTradeCounter, used by the deletion safety gate (spec §4.9).
func (m *Monitor) TradesForStrategy(ctx context.Context, strategyID string) ([]*domain.ActiveTrade, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byStrategy[strategyID]))
	for id := range m.byStrategy[strategyID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]*domain.ActiveTrade, 0, len(ids))
	for _, id := range ids {
		m.mu.Lock()
		state := m.byID[id]
		m.mu.Unlock()
		if state == nil {
			continue
		}
		state.mu.Lock()
		trade := state.trade
		state.mu.Unlock()
		out = append(out, &trade)
	}
	return out, nil
}

// PanicCloseAll force-closes every trade currently supervised, across
// all users and strategies, reason `panic` (spec §5: "a global panic
// ... issues cancel_all and smart_close for every active trade").
func (m *Monitor) PanicCloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.exitTrade(ctx, id, domain.ExitPanic)
	}
}

// flushLoop sync-flushes every active trade's mutable fields to C1
// every 30s (spec §4.9); individual triggers/transitions are already
// flushed synchronously in exitTrade.
func (m *Monitor) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.flushAll(ctx)
		}
	}
}

func (m *Monitor) flushAll(ctx context.Context) {
	m.mu.Lock()
	states := make([]*tradeState, 0, len(m.byID))
	for _, s := range m.byID {
		states = append(states, s)
	}
	m.mu.Unlock()

	for _, state := range states {
		state.mu.Lock()
		state.trade.LastFlushedAt = time.Now()
		trade := state.trade
		state.mu.Unlock()

		if err := m.store.Save(ctx, &trade); err != nil {
			m.log.Warn().Err(err).Str("trade_id", trade.ID).Msg("periodic flush failed")
		}
	}
}
