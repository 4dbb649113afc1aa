package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// StrategyStore resolves a webhook id to the strategy instance it
// belongs to, and reports its dedup window / symbol map / funds
// state.
type StrategyStore interface {
	StrategyByWebhookID(ctx context.Context, webhookID string) (*domain.StrategyInstance, error)
	Secret(ctx context.Context, strategyID string) ([]byte, error)
}

// OrderPlacer is the C5 collaborator the router forwards successful
// signals to.
type OrderPlacer interface {
	Place(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error)
}

// SymbolResolver is the C2 collaborator used to validate signal-style
// symbols (those not constrained to a configured map).
type SymbolResolver interface {
	Resolve(ctx context.Context, broker, symbol string, exchange domain.Exchange) (*domain.SymbolRecord, error)
}

// LastPriceSource supplies the LTP used for position-size computation.
type LastPriceSource interface {
	LastPrice(ctx context.Context, symbol string, exchange domain.Exchange) (float64, error)
}

// PositionCounter reports how many trades the trade monitor (C9) is
// currently supervising on behalf of a strategy, for the
// max-open-positions gate.
type PositionCounter interface {
	OpenPositionCount(ctx context.Context, strategyID string) (int, error)
}

// GlobalPanic reports whether the system-wide panic switch (spec §5,
// §7) is engaged; while active, every strategy's signals are rejected
// regardless of its own active/panic flags.
type GlobalPanic interface {
	Active() bool
}

// Router is the C7 component.
type Router struct {
	store     StrategyStore
	orders    OrderPlacer
	symbols   SymbolResolver
	prices    LastPriceSource
	positions PositionCounter
	panic     GlobalPanic
	backend   cache.Backend
	log       zerolog.Logger
}

func NewRouter(store StrategyStore, orders OrderPlacer, symbols SymbolResolver, prices LastPriceSource, positions PositionCounter, panic GlobalPanic, backend cache.Backend, log zerolog.Logger) *Router {
	return &Router{
		store: store, orders: orders, symbols: symbols, prices: prices, positions: positions, panic: panic, backend: backend,
		log: log.With().Str("component", "webhook").Logger(),
	}
}

// HandleSignal runs the six gate checks from spec §4.7 in order and,
// on success, forwards the resulting order intent to C5. A rejected
// gate produces a structured log line and an error; it is never
// retried automatically.
func (r *Router) HandleSignal(ctx context.Context, webhookID string, body []byte, signatureHex string, sig Signal) (*domain.PlaceResult, error) {
	strategy, err := r.store.StrategyByWebhookID(ctx, webhookID)
	if err != nil || strategy == nil {
		return nil, apierr.New(apierr.InvalidParameters, "webhook: unknown webhook id")
	}

	secret, err := r.store.Secret(ctx, strategy.ID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "webhook: failed to load strategy secret", err)
	}
	if err := VerifySignature(secret, body, signatureHex); err != nil {
		return nil, apierr.New(apierr.AuthenticationRequired, err.Error())
	}

	log := r.log.With().Str("strategy_id", strategy.ID).Str("symbol", sig.Symbol).Logger()

	// Gate 0: system-wide panic switch, independent of this
	// strategy's own active/panic flags.
	if r.panic != nil && r.panic.Active() {
		log.Warn().Msg("gate 0 rejected: global panic engaged")
		return nil, apierr.New(apierr.RiskRejected, "webhook: global panic is engaged")
	}

	// Gate 1: active + not panicked.
	if !strategy.AcceptsSignal() {
		log.Warn().Msg("gate 1 rejected: strategy inactive or panicked")
		return nil, apierr.New(apierr.RiskRejected, "webhook: strategy is inactive or in panic state")
	}

	// Gate 2: schedule window, only enforced for intraday strategies.
	if strategy.Schedule.Intraday && !withinSchedule(strategy.Schedule, time.Now()) {
		log.Warn().Msg("gate 2 rejected: outside strategy schedule window")
		return nil, apierr.New(apierr.RiskRejected, "webhook: outside strategy's schedule window")
	}

	// Gate 3: symbol membership / resolvability.
	exchange := domain.Exchange(sig.Exchange)
	if sig.Kind == SignalChartink {
		if !symbolInMap(strategy.SymbolMap, sig.Symbol) {
			log.Warn().Msg("gate 3 rejected: symbol not in strategy's configured map")
			return nil, apierr.New(apierr.SymbolNotFound, "webhook: symbol not configured for this strategy")
		}
	} else {
		if _, err := r.symbols.Resolve(ctx, strategy.UserID, sig.Symbol, exchange); err != nil {
			log.Warn().Err(err).Msg("gate 3 rejected: symbol not resolvable")
			return nil, apierr.Wrap(apierr.SymbolNotFound, "webhook: symbol not resolvable", err)
		}
	}

	// Gate 4: duplicate suppression.
	if sig.Timestamp == 0 {
		sig.Timestamp = time.Now().Unix()
	}
	dedupKey := dedupKeyFor(strategy, sig)
	if seen, err := r.checkDuplicate(ctx, dedupKey); err != nil {
		return nil, err
	} else if seen {
		log.Warn().Msg("gate 4 rejected: duplicate signal within dedup window")
		return nil, apierr.New(apierr.DuplicateOrder, "webhook: duplicate signal suppressed")
	}

	// Gate 5: position sizing + limits.
	qty, err := r.computeQuantity(ctx, strategy, sig, exchange)
	if err != nil {
		log.Warn().Err(err).Msg("gate 5 rejected: position sizing failed")
		return nil, err
	}
	if strategy.MaxOpenPositions > 0 {
		open, err := r.positions.OpenPositionCount(ctx, strategy.ID)
		if err != nil {
			return nil, apierr.Wrap(apierr.UpstreamError, "webhook: failed to read open position count", err)
		}
		if open >= strategy.MaxOpenPositions {
			log.Warn().Msg("gate 5 rejected: max open positions reached")
			return nil, apierr.New(apierr.RiskRejected, "webhook: strategy has reached its max open positions")
		}
	}
	if strategy.DailyLossLimit > 0 && strategy.DayPnL <= -strategy.DailyLossLimit {
		log.Warn().Msg("gate 5 rejected: daily loss limit breached")
		return nil, apierr.New(apierr.RiskRejected, "webhook: strategy's daily loss limit has been breached")
	}

	// Gate 6 (square-off at configured time) is clock-driven, not
	// evaluated per-signal here: strategies.SquareOffJob fires each
	// intraday strategy's smart_close/cancel sweep at its configured
	// minute, and the schedule gate above already rejects signals
	// arriving past the intraday window.

	if err := r.storeDuplicate(ctx, dedupKey); err != nil {
		log.Warn().Err(err).Msg("failed to persist dedup marker")
	}

	intent := domain.OrderIntent{
		UserID:    strategy.UserID,
		Symbol:    sig.Symbol,
		Exchange:  exchange,
		Action:    toOrderAction(sig.Action),
		Product:   domain.ProductMIS,
		PriceType: domain.PriceTypeMarket,
		Quantity:  qty,
		Strategy:  strategy.ID,
		CreatedAt: time.Now(),
	}
	return r.orders.Place(ctx, intent)
}

func toOrderAction(a Action) domain.Action {
	switch a {
	case ActionBuy, ActionCover:
		return domain.ActionBuy
	default:
		return domain.ActionSell
	}
}

func withinSchedule(sched domain.Schedule, now time.Time) bool {
	if len(sched.Weekdays) > 0 && !weekdayAllowed(sched.Weekdays, now.Weekday()) {
		return false
	}
	nowClock := now.Format("15:04:05")
	return nowClock >= sched.StartTime && nowClock <= sched.EndTime
}

func weekdayAllowed(allowed []time.Weekday, day time.Weekday) bool {
	for _, d := range allowed {
		if d == day {
			return true
		}
	}
	return false
}

// symbolInMap is the scanner-style membership check: the symbol must
// appear in the strategy's configured map. An empty map admits
// nothing — a scanner strategy with no symbols configured cannot
// trade.
func symbolInMap(symbolMap map[string]string, symbol string) bool {
	_, ok := symbolMap[symbol]
	return ok
}

func dedupKeyFor(strategy *domain.StrategyInstance, sig Signal) string {
	// the signal timestamp is rounded to the strategy's configured
	// dedup window (spec §4.7 gate 4), defaulting to one minute.
	window := int64(strategy.DedupWindowMins) * 60
	if window <= 0 {
		window = 60
	}
	rounded := sig.Timestamp / window
	return fmt.Sprintf("%s:%s:%s:%d", strategy.ID, sig.Symbol, sig.Action, rounded)
}

const dedupTTL = 5 * time.Minute

func (r *Router) checkDuplicate(ctx context.Context, key string) (bool, error) {
	return r.backend.Exists(ctx, cache.NamespaceStrategies, "dedup:"+key)
}

func (r *Router) storeDuplicate(ctx context.Context, key string) error {
	return r.backend.Set(ctx, cache.NamespaceStrategies, "dedup:"+key, []byte("1"), dedupTTL)
}

// computeQuantity applies the strategy's position-size rule using the
// current LTP and allocated funds (spec §4.7 gate 5).
func (r *Router) computeQuantity(ctx context.Context, strategy *domain.StrategyInstance, sig Signal, exchange domain.Exchange) (int, error) {
	if sig.Quantity > 0 {
		return sig.Quantity, nil
	}

	ltp, err := r.prices.LastPrice(ctx, sig.Symbol, exchange)
	if err != nil || ltp <= 0 {
		return 0, apierr.Wrap(apierr.UpstreamError, "webhook: no price available for position sizing", err)
	}

	switch strategy.SizeRule {
	case domain.SizeFixedQty:
		return int(strategy.SizeValue), nil
	case domain.SizeFixedValue:
		qty := int(strategy.SizeValue / ltp)
		if qty <= 0 {
			return 0, apierr.New(apierr.InvalidParameters, "webhook: fixed-value sizing produced zero quantity")
		}
		return qty, nil
	case domain.SizePercent:
		value := strategy.AllocatedFunds * (strategy.SizeValue / 100)
		qty := int(value / ltp)
		if qty <= 0 {
			return 0, apierr.New(apierr.InvalidParameters, "webhook: percent sizing produced zero quantity")
		}
		return qty, nil
	default:
		return 0, apierr.New(apierr.InvalidParameters, "webhook: unknown position-size rule")
	}
}
