package strategies

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// PositionCloser is the smart_close collaborator the square-off job
// flattens intraday positions through; satisfied by
// internal/orders.Router.
type PositionCloser interface {
	SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error)
}

// OrderCanceller cancels a strategy's still-pending orders at
// square-off time; satisfied by internal/orders.Router.
type OrderCanceller interface {
	Orderbook(ctx context.Context, userID string) ([]domain.OrderRecord, error)
	Cancel(ctx context.Context, userID, orderID string) error
}

// SquareOffJob runs every minute and, for each active intraday
// strategy whose configured square-off time falls in the current
// minute, flattens every MIS position attributable to the strategy
// via smart_close and cancels its pending orders (spec §4.7 step 6).
// Its order relative to signals arriving in the same minute is not
// enforced; the webhook router's schedule gate rejects signals only
// after the strategy's EndTime, which is independent of SquareOffAt.
type SquareOffJob struct {
	store  *Store
	trades ActiveTradeCounter
	closer PositionCloser
	orders OrderCanceller
	log    zerolog.Logger
}

func NewSquareOffJob(store *Store, trades ActiveTradeCounter, closer PositionCloser, orders OrderCanceller, log zerolog.Logger) *SquareOffJob {
	return &SquareOffJob{
		store:  store,
		trades: trades,
		closer: closer,
		orders: orders,
		log:    log.With().Str("component", "strategy_square_off").Logger(),
	}
}

func (j *SquareOffJob) Name() string { return "strategies.square_off" }

func (j *SquareOffJob) Run() error {
	ctx := context.Background()
	nowMinute := time.Now().Format("15:04")

	all, err := j.store.All(ctx)
	if err != nil {
		return err
	}

	for _, st := range all {
		if !st.Schedule.Intraday || st.Schedule.SquareOffAt == "" {
			continue
		}
		if clockMinute(st.Schedule.SquareOffAt) != nowMinute {
			continue
		}
		j.squareOff(ctx, st)
	}
	return nil
}

func clockMinute(clock string) string {
	if len(clock) >= 5 {
		return clock[:5]
	}
	return clock
}

func (j *SquareOffJob) squareOff(ctx context.Context, st *domain.StrategyInstance) {
	log := j.log.With().Str("strategy_id", st.ID).Logger()

	trades, err := j.trades.TradesForStrategy(ctx, st.ID)
	if err != nil {
		log.Error().Err(err).Msg("square-off: failed to list strategy trades")
		return
	}

	// one smart_close per distinct (symbol, exchange, product); the
	// router's own dedup window absorbs accidental double-fires.
	type closeKey struct {
		symbol   string
		exchange domain.Exchange
		product  domain.Product
	}
	seen := make(map[closeKey]struct{})
	for _, t := range trades {
		if t.Product != domain.ProductMIS {
			continue
		}
		key := closeKey{symbol: t.Symbol, exchange: t.Exchange, product: t.Product}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, err := j.closer.SmartClose(ctx, t.UserID, t.Symbol, string(t.Exchange), string(t.Product), "strategy_square_off"); err != nil {
			log.Error().Err(err).Str("symbol", t.Symbol).Msg("square-off: smart_close failed")
		}
	}

	book, err := j.orders.Orderbook(ctx, st.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("square-off: failed to read orderbook for pending-order cancellation")
		return
	}
	for _, rec := range book {
		if rec.Strategy != st.ID || rec.Terminal() {
			continue
		}
		if err := j.orders.Cancel(ctx, st.UserID, rec.BrokerOrderID); err != nil {
			log.Warn().Err(err).Str("order_id", rec.BrokerOrderID).Msg("square-off: cancel failed")
		}
	}
	log.Info().Int("positions_closed", len(seen)).Msg("strategy square-off completed")
}
