// Package risk implements the system-wide panic switch (spec §5, §7):
// "a global panic synchronously sets the in-memory flag, then issues
// cancel_all and smart_close for every active trade; the flag also
// causes C7 and C8 to reject new signals until manually cleared."
// Grounded on the teacher's internal/modules/trading/safety_service.go
// layered-gate-check style: one small coordinating type, no object-
// graph ownership of the components it fans out to.
package risk

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// UserLister enumerates every user the global panic must act across,
// satisfied by internal/auth.UserRegistry.
type UserLister interface {
	ListUserIDs() []string
}

// OrderCanceller is the subset of internal/orders.Router the
// coordinator needs to flatten every user's open orders.
type OrderCanceller interface {
	Orderbook(ctx context.Context, userID string) ([]domain.OrderRecord, error)
	CancelAll(ctx context.Context, userID string, orderIDs []string) (succeeded, failed []string)
}

// TradeCloser closes every trade the monitor (C9) currently
// supervises, satisfied by internal/trademonitor.Monitor.
type TradeCloser interface {
	PanicCloseAll(ctx context.Context)
}

// Coordinator holds the global panic flag. Gate 0 of C7's webhook
// router and C8's alert trigger path both consult Active() before
// accepting new signals / placing panic-path orders.
type Coordinator struct {
	active atomic.Bool
	users  UserLister
	orders OrderCanceller
	trades TradeCloser
	log    zerolog.Logger
}

func NewCoordinator(users UserLister, orders OrderCanceller, trades TradeCloser, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		users:  users,
		orders: orders,
		trades: trades,
		log:    log.With().Str("component", "risk.panic").Logger(),
	}
}

// Active reports whether a global panic is currently in effect.
func (c *Coordinator) Active() bool {
	return c.active.Load()
}

// Trigger sets the flag synchronously, then issues cancel_all over
// every live user's open orders and smart_close for every trade C9
// supervises. The flag is set before any cancellation begins so a
// signal racing the panic is rejected rather than slipping through.
func (c *Coordinator) Trigger(ctx context.Context) {
	c.active.Store(true)
	c.log.Warn().Msg("global panic engaged")

	for _, userID := range c.users.ListUserIDs() {
		orders, err := c.orders.Orderbook(ctx, userID)
		if err != nil {
			c.log.Error().Err(err).Str("user_id", userID).Msg("panic: failed to load orderbook")
			continue
		}
		var openIDs []string
		for _, o := range orders {
			if !o.Terminal() {
				openIDs = append(openIDs, o.BrokerOrderID)
			}
		}
		if len(openIDs) == 0 {
			continue
		}
		succeeded, failed := c.orders.CancelAll(ctx, userID, openIDs)
		c.log.Info().Str("user_id", userID).Int("cancelled", len(succeeded)).Int("failed", len(failed)).Msg("panic: cancel_all complete")
	}

	c.trades.PanicCloseAll(ctx)
	c.log.Warn().Msg("global panic: cancel_all and smart_close complete")
}

// Resume clears the flag; only an explicit admin action calls this
// (spec §7: "the flag stays set until an admin resume action").
func (c *Coordinator) Resume() {
	c.active.Store(false)
	c.log.Warn().Msg("global panic cleared")
}
