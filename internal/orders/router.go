// Package orders implements the order router (spec §4.5): freeze-
// quantity splitting, idempotency dedup, and live-vs-sandbox mode
// selection, plus the smart_close closure primitive shared by the
// webhook router (C7) and trade monitor (C9).
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/broker"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// dedupTTL is the idempotency window for both place() replays and
// smart_close double-fires (spec §4.5: "dedup window default 2s").
const dedupTTL = 2 * time.Second

// Sandbox is the C6 collaborator the router delegates to when a
// user's analyzer flag is on.
type Sandbox interface {
	Place(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error)
	Modify(ctx context.Context, orderID string, changes domain.OrderChanges) (*domain.OrderRecord, error)
	Cancel(ctx context.Context, orderID string) error
	NetPosition(ctx context.Context, user, symbol, exchange, product string) (float64, error)
	OrderStatus(ctx context.Context, orderID string) (*domain.OrderRecord, error)
}

// BrokerRegistry resolves the live broker.Client for a user, since
// the router is broker-agnostic but each user has an active broker.
type BrokerRegistry interface {
	ClientFor(userID string) (broker.Client, error)
}

// UserFlags reports per-user routing state the router needs but
// doesn't own.
type UserFlags interface {
	AnalyzerMode(ctx context.Context, userID string) (bool, error)
}

// Router is the C5 component.
type Router struct {
	brokers BrokerRegistry
	sandbox Sandbox
	flags   UserFlags
	backend cache.Backend
	freeze  FreezeTable
	log     zerolog.Logger
}

func NewRouter(brokers BrokerRegistry, sandbox Sandbox, flags UserFlags, backend cache.Backend, log zerolog.Logger) *Router {
	return &Router{
		brokers: brokers,
		sandbox: sandbox,
		flags:   flags,
		backend: backend,
		log:     log.With().Str("component", "orders").Logger(),
	}
}

// Place routes intent to either the live broker or the sandbox based
// on the user's analyzer flag, after idempotency dedup and
// freeze-quantity splitting.
func (r *Router) Place(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error) {
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = uuid.NewString()
	}

	if cached, found, err := r.checkDedup(ctx, intent.ClientOrderID); err != nil {
		return nil, err
	} else if found {
		r.log.Info().Str("client_order_id", intent.ClientOrderID).Msg("duplicate place() suppressed, returning cached result")
		return cached, nil
	}

	analyzer, err := r.flags.AnalyzerMode(ctx, intent.UserID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "failed to read analyzer mode", err)
	}

	var result *domain.PlaceResult
	if analyzer {
		intent.Mode = domain.ModeSandbox
		result, err = r.sandbox.Place(ctx, intent)
		if err == nil {
			result.Mode = domain.ModeSandbox
			prefixSandboxIDs(result)
		}
	} else {
		intent.Mode = domain.ModeLive
		result, err = r.placeLive(ctx, intent)
	}
	if err != nil {
		return nil, err
	}

	if err := r.storeDedup(ctx, intent.ClientOrderID, result); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist idempotency record")
	}
	return result, nil
}

func prefixSandboxIDs(result *domain.PlaceResult) {
	for i := range result.Legs {
		if result.Legs[i].BrokerOrderID != "" {
			result.Legs[i].BrokerOrderID = "SB-" + result.Legs[i].BrokerOrderID
		}
	}
}

func (r *Router) placeLive(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error) {
	client, err := r.brokers.ClientFor(intent.UserID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}

	legs, err := r.splitForFreeze(ctx, client, intent)
	if err != nil {
		return nil, err
	}

	result := &domain.PlaceResult{ClientOrderID: intent.ClientOrderID}
	for _, leg := range legs {
		rec, err := client.PlaceOrder(ctx, leg)
		if err != nil {
			result.PartialFailed = true
			result.Errors = append(result.Errors, fmt.Sprintf("leg qty=%d: %v", leg.Quantity, err))
			continue
		}
		result.Legs = append(result.Legs, *rec)
	}
	return result, nil
}

// Modify passes changes through to the live broker or sandbox per the
// order's recorded mode.
func (r *Router) Modify(ctx context.Context, userID, orderID string, changes domain.OrderChanges) (*domain.OrderRecord, error) {
	if isSandboxOrder(orderID) {
		return r.sandbox.Modify(ctx, stripSandboxPrefix(orderID), changes)
	}
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.ModifyOrder(ctx, orderID, changes)
}

// Cancel passes through to the live broker or sandbox per order mode.
func (r *Router) Cancel(ctx context.Context, userID, orderID string) error {
	if isSandboxOrder(orderID) {
		return r.sandbox.Cancel(ctx, stripSandboxPrefix(orderID))
	}
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.CancelOrder(ctx, orderID)
}

// OrderStatus reports the current status of a previously placed order
// from whichever side (live broker or sandbox) it was placed on, used
// by the trade monitor (C9) to detect when a pending_entry order
// reaches complete.
func (r *Router) OrderStatus(ctx context.Context, userID, orderID string) (*domain.OrderRecord, error) {
	if isSandboxOrder(orderID) {
		return r.sandbox.OrderStatus(ctx, stripSandboxPrefix(orderID))
	}
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.OrderStatus(ctx, orderID)
}

func isSandboxOrder(orderID string) bool {
	return len(orderID) >= 3 && orderID[:3] == "SB-"
}

func stripSandboxPrefix(orderID string) string {
	if isSandboxOrder(orderID) {
		return orderID[3:]
	}
	return orderID
}
