package orders

import (
	"context"
	"time"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// SmartClose is the closure primitive used by the webhook router (C7)
// and trade monitor (C9): regardless of any tracked quantity, it
// flattens whatever net position the broker actually reports for
// (user, symbol, exchange, product). Flat positions are a no-op.
// Idempotent per (user, symbol, exchange, product) within dedupTTL to
// absorb double-clicks and monitor double-fires.
func (r *Router) SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error) {
	key := smartCloseDedupKey(userID, symbol, exchange, product)

	if cached, found, err := r.checkDedup(ctx, key); err != nil {
		return nil, err
	} else if found {
		r.log.Info().Str("user_id", userID).Str("symbol", symbol).Str("reason", reason).Msg("smart_close suppressed as duplicate")
		return cached, nil
	}

	netQty, err := r.NetPosition(ctx, userID, symbol, exchange, product)
	if err != nil {
		return nil, err
	}

	if netQty == 0 {
		result := &domain.PlaceResult{ClientOrderID: key}
		_ = r.storeDedup(ctx, key, result)
		return result, nil
	}

	action := domain.ActionSell
	qty := int(netQty)
	if netQty < 0 {
		action = domain.ActionBuy
		qty = -qty
	}

	intent := domain.OrderIntent{
		UserID:    userID,
		Symbol:    symbol,
		Exchange:  domain.Exchange(exchange),
		Action:    action,
		Product:   domain.Product(product),
		PriceType: domain.PriceTypeMarket,
		Quantity:  qty,
		Strategy:  "smart_close:" + reason,
		CreatedAt: time.Now(),
	}

	result, err := r.Place(ctx, intent)
	if err != nil {
		return nil, err
	}
	_ = r.storeDedup(ctx, key, result)
	return result, nil
}

// NetPosition reports the broker- or sandbox-reported net quantity for
// (user, symbol, exchange, product), routed by the user's analyzer
// flag exactly like Place. Used by smart_close and by the trade
// monitor's recovery reconciliation (spec §4.9).
func (r *Router) NetPosition(ctx context.Context, userID, symbol, exchange, product string) (float64, error) {
	analyzer, err := r.flags.AnalyzerMode(ctx, userID)
	if err != nil {
		return 0, apierr.Wrap(apierr.UpstreamError, "failed to read analyzer mode", err)
	}

	if analyzer {
		netQty, err := r.sandbox.NetPosition(ctx, userID, symbol, exchange, product)
		if err != nil {
			return 0, apierr.Wrap(apierr.UpstreamError, "failed to read sandbox net position", err)
		}
		return netQty, nil
	}

	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return 0, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	netQty, err := client.NetPosition(ctx, userID, symbol, exchange, product)
	if err != nil {
		return 0, apierr.Wrap(apierr.UpstreamError, "failed to read broker net position", err)
	}
	return netQty, nil
}
