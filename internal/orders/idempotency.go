package orders

import (
	"context"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

func (r *Router) checkDedup(ctx context.Context, clientOrderID string) (*domain.PlaceResult, bool, error) {
	raw, found, err := r.backend.Get(ctx, cache.NamespaceOrders, clientOrderID)
	if err != nil || !found {
		return nil, false, err
	}
	var result domain.PlaceResult
	if err := cache.Decode(raw, &result); err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

func (r *Router) storeDedup(ctx context.Context, clientOrderID string, result *domain.PlaceResult) error {
	encoded, err := cache.Encode(result)
	if err != nil {
		return err
	}
	return r.backend.Set(ctx, cache.NamespaceOrders, clientOrderID, encoded, dedupTTL)
}

// smartCloseDedupKey builds the idempotency key for smart_close, which
// dedups per (user, symbol, exchange, product) rather than per
// client-order-id.
func smartCloseDedupKey(userID, symbol, exchange, product string) string {
	return "smart_close:" + userID + ":" + symbol + ":" + exchange + ":" + product
}
