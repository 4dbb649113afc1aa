package orders

import (
	"context"
	"time"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/broker"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// Quote is a thin passthrough to the user's live broker client (spec
// §4.5: "quote/depth/history/positions/holdings/orderbook/tradebook").
func (r *Router) Quote(ctx context.Context, userID, symbol, exchange string) (broker.Quote, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return broker.Quote{}, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Quote(ctx, symbol, exchange)
}

// Depth is a thin passthrough to the user's live broker client.
func (r *Router) Depth(ctx context.Context, userID, symbol, exchange string, level domain.DepthLevel) (domain.Depth, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return domain.Depth{}, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Depth(ctx, symbol, exchange, level)
}

// History is a thin passthrough to the user's live broker client.
func (r *Router) History(ctx context.Context, userID, symbol, exchange, interval string, from, to time.Time) ([]broker.HistoryBar, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.History(ctx, symbol, exchange, interval, from, to)
}

// Positions is a thin passthrough to the user's live broker client.
func (r *Router) Positions(ctx context.Context, userID string) ([]domain.Position, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Positions(ctx, userID)
}

// Holdings is a thin passthrough to the user's live broker client.
func (r *Router) Holdings(ctx context.Context, userID string) ([]domain.Position, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Holdings(ctx, userID)
}

// Orderbook is a thin passthrough to the user's live broker client.
func (r *Router) Orderbook(ctx context.Context, userID string) ([]domain.OrderRecord, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Orderbook(ctx, userID)
}

// Tradebook is a thin passthrough to the user's live broker client.
func (r *Router) Tradebook(ctx context.Context, userID string) ([]domain.OrderRecord, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Tradebook(ctx, userID)
}

// Funds is a thin passthrough to the user's live broker client.
func (r *Router) Funds(ctx context.Context, userID string) (broker.Funds, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return broker.Funds{}, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Funds(ctx, userID)
}

// Search is a thin passthrough to the user's live broker client's
// symbol-master search, used by the `search` endpoint.
func (r *Router) Search(ctx context.Context, userID, query, exchange string) ([]domain.SymbolRecord, error) {
	client, err := r.brokers.ClientFor(userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "no broker client for user", err)
	}
	return client.Search(ctx, query, exchange)
}

// CancelAll cancels every open order for user matching the optional
// filter (symbol/strategy), delegating to CancelOrder per order id.
// The broker collaborator enumerates the orderbook; this router only
// orchestrates the cancellation fan-out.
func (r *Router) CancelAll(ctx context.Context, userID string, orderIDs []string) (succeeded, failed []string) {
	for _, id := range orderIDs {
		if err := r.Cancel(ctx, userID, id); err != nil {
			failed = append(failed, id)
			continue
		}
		succeeded = append(succeeded, id)
	}
	return succeeded, failed
}
