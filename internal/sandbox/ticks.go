package sandbox

import (
	"context"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// OrderStatus satisfies orders.Sandbox: it reports a previously placed
// virtual order's current status, scanning every book since the
// caller only has the bare order id.
func (e *Engine) OrderStatus(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.books {
		b.mu.Lock()
		rec, ok := b.orders[orderID]
		b.mu.Unlock()
		if ok {
			return rec, nil
		}
	}
	return nil, apierr.New(apierr.InvalidParameters, "sandbox: unknown order id "+orderID)
}

// OnTick evaluates every resting order in every book for symbol at
// exchange against the new LTP, filling LIMIT orders when price
// crosses the limit and converting SL/SL-M orders to MARKET/LIMIT
// when price crosses the trigger (spec §4.6).
func (e *Engine) OnTick(symbol string, exchange domain.Exchange, ltp float64) {
	e.mu.Lock()
	keys := make([]bookKey, 0, len(e.books))
	books := make([]*book, 0, len(e.books))
	for key, b := range e.books {
		if key.Symbol == symbol && key.Exchange == exchange {
			keys = append(keys, key)
			books = append(books, b)
		}
	}
	e.mu.Unlock()

	ctx := context.Background()
	for i, b := range books {
		e.evaluateBook(ctx, keys[i], b, ltp)
	}
}

func (e *Engine) evaluateBook(ctx context.Context, key bookKey, b *book, ltp float64) {
	funds := e.fundsFor(ctx, key.UserID, 0)

	b.mu.Lock()
	var stillPending []*domain.OrderRecord
	changed := false
	for _, rec := range b.pending {
		if rec.Terminal() {
			continue
		}
		if triggered, becomesMarket := crosses(rec, ltp); triggered {
			changed = true
			if becomesMarket {
				e.fill(b, rec, ltp, funds)
			} else {
				// SL becomes a resting LIMIT at the trigger's configured
				// limit price; re-queue it for a subsequent limit cross.
				rec.PriceType = domain.PriceTypeLimit
				stillPending = append(stillPending, rec)
			}
			continue
		}
		stillPending = append(stillPending, rec)
	}
	b.pending = stillPending
	b.position.LTP = ltp
	if changed {
		e.persistBook(ctx, key, b)
	}
	b.mu.Unlock()

	if changed {
		e.persistFunds(ctx, key.UserID, funds)
	}
}

// crosses reports whether rec's trigger condition is met at ltp, and
// whether the resulting fill is immediate (MARKET / SL-M) or just a
// price-type transition (SL → LIMIT).
func crosses(rec *domain.OrderRecord, ltp float64) (triggered bool, becomesMarket bool) {
	switch rec.PriceType {
	case domain.PriceTypeLimit:
		if rec.Action == domain.ActionBuy {
			return ltp <= rec.LimitPrice, true
		}
		return ltp >= rec.LimitPrice, true
	case domain.PriceTypeSLM:
		if rec.Action == domain.ActionBuy {
			return ltp >= rec.TriggerPrice, true
		}
		return ltp <= rec.TriggerPrice, true
	case domain.PriceTypeSL:
		if rec.Action == domain.ActionBuy {
			return ltp >= rec.TriggerPrice, false
		}
		return ltp <= rec.TriggerPrice, false
	default:
		return false, false
	}
}
