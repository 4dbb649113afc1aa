package sandbox

import (
	"context"
	"time"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// namespaces under cache.NamespaceSandboxPrefix (spec §6: "sandbox_*"
// cache namespaces) — one for virtual books, one for virtual funds.
const (
	namespaceBooks = cache.NamespaceSandboxPrefix + "books"
	namespaceFunds = cache.NamespaceSandboxPrefix + "funds"
)

// bookSnapshot is the persisted shape of a book, written through to
// C1 on every state change so the sandbox survives a restart (spec
// §4.6: "all persisted via C1 namespaces").
type bookSnapshot struct {
	Position domain.Position
	Orders   map[string]*domain.OrderRecord
	Pending  []*domain.OrderRecord
	Margin   map[string]float64
}

func bookKeyString(key bookKey) string {
	return key.UserID + "|" + key.Symbol + "|" + string(key.Exchange) + "|" + string(key.Product)
}

// persistBook flushes b's current state to C1. Called with b.mu held
// by the caller. Failures are retried a few times with a short
// backoff and, if still failing, logged and otherwise ignored — the
// engine keeps running on its in-memory state (spec §7: "any failure
// in a persistence flush is retried up to 3 times with backoff; if
// still failing, the engine emits an operational alert but continues
// running on in-memory state").
func (e *Engine) persistBook(ctx context.Context, key bookKey, b *book) {
	if e.backend == nil {
		return
	}
	snap := bookSnapshot{Position: b.position, Orders: b.orders, Pending: b.pending, Margin: b.marginByOrder}
	encoded, err := cache.Encode(snap)
	if err != nil {
		e.log.Error().Err(err).Str("book", bookKeyString(key)).Msg("sandbox: failed to encode book for persistence")
		return
	}
	e.flushWithRetry(ctx, func() error {
		return e.backend.Set(ctx, namespaceBooks, bookKeyString(key), encoded, 0)
	}, "book", bookKeyString(key))
}

// loadBook reads a previously persisted book snapshot, if any.
func (e *Engine) loadBook(ctx context.Context, key bookKey) (bookSnapshot, bool) {
	var snap bookSnapshot
	if e.backend == nil {
		return snap, false
	}
	raw, found, err := e.backend.Get(ctx, namespaceBooks, bookKeyString(key))
	if err != nil || !found {
		return snap, false
	}
	if err := cache.Decode(raw, &snap); err != nil {
		e.log.Error().Err(err).Str("book", bookKeyString(key)).Msg("sandbox: failed to decode persisted book, starting flat")
		return snap, false
	}
	if snap.Orders == nil {
		snap.Orders = make(map[string]*domain.OrderRecord)
	}
	return snap, true
}

// persistFunds flushes a user's virtual funds balance to C1.
func (e *Engine) persistFunds(ctx context.Context, userID string, f *Funds) {
	if e.backend == nil {
		return
	}
	e.mu.Lock()
	snap := *f
	e.mu.Unlock()

	encoded, err := cache.Encode(snap)
	if err != nil {
		e.log.Error().Err(err).Str("user_id", userID).Msg("sandbox: failed to encode funds for persistence")
		return
	}
	e.flushWithRetry(ctx, func() error {
		return e.backend.Set(ctx, namespaceFunds, userID, encoded, 0)
	}, "funds", userID)
}

// loadFunds reads a previously persisted funds balance, if any.
func (e *Engine) loadFunds(ctx context.Context, userID string) (*Funds, bool) {
	if e.backend == nil {
		return nil, false
	}
	raw, found, err := e.backend.Get(ctx, namespaceFunds, userID)
	if err != nil || !found {
		return nil, false
	}
	var f Funds
	if err := cache.Decode(raw, &f); err != nil {
		e.log.Error().Err(err).Str("user_id", userID).Msg("sandbox: failed to decode persisted funds, starting flat")
		return nil, false
	}
	return &f, true
}

// flushWithRetry runs fn up to 3 times with a short linear backoff
// before giving up and logging, per spec §7's persistence-flush policy.
func (e *Engine) flushWithRetry(_ context.Context, fn func() error, what, id string) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}
	e.log.Error().Err(err).Str("what", what).Str("id", id).Msg("sandbox: persistence flush failed after retries, continuing on in-memory state")
}

// ensureSubscribed wires the engine's OnTick to the live C4 feed for
// (symbol, exchange) the first time a resting order needs real ticks
// to fill against. Subscriptions are keyed process-wide, not per
// user: the sandbox fills every user's resting orders off the same
// LTP stream, so one live subscription per symbol is enough.
func (e *Engine) ensureSubscribed(ctx context.Context, userID, brokerName, symbol string, exchange domain.Exchange) {
	if e.hubs == nil {
		return
	}
	topic := symbol + "|" + string(exchange)

	e.mu.Lock()
	if _, ok := e.subscribed[topic]; ok {
		e.mu.Unlock()
		return
	}
	e.subscribed[topic] = struct{}{}
	e.mu.Unlock()

	go e.subscribeLoop(ctx, userID, brokerName, symbol, exchange, topic)
}

func (e *Engine) subscribeLoop(ctx context.Context, userID, brokerName, symbol string, exchange domain.Exchange, topic string) {
	broker := brokerName
	if broker == "" && e.brokers != nil {
		if b, err := e.brokers.BrokerFor(ctx, userID); err == nil {
			broker = b
		}
	}
	if broker == "" {
		e.log.Warn().Str("symbol", symbol).Msg("sandbox: no broker to subscribe resting orders against, falling back to manual OnTick")
		e.mu.Lock()
		delete(e.subscribed, topic)
		e.mu.Unlock()
		return
	}

	hub, err := e.hubs.HubFor(ctx, userID, broker)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("sandbox: failed to acquire feed hub for resting orders")
		e.mu.Lock()
		delete(e.subscribed, topic)
		e.mu.Unlock()
		return
	}

	ch, _, _, err := hub.Subscribe(ctx, domain.Subscription{UserID: userID, Symbol: symbol, Exchange: exchange, Mode: domain.ModeLTP})
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("sandbox: failed to subscribe to market data for resting orders")
		e.mu.Lock()
		delete(e.subscribed, topic)
		e.mu.Unlock()
		return
	}

	for tick := range ch {
		e.OnTick(symbol, exchange, tick.LTP)
	}
}
