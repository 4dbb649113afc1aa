package marketfeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
)

// UpstreamFactory builds the broker-specific upstream feed for a
// (user, broker) pair the first time it's needed.
type UpstreamFactory func(ctx context.Context, userID, broker string) (UpstreamFeed, error)

// Registry owns one Hub per (user, broker) pair, creating it lazily
// on first subscribe and tearing it down when asked.
type Registry struct {
	factory UpstreamFactory
	events  *events.Manager
	log     zerolog.Logger

	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewRegistry(factory UpstreamFactory, mgr *events.Manager, log zerolog.Logger) *Registry {
	return &Registry{
		factory: factory,
		events:  mgr,
		log:     log.With().Str("component", "marketfeed_registry").Logger(),
		hubs:    make(map[string]*Hub),
	}
}

func hubKey(userID, broker string) string { return userID + ":" + broker }

// HubFor returns the hub for (userID, broker), creating and starting
// it on first use.
func (r *Registry) HubFor(ctx context.Context, userID, broker string) (*Hub, error) {
	key := hubKey(userID, broker)

	r.mu.Lock()
	if hub, ok := r.hubs[key]; ok {
		r.mu.Unlock()
		return hub, nil
	}
	r.mu.Unlock()

	upstream, err := r.factory(ctx, userID, broker)
	if err != nil {
		return nil, fmt.Errorf("marketfeed: build upstream for %s/%s: %w", userID, broker, err)
	}
	hub := NewHub(userID, broker, upstream, r.events, r.log)

	r.mu.Lock()
	if existing, ok := r.hubs[key]; ok {
		r.mu.Unlock()
		_ = upstream.Close()
		return existing, nil
	}
	r.hubs[key] = hub
	r.mu.Unlock()

	if err := hub.Start(ctx); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Str("broker", broker).Msg("hub started in degraded state, reconnect loop running")
	}
	return hub, nil
}

// LastPrice reports the most recently observed tick for (symbol,
// exchange) across every live hub, regardless of which user's upstream
// connection happened to carry it — satisfies sandbox.LTPSource and
// webhook.LastPriceSource, neither of which is scoped to one user.
func (r *Registry) LastPrice(ctx context.Context, symbol string, exchange domain.Exchange) (float64, error) {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, hub := range r.hubs {
		hubs = append(hubs, hub)
	}
	r.mu.Unlock()

	var best domain.Tick
	found := false
	for _, hub := range hubs {
		tick, ok := hub.LastTick(symbol, exchange)
		if !ok {
			continue
		}
		if !found || tick.Time.After(best.Time) {
			best = tick
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("marketfeed: no live tick for %s/%s", symbol, exchange)
	}
	return best.LTP, nil
}

// CloseAll stops every hub, for graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, hub := range r.hubs {
		if err := hub.Stop(); err != nil {
			r.log.Warn().Err(err).Str("hub", key).Msg("error stopping hub")
		}
	}
	r.hubs = make(map[string]*Hub)
}
