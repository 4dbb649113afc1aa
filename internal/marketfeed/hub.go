// Package marketfeed implements the market-data fanout component
// (spec §4.4): one upstream connection per (user, broker), tick
// normalisation, and fanout to internal subscribers and external WS
// clients, with reconnect/backoff grounded on the teacher's
// websocket_client.go.
package marketfeed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
)

const (
	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 60 * time.Second
	maxReconnectAttempts = 10

	subscriberBuffer = 256
)

// subKey identifies one (symbol, exchange, mode) topic within a hub.
type subKey struct {
	Symbol   string
	Exchange domain.Exchange
	Mode     domain.SubscriptionMode
}

func keyFor(symbol string, exchange domain.Exchange, mode domain.SubscriptionMode) subKey {
	return subKey{Symbol: symbol, Exchange: exchange, Mode: mode}
}

// subState tracks one hub-level subscription: the ref count of
// distinct callers (internal consumers and external WS clients) and
// the actual depth level in use, which may be lower than requested
// per the fallback rule.
type subState struct {
	refCount   int
	depthLevel domain.DepthLevel
	isFallback bool
}

// Hub owns one upstream connection for a (user, broker) pair and fans
// out every tick it receives to internal subscriber channels.
type Hub struct {
	UserID string
	Broker string

	upstream UpstreamFeed
	events   *events.Manager
	log      zerolog.Logger

	mu           sync.Mutex
	subs         map[subKey]*subState
	subscribers  map[chan domain.Tick]subKey
	lastTicks    map[domain.SymbolKey]domain.Tick
	connected    bool
	stopped      bool
	reconnecting bool
	downSince    time.Time

	stopCh chan struct{}
}

func NewHub(userID, broker string, upstream UpstreamFeed, mgr *events.Manager, log zerolog.Logger) *Hub {
	return &Hub{
		UserID:      userID,
		Broker:      broker,
		upstream:    upstream,
		events:      mgr,
		log:         log.With().Str("component", "marketfeed").Str("user_id", userID).Str("broker", broker).Logger(),
		subs:        make(map[subKey]*subState),
		subscribers: make(map[chan domain.Tick]subKey),
		lastTicks:   make(map[domain.SymbolKey]domain.Tick),
		stopCh:      make(chan struct{}),
	}
}

// Start connects upstream and begins the read-and-fanout loop.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.upstream.Connect(ctx); err != nil {
		go h.reconnectLoop(ctx)
		return fmt.Errorf("marketfeed: initial connect failed, reconnecting in background: %w", err)
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()

	go h.readLoop(ctx)
	return nil
}

// Stop tears down the hub permanently.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stopCh)
	return h.upstream.Close()
}

// Subscribe adds a reference for sub's topic. If this is the first
// reference, it issues the upstream subscribe; depth requests are
// downgraded per spec §4.4 when the broker doesn't support the
// requested level. The channel returned is an internal fanout
// subscription the caller must drain.
func (h *Hub) Subscribe(ctx context.Context, sub domain.Subscription) (<-chan domain.Tick, domain.DepthLevel, bool, error) {
	key := keyFor(sub.Symbol, sub.Exchange, sub.Mode)

	h.mu.Lock()
	state, exists := h.subs[key]
	if !exists {
		state = &subState{depthLevel: sub.DepthLevel}
		h.subs[key] = state
	}
	state.refCount++
	firstRef := state.refCount == 1
	h.mu.Unlock()

	if firstRef && sub.Mode == domain.ModeDepth {
		actual, isFallback := h.resolveDepth(sub)
		h.mu.Lock()
		state.depthLevel = actual
		state.isFallback = isFallback
		h.mu.Unlock()
		sub.DepthLevel = actual
	}

	if firstRef {
		if err := h.upstream.Subscribe(ctx, sub); err != nil {
			h.mu.Lock()
			state.refCount--
			h.mu.Unlock()
			return nil, 0, false, fmt.Errorf("marketfeed: upstream subscribe failed: %w", err)
		}
	}

	ch := make(chan domain.Tick, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = key
	depth, fallback := state.depthLevel, state.isFallback
	h.mu.Unlock()

	return ch, depth, fallback, nil
}

// Unsubscribe drops a reference; when the last reference for a topic
// is released, the upstream unsubscribe is issued.
func (h *Hub) Unsubscribe(ctx context.Context, sub domain.Subscription, ch <-chan domain.Tick) error {
	key := keyFor(sub.Symbol, sub.Exchange, sub.Mode)

	h.mu.Lock()
	for c := range h.subscribers {
		if c == ch {
			delete(h.subscribers, c)
			close(c)
			break
		}
	}
	state, exists := h.subs[key]
	if !exists {
		h.mu.Unlock()
		return nil
	}
	state.refCount--
	lastRef := state.refCount <= 0
	if lastRef {
		delete(h.subs, key)
	}
	h.mu.Unlock()

	if lastRef {
		return h.upstream.Unsubscribe(ctx, sub)
	}
	return nil
}

// resolveDepth picks the highest broker-supported depth level at or
// below requested, per spec §4.4's fallback rule.
func (h *Hub) resolveDepth(sub domain.Subscription) (domain.DepthLevel, bool) {
	supported, ok := h.upstream.SupportedDepth(sub.Symbol, sub.Exchange)
	if !ok || supported >= sub.DepthLevel {
		return sub.DepthLevel, false
	}
	return supported, true
}

// readLoop drains the upstream tick channel and fans out to every
// internal subscriber. A slow subscriber is dropped for that tick
// only, never torn down (spec §4.4: "at-most-once... delivery").
func (h *Hub) readLoop(ctx context.Context) {
	ticks := h.upstream.Ticks()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				h.handleDisconnect(ctx)
				return
			}
			h.fanOut(tick)
		}
	}
}

// fanOut delivers tick to every subscriber whose topic matches its
// (symbol, exchange) and whose requested mode the tick satisfies. A
// tick with no Mode set (some upstreams don't tag per-mode streams)
// goes to every matching topic.
func (h *Hub) fanOut(tick domain.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTicks[domain.SymbolKey{Symbol: tick.Symbol, Exchange: tick.Exchange}] = tick
	for ch, key := range h.subscribers {
		if key.Symbol != tick.Symbol || key.Exchange != tick.Exchange {
			continue
		}
		if tick.Mode != 0 && tick.Mode < key.Mode {
			continue
		}
		select {
		case ch <- tick:
		default:
			h.log.Debug().Str("symbol", tick.Symbol).Msg("subscriber buffer full, tick dropped")
		}
	}
}

// LastTick returns the most recent tick this hub has seen for
// (symbol, exchange), for collaborators (sandbox margin/fill
// simulation, webhook LTP-based sizing) that need a last-traded price
// without holding their own subscription.
func (h *Hub) LastTick(symbol string, exchange domain.Exchange) (domain.Tick, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tick, ok := h.lastTicks[domain.SymbolKey{Symbol: symbol, Exchange: exchange}]
	return tick, ok
}

func (h *Hub) handleDisconnect(ctx context.Context) {
	h.mu.Lock()
	h.connected = false
	h.downSince = time.Now()
	h.mu.Unlock()

	h.events.Emit(h.UserID, events.UpstreamStatusData{Broker: h.Broker, UserID: h.UserID, Status: "down"})
	go h.reconnectLoop(ctx)
}

// reconnectLoop implements the exponential-backoff reconnect strategy
// from spec §4.4 (base 5s, cap 60s, 10 attempts before it starts
// alerting-and-continuing rather than giving up), grounded on the
// teacher's MarketStatusWebSocket.reconnectLoop.
func (h *Hub) reconnectLoop(ctx context.Context) {
	h.mu.Lock()
	if h.reconnecting || h.stopped {
		h.mu.Unlock()
		return
	}
	h.reconnecting = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.reconnecting = false
		h.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-h.stopCh:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)

		if attempt <= maxReconnectAttempts {
			h.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("attempting upstream reconnect")
		} else {
			h.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("upstream still down, alerting and continuing retries")
			h.maybeAlertPausedState()
		}

		select {
		case <-time.After(delay):
		case <-h.stopCh:
			return
		}

		if err := h.upstream.Connect(ctx); err != nil {
			h.log.Error().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		if err := h.resubscribeAll(ctx); err != nil {
			h.log.Error().Err(err).Msg("resubscribe after reconnect failed")
			continue
		}

		h.mu.Lock()
		h.connected = true
		h.mu.Unlock()
		h.events.Emit(h.UserID, events.UpstreamStatusData{Broker: h.Broker, UserID: h.UserID, Status: "up"})
		h.log.Info().Int("attempt", attempt).Msg("upstream reconnected")

		go h.readLoop(ctx)
		return
	}
}

// maybeAlertPausedState emits an upstream "down" event on the events
// bus once recovery has taken longer than maxReconnectAttempts, once
// per disconnect episode rather than on every attempt past the
// threshold. Nothing writes a {type:"status", status:"upstream_down"}
// frame to external WS clients: the proxy does not consume these
// events.
func (h *Hub) maybeAlertPausedState() {
	h.mu.Lock()
	since := h.downSince
	h.downSince = time.Time{}
	h.mu.Unlock()
	if since.IsZero() {
		return
	}
	h.events.Emit(h.UserID, events.UpstreamStatusData{Broker: h.Broker, UserID: h.UserID, Status: "down"})
}

func (h *Hub) resubscribeAll(ctx context.Context) error {
	h.mu.Lock()
	subs := make(map[subKey]*subState, len(h.subs))
	for k, v := range h.subs {
		subs[k] = v
	}
	h.mu.Unlock()

	for key, state := range subs {
		sub := domain.Subscription{
			Symbol:     key.Symbol,
			Exchange:   key.Exchange,
			Mode:       key.Mode,
			DepthLevel: state.depthLevel,
			UserID:     h.UserID,
		}
		if err := h.upstream.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("resubscribe %s/%s failed: %w", key.Symbol, key.Exchange, err)
		}
	}
	return nil
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
