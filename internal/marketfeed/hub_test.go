package marketfeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
)

type fakeUpstream struct {
	mu          sync.Mutex
	connectErr  error
	connects    int
	subscribes  []domain.Subscription
	ticks       chan domain.Tick
	depthLimits map[string]domain.DepthLevel
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{ticks: make(chan domain.Tick, 16), depthLimits: make(map[string]domain.DepthLevel)}
}

func (f *fakeUpstream) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeUpstream) Subscribe(ctx context.Context, sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, sub)
	return nil
}

func (f *fakeUpstream) Unsubscribe(ctx context.Context, sub domain.Subscription) error { return nil }

func (f *fakeUpstream) Ticks() <-chan domain.Tick { return f.ticks }

func (f *fakeUpstream) SupportedDepth(symbol string, exchange domain.Exchange) (domain.DepthLevel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lvl, ok := f.depthLimits[symbol]
	return lvl, ok
}

func (f *fakeUpstream) Close() error { return nil }

func TestHub_SubscribeRefCounts(t *testing.T) {
	upstream := newFakeUpstream()
	hub := NewHub("u1", "zerodha", upstream, events.NewManager(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, hub.Start(context.Background()))

	sub := domain.Subscription{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Mode: domain.ModeLTP}

	ch1, _, _, err := hub.Subscribe(context.Background(), sub)
	require.NoError(t, err)
	ch2, _, _, err := hub.Subscribe(context.Background(), sub)
	require.NoError(t, err)

	upstream.mu.Lock()
	subscribeCalls := len(upstream.subscribes)
	upstream.mu.Unlock()
	assert.Equal(t, 1, subscribeCalls, "second subscribe to the same topic should not re-issue upstream subscribe")

	require.NoError(t, hub.Unsubscribe(context.Background(), sub, ch1))
	require.NoError(t, hub.Unsubscribe(context.Background(), sub, ch2))
}

func TestHub_FanOutDeliversToAllSubscribers(t *testing.T) {
	upstream := newFakeUpstream()
	hub := NewHub("u1", "zerodha", upstream, events.NewManager(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, hub.Start(context.Background()))

	sub := domain.Subscription{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Mode: domain.ModeLTP}
	ch1, _, _, err := hub.Subscribe(context.Background(), sub)
	require.NoError(t, err)
	ch2, _, _, err := hub.Subscribe(context.Background(), sub)
	require.NoError(t, err)

	upstream.ticks <- domain.Tick{Symbol: "INFY", Exchange: domain.ExchangeNSE, LTP: 1500}

	select {
	case tick := <-ch1:
		assert.Equal(t, 1500.0, tick.LTP)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick on ch1")
	}
	select {
	case tick := <-ch2:
		assert.Equal(t, 1500.0, tick.LTP)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick on ch2")
	}
}

func TestHub_DepthFallback(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.depthLimits["INFY"] = domain.Depth5
	hub := NewHub("u1", "zerodha", upstream, events.NewManager(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, hub.Start(context.Background()))

	sub := domain.Subscription{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Mode: domain.ModeDepth, DepthLevel: domain.Depth30}
	_, actual, isFallback, err := hub.Subscribe(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, domain.Depth5, actual)
	assert.True(t, isFallback)
}

func TestBackoff_CapsAtMax(t *testing.T) {
	assert.Equal(t, baseReconnectDelay, backoff(1))
	assert.LessOrEqual(t, backoff(20), maxReconnectDelay)
}

func TestHub_FanOutFiltersByTopic(t *testing.T) {
	upstream := newFakeUpstream()
	hub := NewHub("u1", "zerodha", upstream, events.NewManager(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, hub.Start(context.Background()))

	infy := domain.Subscription{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Mode: domain.ModeLTP}
	tcs := domain.Subscription{UserID: "u1", Symbol: "TCS", Exchange: domain.ExchangeNSE, Mode: domain.ModeLTP}

	infyCh, _, _, err := hub.Subscribe(context.Background(), infy)
	require.NoError(t, err)
	tcsCh, _, _, err := hub.Subscribe(context.Background(), tcs)
	require.NoError(t, err)

	upstream.ticks <- domain.Tick{Symbol: "TCS", Exchange: domain.ExchangeNSE, LTP: 3500}

	select {
	case tick := <-tcsCh:
		assert.Equal(t, "TCS", tick.Symbol)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick on the TCS subscription")
	}
	select {
	case tick := <-infyCh:
		t.Fatalf("INFY subscriber received a tick for %s", tick.Symbol)
	case <-time.After(100 * time.Millisecond):
	}
}
