package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

type fakeStrategyStore struct {
	strategy *domain.StrategyInstance
	secret   []byte
}

func (f *fakeStrategyStore) StrategyByWebhookID(_ context.Context, webhookID string) (*domain.StrategyInstance, error) {
	if f.strategy == nil || f.strategy.WebhookID != webhookID {
		return nil, nil
	}
	return f.strategy, nil
}

func (f *fakeStrategyStore) Secret(_ context.Context, _ string) ([]byte, error) {
	return f.secret, nil
}

type fakeOrderPlacer struct {
	placed []domain.OrderIntent
}

func (f *fakeOrderPlacer) Place(_ context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error) {
	f.placed = append(f.placed, intent)
	return &domain.PlaceResult{ClientOrderID: "co-1", Mode: domain.ModeLive}, nil
}

type fakeSymbolResolver struct{ known map[string]bool }

func (f *fakeSymbolResolver) Resolve(_ context.Context, _, symbol string, _ domain.Exchange) (*domain.SymbolRecord, error) {
	if f.known[symbol] {
		return &domain.SymbolRecord{Symbol: symbol}, nil
	}
	return nil, assertNotFoundErr
}

var assertNotFoundErr = assertErr("symbol not found")

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakePriceSource struct{ price float64 }

func (f fakePriceSource) LastPrice(_ context.Context, _ string, _ domain.Exchange) (float64, error) {
	return f.price, nil
}

type fakePositionCounter struct{ count int }

func (f fakePositionCounter) OpenPositionCount(_ context.Context, _ string) (int, error) {
	return f.count, nil
}

func newTestRouter(t *testing.T, strategy *domain.StrategyInstance, secret []byte) (*Router, *fakeOrderPlacer) {
	t.Helper()
	store := &fakeStrategyStore{strategy: strategy, secret: secret}
	orders := &fakeOrderPlacer{}
	symbols := &fakeSymbolResolver{known: map[string]bool{"INFY": true}}
	prices := fakePriceSource{price: 100}
	positions := fakePositionCounter{count: 0}
	backend := cache.NewMemoryBackend(1000)
	r := NewRouter(store, orders, symbols, prices, positions, nil, backend, zerolog.Nop())
	return r, orders
}

func activeStrategy() *domain.StrategyInstance {
	return &domain.StrategyInstance{
		ID: "s1", UserID: "u1", WebhookID: "wh1", Active: true,
		SizeRule: domain.SizeFixedQty, SizeValue: 5,
	}
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRouter_HandleSignal_Success(t *testing.T) {
	secret := []byte("topsecret")
	strategy := activeStrategy()
	r, orders := newTestRouter(t, strategy, secret)

	body := []byte(`{"symbol":"INFY","action":"BUY"}`)
	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}

	_, err := r.HandleSignal(context.Background(), "wh1", body, sign(secret, body), sig)
	require.NoError(t, err)
	require.Len(t, orders.placed, 1)
	assert.Equal(t, 5, orders.placed[0].Quantity)
	assert.Equal(t, domain.ActionBuy, orders.placed[0].Action)
}

func TestRouter_HandleSignal_BadSignatureRejected(t *testing.T) {
	secret := []byte("topsecret")
	strategy := activeStrategy()
	r, orders := newTestRouter(t, strategy, secret)

	body := []byte(`{"symbol":"INFY","action":"BUY"}`)
	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}

	_, err := r.HandleSignal(context.Background(), "wh1", body, "deadbeef", sig)
	assert.Error(t, err)
	assert.Empty(t, orders.placed)
}

func TestRouter_HandleSignal_InactiveStrategyRejected(t *testing.T) {
	strategy := activeStrategy()
	strategy.Active = false
	r, orders := newTestRouter(t, strategy, nil)

	body := []byte(`{}`)
	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}

	_, err := r.HandleSignal(context.Background(), "wh1", body, "", sig)
	assert.Error(t, err)
	assert.Empty(t, orders.placed)
}

func TestRouter_HandleSignal_PanicStrategyRejected(t *testing.T) {
	strategy := activeStrategy()
	strategy.Panic = true
	r, _ := newTestRouter(t, strategy, nil)

	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}
	_, err := r.HandleSignal(context.Background(), "wh1", []byte(`{}`), "", sig)
	assert.Error(t, err)
}

func TestRouter_HandleSignal_UnresolvableSymbolRejected(t *testing.T) {
	strategy := activeStrategy()
	r, orders := newTestRouter(t, strategy, nil)

	sig := Signal{Kind: SignalTradingView, Symbol: "UNKNOWN", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}
	_, err := r.HandleSignal(context.Background(), "wh1", []byte(`{}`), "", sig)
	assert.Error(t, err)
	assert.Empty(t, orders.placed)
}

func TestRouter_HandleSignal_DuplicateSuppressed(t *testing.T) {
	strategy := activeStrategy()
	r, orders := newTestRouter(t, strategy, nil)

	ts := time.Now().Unix()
	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: ts}

	_, err := r.HandleSignal(context.Background(), "wh1", []byte(`{}`), "", sig)
	require.NoError(t, err)

	_, err = r.HandleSignal(context.Background(), "wh1", []byte(`{}`), "", sig)
	assert.Error(t, err)
	assert.Len(t, orders.placed, 1, "second identical signal must be suppressed")
}

func TestRouter_HandleSignal_MaxOpenPositionsRejected(t *testing.T) {
	strategy := activeStrategy()
	strategy.MaxOpenPositions = 1
	store := &fakeStrategyStore{strategy: strategy}
	orders := &fakeOrderPlacer{}
	symbols := &fakeSymbolResolver{known: map[string]bool{"INFY": true}}
	prices := fakePriceSource{price: 100}
	positions := fakePositionCounter{count: 1}
	backend := cache.NewMemoryBackend(1000)
	r := NewRouter(store, orders, symbols, prices, positions, nil, backend, zerolog.Nop())

	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}
	_, err := r.HandleSignal(context.Background(), "wh1", []byte(`{}`), "", sig)
	assert.Error(t, err)
	assert.Empty(t, orders.placed)
}

func TestRouter_HandleSignal_DailyLossLimitRejected(t *testing.T) {
	strategy := activeStrategy()
	strategy.DailyLossLimit = 1000
	strategy.DayPnL = -1500
	r, orders := newTestRouter(t, strategy, nil)

	sig := Signal{Kind: SignalTradingView, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}
	_, err := r.HandleSignal(context.Background(), "wh1", []byte(`{}`), "", sig)
	assert.Error(t, err)
	assert.Empty(t, orders.placed)
}

func TestActionFromScanName(t *testing.T) {
	a, err := ActionFromScanName("Short Term Breakout BUY Scan")
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, a)

	_, err = ActionFromScanName("No keyword here")
	assert.Error(t, err)

	_, err = ActionFromScanName("BUY and SELL both present")
	assert.Error(t, err)
}

func TestChartinkPayload_NormalizeAll(t *testing.T) {
	p := ChartinkPayload{ScanName: "Momentum BUY Scan", Stocks: "INFY, TCS , WIPRO", TriggeredAt: 123}
	signals, err := p.NormalizeAll("NSE")
	require.NoError(t, err)
	require.Len(t, signals, 3)
	assert.Equal(t, "TCS", signals[1].Symbol)
	assert.Equal(t, ActionBuy, signals[0].Action)
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"a":1}`)
	good := sign(secret, body)

	assert.NoError(t, VerifySignature(secret, body, good))
	assert.Error(t, VerifySignature(secret, body, "0000"))
	assert.NoError(t, VerifySignature(nil, body, "anything"), "no secret configured skips verification")
}

func TestRouter_HandleSignal_ScannerEmptySymbolMapRejected(t *testing.T) {
	secret := []byte("topsecret")
	strategy := activeStrategy()
	r, orders := newTestRouter(t, strategy, secret)

	body := []byte(`{"scan_name":"Momentum BUY Scan","stocks":"INFY"}`)
	sig := Signal{Kind: SignalChartink, Symbol: "INFY", Exchange: "NSE", Action: ActionBuy, Timestamp: time.Now().Unix()}

	_, err := r.HandleSignal(context.Background(), "wh1", body, sign(secret, body), sig)
	require.Error(t, err, "a scanner strategy with no configured symbol map admits nothing")
	assert.Empty(t, orders.placed)

	strategy.SymbolMap = map[string]string{"INFY": "INFY"}
	_, err = r.HandleSignal(context.Background(), "wh1", body, sign(secret, body), sig)
	require.NoError(t, err)
	require.Len(t, orders.placed, 1)
}
