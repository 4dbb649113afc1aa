package orders

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/broker"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

type fakeBroker struct {
	placed      []domain.OrderIntent
	freezeLimit int
	hasFreeze   bool
	netPosition float64
	nextOrderID int
}

func (f *fakeBroker) PlaceOrder(_ context.Context, intent domain.OrderIntent) (*domain.OrderRecord, error) {
	f.placed = append(f.placed, intent)
	f.nextOrderID++
	return &domain.OrderRecord{
		OrderIntent:   intent,
		BrokerOrderID: "bo-" + string(rune('0'+f.nextOrderID)),
		Status:        domain.StatusOpen,
	}, nil
}

func (f *fakeBroker) ModifyOrder(_ context.Context, orderID string, _ domain.OrderChanges) (*domain.OrderRecord, error) {
	return &domain.OrderRecord{BrokerOrderID: orderID, Status: domain.StatusOpen}, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, _ string) error { return nil }

func (f *fakeBroker) NetPosition(_ context.Context, _, _, _, _ string) (float64, error) {
	return f.netPosition, nil
}

func (f *fakeBroker) Quote(_ context.Context, symbol, exchange string) (broker.Quote, error) {
	return broker.Quote{Symbol: symbol, Exchange: exchange, LTP: 100}, nil
}

func (f *fakeBroker) FreezeLimit(_ context.Context, _, _ string) (int, bool) {
	return f.freezeLimit, f.hasFreeze
}

func (f *fakeBroker) OrderStatus(_ context.Context, orderID string) (*domain.OrderRecord, error) {
	return &domain.OrderRecord{BrokerOrderID: orderID, Status: domain.StatusComplete}, nil
}

func (f *fakeBroker) Depth(_ context.Context, _, _ string, level domain.DepthLevel) (domain.Depth, error) {
	return domain.Depth{RequestedDepth: level, ActualDepth: level}, nil
}

func (f *fakeBroker) History(_ context.Context, _, _, _ string, _, _ time.Time) ([]broker.HistoryBar, error) {
	return nil, nil
}

func (f *fakeBroker) Positions(_ context.Context, _ string) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeBroker) Holdings(_ context.Context, _ string) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeBroker) Orderbook(_ context.Context, _ string) ([]domain.OrderRecord, error) {
	return nil, nil
}

func (f *fakeBroker) Tradebook(_ context.Context, _ string) ([]domain.OrderRecord, error) {
	return nil, nil
}

func (f *fakeBroker) Funds(_ context.Context, _ string) (broker.Funds, error) {
	return broker.Funds{}, nil
}

func (f *fakeBroker) Search(_ context.Context, _, _ string) ([]domain.SymbolRecord, error) {
	return nil, nil
}

type fakeBrokerRegistry struct {
	client *fakeBroker
}

func (f *fakeBrokerRegistry) ClientFor(_ string) (broker.Client, error) { return f.client, nil }

type fakeSandbox struct {
	placed []domain.OrderIntent
}

func (f *fakeSandbox) Place(_ context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error) {
	f.placed = append(f.placed, intent)
	return &domain.PlaceResult{
		ClientOrderID: intent.ClientOrderID,
		Legs:          []domain.OrderRecord{{OrderIntent: intent, BrokerOrderID: "sbo-1", Status: domain.StatusComplete}},
	}, nil
}

func (f *fakeSandbox) Modify(_ context.Context, orderID string, _ domain.OrderChanges) (*domain.OrderRecord, error) {
	return &domain.OrderRecord{BrokerOrderID: orderID}, nil
}

func (f *fakeSandbox) Cancel(_ context.Context, _ string) error { return nil }

func (f *fakeSandbox) NetPosition(_ context.Context, _, _, _, _ string) (float64, error) {
	return 0, nil
}

func (f *fakeSandbox) OrderStatus(_ context.Context, orderID string) (*domain.OrderRecord, error) {
	return &domain.OrderRecord{BrokerOrderID: orderID, Status: domain.StatusComplete}, nil
}

type fakeFlags struct {
	analyzer map[string]bool
}

func (f *fakeFlags) AnalyzerMode(_ context.Context, userID string) (bool, error) {
	return f.analyzer[userID], nil
}

func newTestRouter(t *testing.T) (*Router, *fakeBroker, *fakeSandbox, *fakeFlags) {
	t.Helper()
	brokerClient := &fakeBroker{}
	sandbox := &fakeSandbox{}
	flags := &fakeFlags{analyzer: map[string]bool{}}
	backend := cache.NewMemoryBackend(1000)
	router := NewRouter(&fakeBrokerRegistry{client: brokerClient}, sandbox, flags, backend, zerolog.Nop())
	return router, brokerClient, sandbox, flags
}

func TestRouter_PlaceLiveMode(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	ctx := context.Background()

	intent := domain.OrderIntent{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Action: domain.ActionBuy, Quantity: 10}
	result, err := router.Place(ctx, intent)
	require.NoError(t, err)
	assert.Empty(t, result.Mode, "live mode omits the mode field for bit-compat")
	assert.Len(t, brokerClient.placed, 1)
}

func TestRouter_PlaceAnalyzerModeRoutesToSandbox(t *testing.T) {
	router, brokerClient, sandbox, flags := newTestRouter(t)
	flags.analyzer["u1"] = true
	ctx := context.Background()

	intent := domain.OrderIntent{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Action: domain.ActionBuy, Quantity: 10}
	result, err := router.Place(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSandbox, result.Mode)
	assert.Empty(t, brokerClient.placed)
	require.Len(t, sandbox.placed, 1)
	require.Len(t, result.Legs, 1)
	assert.Equal(t, "SB-sbo-1", result.Legs[0].BrokerOrderID)
}

func TestRouter_PlaceIdempotentReplay(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	ctx := context.Background()

	intent := domain.OrderIntent{ClientOrderID: "client-1", UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Quantity: 10}
	first, err := router.Place(ctx, intent)
	require.NoError(t, err)

	second, err := router.Place(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, first.ClientOrderID, second.ClientOrderID)
	assert.Len(t, brokerClient.placed, 1, "replay within dedup window must not re-submit")
}

func TestRouter_FreezeQuantitySplitting(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	brokerClient.hasFreeze = true
	brokerClient.freezeLimit = 900
	ctx := context.Background()

	intent := domain.OrderIntent{ClientOrderID: "basket-1", UserID: "u1", Symbol: "NIFTY24JULFUT", Exchange: domain.ExchangeNFO, Quantity: 2000}
	result, err := router.Place(ctx, intent)
	require.NoError(t, err)
	assert.Len(t, result.Legs, 3) // 900 + 900 + 200
	assert.Len(t, brokerClient.placed, 3)
	assert.Equal(t, 200, brokerClient.placed[2].Quantity)
}

func TestRouter_SmartCloseNoOpWhenFlat(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	brokerClient.netPosition = 0
	ctx := context.Background()

	result, err := router.SmartClose(ctx, "u1", "INFY", "NSE", "MIS", "manual")
	require.NoError(t, err)
	assert.Empty(t, result.Legs)
	assert.Empty(t, brokerClient.placed)
}

func TestRouter_SmartCloseFlattensNonZeroPosition(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	brokerClient.netPosition = 15
	ctx := context.Background()

	result, err := router.SmartClose(ctx, "u1", "INFY", "NSE", "MIS", "sl_hit")
	require.NoError(t, err)
	require.Len(t, result.Legs, 1)
	require.Len(t, brokerClient.placed, 1)
	assert.Equal(t, domain.ActionSell, brokerClient.placed[0].Action)
	assert.Equal(t, 15, brokerClient.placed[0].Quantity)
}

func TestRouter_SmartCloseIsIdempotent(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	brokerClient.netPosition = 15
	ctx := context.Background()

	_, err := router.SmartClose(ctx, "u1", "INFY", "NSE", "MIS", "sl_hit")
	require.NoError(t, err)
	_, err = router.SmartClose(ctx, "u1", "INFY", "NSE", "MIS", "sl_hit")
	require.NoError(t, err)
	assert.Len(t, brokerClient.placed, 1, "double-fire within the dedup window must not place twice")
}

func TestRouter_FreezeTableFallback(t *testing.T) {
	router, brokerClient, _, _ := newTestRouter(t)
	brokerClient.hasFreeze = false
	router.SetFreezeTable(FreezeTable{"NIFTY": 900})
	ctx := context.Background()

	intent := domain.OrderIntent{ClientOrderID: "opt-1", UserID: "u1", Symbol: "NIFTY27JAN2624000CE", Exchange: domain.ExchangeNFO, Quantity: 2200}
	result, err := router.Place(ctx, intent)
	require.NoError(t, err)
	assert.Len(t, result.Legs, 3) // 900 + 900 + 400
	assert.Equal(t, 400, brokerClient.placed[2].Quantity)
}

func TestUnderlyingOf(t *testing.T) {
	assert.Equal(t, "NIFTY", underlyingOf("NIFTY27JAN2624000CE"))
	assert.Equal(t, "RELIANCE", underlyingOf("RELIANCE"))
	assert.Equal(t, "BANKNIFTY", underlyingOf("BANKNIFTY27JAN26FUT"))
}
