package trademonitor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
	"github.com/aristath/openalgo-bridge/internal/events"
)

type fakeHub struct {
	ch chan domain.Tick
}

func (f *fakeHub) Subscribe(ctx context.Context, sub domain.Subscription) (<-chan domain.Tick, domain.DepthLevel, bool, error) {
	return f.ch, 0, false, nil
}

func (f *fakeHub) Unsubscribe(ctx context.Context, sub domain.Subscription, ch <-chan domain.Tick) error {
	return nil
}

type fakeHubRegistry struct {
	hub *fakeHub
}

func (f *fakeHubRegistry) HubFor(ctx context.Context, userID, broker string) (Hub, error) {
	return f.hub, nil
}

type fakeBrokers struct{}

func (fakeBrokers) BrokerFor(ctx context.Context, userID string) (string, error) {
	return "zerodha", nil
}

type fakeCloser struct {
	calls []string
}

func (f *fakeCloser) SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error) {
	f.calls = append(f.calls, reason)
	return &domain.PlaceResult{Legs: []domain.OrderRecord{{BrokerOrderID: "exit-1", Status: domain.StatusComplete}}}, nil
}

type fakePositions struct{ netQty float64 }

func (f fakePositions) NetPosition(ctx context.Context, userID, symbol, exchange, product string) (float64, error) {
	return f.netQty, nil
}

type fakeOrderStatus struct{ status domain.OrderStatus }

func (f fakeOrderStatus) OrderStatus(ctx context.Context, userID, orderID string) (*domain.OrderRecord, error) {
	return &domain.OrderRecord{Status: f.status, FilledQty: 10, AvgPrice: 100}, nil
}

type fakeStrategies struct {
	byID map[string]*domain.StrategyInstance
}

func (f *fakeStrategies) Get(ctx context.Context, strategyID string) (*domain.StrategyInstance, error) {
	return f.byID[strategyID], nil
}

func (f *fakeStrategies) Save(ctx context.Context, st *domain.StrategyInstance) error {
	f.byID[st.ID] = st
	return nil
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeHub, *fakeCloser, *fakeStrategies) {
	t.Helper()
	backend := cache.NewMemoryBackend(1000)
	store := NewStore(backend)
	hub := &fakeHub{ch: make(chan domain.Tick, 4)}
	closer := &fakeCloser{}
	strategies := &fakeStrategies{byID: map[string]*domain.StrategyInstance{}}
	mon := NewMonitor(store, &fakeHubRegistry{hub: hub}, fakeBrokers{}, closer, fakePositions{}, fakeOrderStatus{status: domain.StatusComplete}, strategies, events.NewManager(zerolog.Nop()), zerolog.Nop())
	return mon, hub, closer, strategies
}

// Verifies the trailing-stop level sequence from spec §8 Scenario 2:
// a LONG trade entered at 1392.30 with a 5-point trailing stop moves
// its stop to 5 points below each new high (1397.975, 1402.95,
// 1407.925), and exits once price falls back through the trailed level.
func TestTrailingStopSequence(t *testing.T) {
	mon, hub, closer, _ := newTestMonitor(t)
	ctx := context.Background()

	trade := domain.ActiveTrade{
		ID:          "t1",
		UserID:      "u1",
		StrategyID:  "",
		Symbol:      "INFY",
		Exchange:    domain.ExchangeNSE,
		Product:     domain.ProductMIS,
		Side:        domain.SideLong,
		Qty:         10,
		EntryPrice:  1392.30,
		StopLoss:    1387.30,
		Trailing:    domain.TrailingConfig{Kind: domain.TrailingPoints, Value: 5},
		TrailingRef: 1392.30,
		Status:      domain.TradeStatusActive,
	}
	require.NoError(t, mon.subscribe(ctx, trade))

	ticks := []float64{1402.975, 1407.95, 1412.925, 1407.0}
	for _, ltp := range ticks {
		mon.handleTick(topicKey{UserID: "u1", Symbol: "INFY", Exchange: domain.ExchangeNSE}, domain.Tick{Symbol: "INFY", Exchange: domain.ExchangeNSE, LTP: ltp})
	}

	require.Len(t, closer.calls, 1)
	require.Equal(t, "SL", closer.calls[0])
	_ = hub
}

// Verifies spec §8 Scenario 3: when a strategy's portfolio SL and an
// individual trade's SL breach on the same tick, only the portfolio
// exit is recorded — the individual SL trigger is preempted.
func TestPortfolioExitPreemptsIndividual(t *testing.T) {
	mon, _, closer, strategies := newTestMonitor(t)
	ctx := context.Background()

	strategies.byID["strat-1"] = &domain.StrategyInstance{
		ID:             "strat-1",
		AllocatedFunds: 100000,
		Portfolio: domain.PortfolioRisk{
			Enabled:   true,
			StopLoss:  500,
			StopBasis: domain.RiskAmount,
		},
	}

	tradeA := domain.ActiveTrade{
		ID: "a", UserID: "u1", StrategyID: "strat-1", Symbol: "SBIN", Exchange: domain.ExchangeNSE,
		Product: domain.ProductMIS, Side: domain.SideLong, Qty: 100, EntryPrice: 500, StopLoss: 495,
		Status: domain.TradeStatusActive,
	}
	require.NoError(t, mon.subscribe(ctx, tradeA))

	tradeB := domain.ActiveTrade{
		ID: "b", UserID: "u1", StrategyID: "strat-1", Symbol: "SBIN", Exchange: domain.ExchangeNSE,
		Product: domain.ProductMIS, Side: domain.SideLong, Qty: 100, EntryPrice: 500, StopLoss: 100,
		Status: domain.TradeStatusActive,
	}
	require.NoError(t, mon.subscribe(ctx, tradeB))

	mon.handleTick(topicKey{UserID: "u1", Symbol: "SBIN", Exchange: domain.ExchangeNSE}, domain.Tick{Symbol: "SBIN", Exchange: domain.ExchangeNSE, LTP: 494})

	require.Len(t, closer.calls, 2)
	for _, reason := range closer.calls {
		require.Equal(t, "PORTFOLIO_SL", reason)
	}
}

type fakePositionsBySymbol struct{ by map[string]float64 }

func (f fakePositionsBySymbol) NetPosition(_ context.Context, _, symbol, _, _ string) (float64, error) {
	return f.by[symbol], nil
}

// Verifies spec §8 Scenario 6's reconciliation half: a persisted
// active trade whose broker position survived the restart resumes
// supervision, while one whose position is flat at the broker is
// marked externally closed and not re-armed.
func TestRecovery_ReconcilesAgainstBrokerPositions(t *testing.T) {
	backend := cache.NewMemoryBackend(1000)
	store := NewStore(backend)
	ctx := context.Background()

	alive := &domain.ActiveTrade{
		ID: "t1", UserID: "u1", Symbol: "TCS", Exchange: domain.ExchangeNSE, Product: domain.ProductMIS,
		Side: domain.SideLong, Qty: 10, EntryPrice: 3500, StopLoss: 3450, TrailingLevel: 3470,
		Status: domain.TradeStatusActive,
	}
	gone := &domain.ActiveTrade{
		ID: "t2", UserID: "u1", Symbol: "WIPRO", Exchange: domain.ExchangeNSE, Product: domain.ProductMIS,
		Side: domain.SideLong, Qty: 5, EntryPrice: 400, StopLoss: 395,
		Status: domain.TradeStatusActive,
	}
	require.NoError(t, store.Save(ctx, alive))
	require.NoError(t, store.Save(ctx, gone))

	hub := &fakeHub{ch: make(chan domain.Tick, 4)}
	positions := fakePositionsBySymbol{by: map[string]float64{"TCS": 10, "WIPRO": 0}}
	mon := NewMonitor(store, &fakeHubRegistry{hub: hub}, fakeBrokers{}, &fakeCloser{}, positions, fakeOrderStatus{status: domain.StatusComplete}, &fakeStrategies{byID: map[string]*domain.StrategyInstance{}}, events.NewManager(zerolog.Nop()), zerolog.Nop())

	require.NoError(t, mon.Recover(ctx))

	mon.mu.Lock()
	_, aliveIndexed := mon.byID["t1"]
	_, goneIndexed := mon.byID["t2"]
	mon.mu.Unlock()
	require.True(t, aliveIndexed, "trade with a surviving broker position must resume supervision")
	require.False(t, goneIndexed, "externally-closed trade must not be re-armed")

	remaining, err := store.AllActive(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "t1", remaining[0].ID)
}

func TestEvaluatePortfolioRisk_TrailingBases(t *testing.T) {
	points := &domain.PortfolioRisk{
		Trailing:   domain.TrailingConfig{Kind: domain.TrailingPoints, Value: 800},
		HighestPnL: 5000,
	}
	_, fires := evaluatePortfolioRisk(points, 4300, 100000)
	require.False(t, fires, "drawdown of 700 is inside an 800-point allowance")
	reason, fires := evaluatePortfolioRisk(points, 4200, 100000)
	require.True(t, fires)
	require.Equal(t, domain.ExitPortfolioTrail, reason)

	// percent basis is a share of allocated funds, not of the peak:
	// 1% of 100,000 stays a 1,000 allowance however high the peak runs.
	percent := &domain.PortfolioRisk{
		Trailing:   domain.TrailingConfig{Kind: domain.TrailingPercent, Value: 1},
		HighestPnL: 50000,
	}
	_, fires = evaluatePortfolioRisk(percent, 49100, 100000)
	require.False(t, fires)
	reason, fires = evaluatePortfolioRisk(percent, 49000, 100000)
	require.True(t, fires)
	require.Equal(t, domain.ExitPortfolioTrail, reason)
}

func TestPortfolioTrailingTracksPeakThenExits(t *testing.T) {
	mon, _, closer, strategies := newTestMonitor(t)
	ctx := context.Background()

	strategies.byID["strat-t"] = &domain.StrategyInstance{
		ID:             "strat-t",
		AllocatedFunds: 100000,
		Portfolio: domain.PortfolioRisk{
			Enabled:  true,
			Trailing: domain.TrailingConfig{Kind: domain.TrailingPercent, Value: 1},
		},
	}

	trade := domain.ActiveTrade{
		ID: "t", UserID: "u1", StrategyID: "strat-t", Symbol: "SBIN", Exchange: domain.ExchangeNSE,
		Product: domain.ProductMIS, Side: domain.SideLong, Qty: 100, EntryPrice: 500,
		Status: domain.TradeStatusActive,
	}
	require.NoError(t, mon.subscribe(ctx, trade))

	key := topicKey{UserID: "u1", Symbol: "SBIN", Exchange: domain.ExchangeNSE}
	for _, ltp := range []float64{510, 505} {
		mon.handleTick(key, domain.Tick{Symbol: "SBIN", Exchange: domain.ExchangeNSE, LTP: ltp})
	}
	require.Empty(t, closer.calls, "drawdown of 500 is inside the 1%% allowance of 1000")
	require.Equal(t, 1000.0, strategies.byID["strat-t"].Portfolio.HighestPnL)

	mon.handleTick(key, domain.Tick{Symbol: "SBIN", Exchange: domain.ExchangeNSE, LTP: 499})
	require.Len(t, closer.calls, 1)
	require.Equal(t, "PORTFOLIO_TRAILING_SL", closer.calls[0])
}
