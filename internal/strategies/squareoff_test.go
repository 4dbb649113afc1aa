package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

type recordingCloser struct {
	closed []string // "symbol/product"
}

func (r *recordingCloser) SmartClose(_ context.Context, _, symbol, _, product, _ string) (*domain.PlaceResult, error) {
	r.closed = append(r.closed, symbol+"/"+product)
	return &domain.PlaceResult{}, nil
}

type recordingOrders struct {
	book      []domain.OrderRecord
	cancelled []string
}

func (r *recordingOrders) Orderbook(_ context.Context, _ string) ([]domain.OrderRecord, error) {
	return r.book, nil
}

func (r *recordingOrders) Cancel(_ context.Context, _, orderID string) error {
	r.cancelled = append(r.cancelled, orderID)
	return nil
}

func TestSquareOffJob_ClosesMISAndCancelsPending(t *testing.T) {
	backend := cache.NewMemoryBackend(1000)
	nowMinute := time.Now().Format("15:04") + ":00"

	trades := &fakeTradeCounter{open: map[string]int{}, active: map[string][]*domain.ActiveTrade{
		"s1": {
			{ID: "t1", UserID: "u1", StrategyID: "s1", Symbol: "SBIN", Exchange: domain.ExchangeNSE, Product: domain.ProductMIS, Status: domain.TradeStatusActive},
			{ID: "t2", UserID: "u1", StrategyID: "s1", Symbol: "INFY", Exchange: domain.ExchangeNSE, Product: domain.ProductCNC, Status: domain.TradeStatusActive},
		},
	}}
	store := NewStore(backend, trades)
	require.NoError(t, store.Save(context.Background(), &domain.StrategyInstance{
		ID: "s1", UserID: "u1", Active: true,
		Schedule: domain.Schedule{Intraday: true, SquareOffAt: nowMinute},
	}))
	require.NoError(t, store.Save(context.Background(), &domain.StrategyInstance{
		ID: "s2", UserID: "u1", Active: true,
		Schedule: domain.Schedule{Intraday: true, SquareOffAt: "23:59:00"},
	}))

	closer := &recordingCloser{}
	orders := &recordingOrders{book: []domain.OrderRecord{
		{OrderIntent: domain.OrderIntent{Strategy: "s1"}, BrokerOrderID: "o1", Status: domain.StatusOpen},
		{OrderIntent: domain.OrderIntent{Strategy: "s1"}, BrokerOrderID: "o2", Status: domain.StatusComplete},
		{OrderIntent: domain.OrderIntent{Strategy: "other"}, BrokerOrderID: "o3", Status: domain.StatusOpen},
	}}

	job := NewSquareOffJob(store, trades, closer, orders, zerolog.Nop())
	require.NoError(t, job.Run())

	assert.Equal(t, []string{"SBIN/MIS"}, closer.closed, "only MIS positions of the matching strategy close")
	assert.Equal(t, []string{"o1"}, orders.cancelled, "only the strategy's non-terminal orders cancel")
}
