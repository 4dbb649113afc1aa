package risk

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

type fakeUserLister struct{ ids []string }

func (f *fakeUserLister) ListUserIDs() []string { return f.ids }

type fakeOrderCanceller struct {
	orderbooks map[string][]domain.OrderRecord
	cancelled  map[string][]string
}

func (f *fakeOrderCanceller) Orderbook(_ context.Context, userID string) ([]domain.OrderRecord, error) {
	return f.orderbooks[userID], nil
}

func (f *fakeOrderCanceller) CancelAll(_ context.Context, userID string, orderIDs []string) (succeeded, failed []string) {
	if f.cancelled == nil {
		f.cancelled = make(map[string][]string)
	}
	f.cancelled[userID] = orderIDs
	return orderIDs, nil
}

type fakeTradeCloser struct{ called bool }

func (f *fakeTradeCloser) PanicCloseAll(_ context.Context) { f.called = true }

func TestCoordinator_TriggerSetsFlagCancelsOrdersAndClosesTrades(t *testing.T) {
	users := &fakeUserLister{ids: []string{"u1", "u2"}}
	orders := &fakeOrderCanceller{
		orderbooks: map[string][]domain.OrderRecord{
			"u1": {
				{BrokerOrderID: "o1", Status: domain.StatusOpen},
				{BrokerOrderID: "o2", Status: domain.StatusComplete},
			},
			"u2": {},
		},
	}
	trades := &fakeTradeCloser{}

	c := NewCoordinator(users, orders, trades, zerolog.Nop())
	assert.False(t, c.Active())

	c.Trigger(context.Background())

	assert.True(t, c.Active())
	assert.True(t, trades.called)
	require.Contains(t, orders.cancelled, "u1")
	assert.Equal(t, []string{"o1"}, orders.cancelled["u1"], "only non-terminal orders are cancelled")
	assert.NotContains(t, orders.cancelled, "u2", "a user with no open orders should not trigger a cancel call")
}

func TestCoordinator_ResumeClearsFlag(t *testing.T) {
	c := NewCoordinator(&fakeUserLister{}, &fakeOrderCanceller{}, &fakeTradeCloser{}, zerolog.Nop())
	c.Trigger(context.Background())
	require.True(t, c.Active())

	c.Resume()
	assert.False(t, c.Active())
}
