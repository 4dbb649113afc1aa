package strategies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

type fakeTradeCounter struct {
	open   map[string]int
	active map[string][]*domain.ActiveTrade
}

func (f *fakeTradeCounter) OpenPositionCount(_ context.Context, strategyID string) (int, error) {
	return f.open[strategyID], nil
}

func (f *fakeTradeCounter) TradesForStrategy(_ context.Context, strategyID string) ([]*domain.ActiveTrade, error) {
	return f.active[strategyID], nil
}

func newTestStore() (*Store, *fakeTradeCounter) {
	counter := &fakeTradeCounter{open: map[string]int{}, active: map[string][]*domain.ActiveTrade{}}
	return NewStore(cache.NewMemoryBackend(100), counter), counter
}

func TestStore_SaveGetAll(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	st := &domain.StrategyInstance{ID: "s1", UserID: "u1", WebhookID: "wh1", Active: true}
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// saving again must not duplicate the id index
	require.NoError(t, s.Save(ctx, st))
	all, err = s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_StrategyByWebhookID(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &domain.StrategyInstance{ID: "s1", WebhookID: "wh-abc"}))

	got, err := s.StrategyByWebhookID(ctx, "wh-abc")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = s.StrategyByWebhookID(ctx, "unknown")
	assert.Error(t, err)
}

func TestStore_Get_UnknownID(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStore_CheckDeletionSafety(t *testing.T) {
	s, counter := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &domain.StrategyInstance{ID: "s1"}))

	result, err := s.CheckDeletionSafety(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, result.Blocked)

	counter.active["s1"] = []*domain.ActiveTrade{{ID: "t1", StrategyID: "s1", Status: domain.TradeStatusActive}}
	result, err = s.CheckDeletionSafety(ctx, "s1")
	require.NoError(t, err)
	require.True(t, result.Blocked)
	assert.Len(t, result.ActiveTrades, 1)
	assert.ElementsMatch(t, []string{"close-all-then-delete", "stop-monitoring-but-keep-positions", "cancel"}, result.OfferedActions)
}

func TestStore_DeleteRemovesFromIndexAndWebhookLookup(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	st := &domain.StrategyInstance{ID: "s1", WebhookID: "wh1"}
	require.NoError(t, s.Save(ctx, st))

	require.NoError(t, s.Delete(ctx, st))

	_, err := s.Get(ctx, "s1")
	assert.Error(t, err)
	_, err = s.StrategyByWebhookID(ctx, "wh1")
	assert.Error(t, err)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_DeactivateAndPanic(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &domain.StrategyInstance{ID: "s1", Active: true}))

	require.NoError(t, s.Deactivate(ctx, "s1"))
	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, s.Panic(ctx, "s1"))
	got, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Panic)
}

func TestStore_Secret(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &domain.StrategyInstance{ID: "s1", WebhookSecret: "shh"}))

	secret, err := s.Secret(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("shh"), secret)
}
