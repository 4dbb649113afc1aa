package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

type fakeStore struct {
	users map[string]*domain.User // keyed by api key hash
	calls int
}

func (f *fakeStore) UserByAPIKey(_ context.Context, apiKeyHash string) (*domain.User, error) {
	f.calls++
	u, ok := f.users[apiKeyHash]
	if !ok {
		return nil, nil
	}
	return u, nil
}

type fakeCredentials struct{}

func (fakeCredentials) CredentialsFor(_ context.Context, _ *domain.User) ([]byte, error) {
	return []byte("opaque-creds"), nil
}

func newTestGate(t *testing.T) (*Gate, *fakeStore) {
	t.Helper()
	backend := cache.NewMemoryBackend(1000)
	store := &fakeStore{users: map[string]*domain.User{}}
	store.users[hashKey("valid-key")] = &domain.User{ID: "u1", ActiveBroker: "zerodha"}
	gate := NewGate(store, fakeCredentials{}, backend, time.Hour, zerolog.Nop())
	return gate, store
}

func TestGate_ValidateSuccessThenCachesPositive(t *testing.T) {
	gate, store := newTestGate(t)

	ctx := context.Background()
	authCtx, err := gate.Validate(ctx, "valid-key")
	require.NoError(t, err)
	assert.Equal(t, "u1", authCtx.UserID)
	assert.Equal(t, 1, store.calls)

	// second call should hit the positive cache, not the store
	authCtx2, err := gate.Validate(ctx, "valid-key")
	require.NoError(t, err)
	assert.Equal(t, "u1", authCtx2.UserID)
	assert.Equal(t, 1, store.calls)
}

func TestGate_ValidateUnknownKeyCachesNegative(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()

	_, err := gate.Validate(ctx, "bogus-key")
	require.Error(t, err)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.InvalidAPIKey, apiErr.Kind)
	assert.Equal(t, 1, store.calls)

	_, err = gate.Validate(ctx, "bogus-key")
	require.Error(t, err)
	assert.Equal(t, 1, store.calls, "negative cache should short-circuit the store lookup")
}

func TestGate_InvalidateDropsPositiveEntry(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	_, err := gate.Validate(ctx, "valid-key")
	require.NoError(t, err)

	require.NoError(t, gate.Invalidate(ctx, "u1"))

	found, err := gate.backend.Exists(ctx, cache.NamespaceAuth, hashKey("valid-key"))
	require.NoError(t, err)
	assert.False(t, found)
}
