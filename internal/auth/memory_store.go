package auth

import (
	"context"
	"sync"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// UserRegistry is the minimal in-memory Store + CredentialProvider a
// deployment seeds at startup. Account administration (provisioning,
// key rotation UI) is out of scope for this engine (spec §1); this
// registry is the seam that feeds the gate, analogous to
// internal/broker.Registry on the order-routing side.
type UserRegistry struct {
	mu    sync.RWMutex
	users map[string]*domain.User // by api key hash
	creds map[string][]byte       // by user id
}

func NewUserRegistry() *UserRegistry {
	return &UserRegistry{
		users: make(map[string]*domain.User),
		creds: make(map[string][]byte),
	}
}

// Register adds or replaces a user, keyed by the SHA-256 hash of
// their api key so the registry never holds a raw key itself.
func (u *UserRegistry) Register(user *domain.User, apiKey string, credentials []byte) {
	keyHash := hashKey(apiKey)
	user.APIKeyHash = keyHash

	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[keyHash] = user
	u.creds[user.ID] = credentials
}

// UserByAPIKey satisfies Store.
func (u *UserRegistry) UserByAPIKey(_ context.Context, apiKeyHash string) (*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[apiKeyHash]
	if !ok {
		return nil, apierr.New(apierr.InvalidAPIKey, "auth: unknown api key")
	}
	return user, nil
}

// CredentialsFor satisfies CredentialProvider.
func (u *UserRegistry) CredentialsFor(_ context.Context, user *domain.User) ([]byte, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	creds, ok := u.creds[user.ID]
	if !ok {
		return nil, apierr.New(apierr.UpstreamError, "auth: no credentials registered for user "+user.ID)
	}
	return creds, nil
}

// AnalyzerMode satisfies internal/orders.UserFlags.
func (u *UserRegistry) AnalyzerMode(_ context.Context, userID string) (bool, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, user := range u.users {
		if user.ID == userID {
			return user.AnalyzerMode, nil
		}
	}
	return false, apierr.New(apierr.InvalidParameters, "auth: unknown user "+userID)
}

// ListUserIDs returns every registered user id, used by the global
// panic coordinator to fan cancel_all out across every live user.
func (u *UserRegistry) ListUserIDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	ids := make([]string, 0, len(u.creds))
	for id := range u.creds {
		ids = append(ids, id)
	}
	return ids
}

// SetAnalyzerMode flips a user's live/sandbox routing flag, backing
// the analyzer toggle endpoint (spec §6 supplement).
func (u *UserRegistry) SetAnalyzerMode(userID string, on bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		if user.ID == userID {
			user.AnalyzerMode = on
			return nil
		}
	}
	return apierr.New(apierr.InvalidParameters, "auth: unknown user "+userID)
}
