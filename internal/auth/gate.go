// Package auth implements the API-key gate (spec §4.3): O(1)
// validation backed by a positive cache (api-key → context) and a
// negative cache (invalid key → rejection), plus daily forced expiry.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

const (
	// negativeTTL bounds the cost of an attacker probing api keys:
	// a rejected key is remembered for a short window before the
	// gate will re-check the backing store.
	negativeTTL = 30 * time.Second

	negativeSentinel = "x"
)

// Store resolves an api key to the user record it belongs to. It is
// the system of record the gate falls back to on a cache miss.
type Store interface {
	UserByAPIKey(ctx context.Context, apiKeyHash string) (*domain.User, error)
}

// CredentialProvider derives the opaque broker-level credentials
// carried in AuthContext; kept separate from Store so a fake one can
// be substituted in tests without a full credentials vault.
type CredentialProvider interface {
	CredentialsFor(ctx context.Context, user *domain.User) ([]byte, error)
}

// Gate is the C3 auth component.
type Gate struct {
	store       Store
	credentials CredentialProvider
	backend     cache.Backend
	positiveTTL time.Duration
	log         zerolog.Logger
}

func NewGate(store Store, credentials CredentialProvider, backend cache.Backend, positiveTTL time.Duration, log zerolog.Logger) *Gate {
	if positiveTTL <= 0 {
		positiveTTL = 12 * time.Hour
	}
	return &Gate{
		store:       store,
		credentials: credentials,
		backend:     backend,
		positiveTTL: positiveTTL,
		log:         log.With().Str("component", "auth").Logger(),
	}
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Authenticate satisfies internal/marketfeed.Authenticator, letting
// the WS proxy reuse the same O(1) api-key gate the REST surface
// validates against.
func (g *Gate) Authenticate(ctx context.Context, apiKey string) (userID, broker string, err error) {
	authCtx, err := g.Validate(ctx, apiKey)
	if err != nil {
		return "", "", err
	}
	return authCtx.UserID, authCtx.ActiveBroker, nil
}

// Validate resolves an api key to an AuthContext in O(1) via the
// positive/negative caches described in spec §4.3, falling back to
// Store only on a double miss.
func (g *Gate) Validate(ctx context.Context, apiKey string) (*domain.AuthContext, error) {
	keyHash := hashKey(apiKey)

	if raw, found, err := g.backend.Get(ctx, cache.NamespaceAuth, keyHash); err != nil {
		return nil, err
	} else if found {
		var authCtx domain.AuthContext
		if err := cache.Decode(raw, &authCtx); err != nil {
			return nil, err
		}
		return &authCtx, nil
	}

	if _, found, err := g.backend.Get(ctx, cache.NamespaceAPIKeys, negativeKey(keyHash)); err != nil {
		return nil, err
	} else if found {
		return nil, apierr.New(apierr.InvalidAPIKey, "api key is invalid")
	}

	user, err := g.store.UserByAPIKey(ctx, keyHash)
	if err != nil || user == nil {
		if setErr := g.backend.Set(ctx, cache.NamespaceAPIKeys, negativeKey(keyHash), []byte(negativeSentinel), negativeTTL); setErr != nil {
			g.log.Warn().Err(setErr).Msg("failed to populate negative auth cache")
		}
		return nil, apierr.New(apierr.InvalidAPIKey, "api key is invalid")
	}

	creds, err := g.credentials.CredentialsFor(ctx, user)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "failed to derive broker credentials", err)
	}

	authCtx := &domain.AuthContext{
		UserID:       user.ID,
		ActiveBroker: user.ActiveBroker,
		Credentials:  creds,
		GrantedAt:    time.Now(),
	}

	encoded, err := cache.Encode(authCtx)
	if err != nil {
		return nil, err
	}
	if err := g.backend.Set(ctx, cache.NamespaceAuth, keyHash, encoded, g.positiveTTL); err != nil {
		g.log.Warn().Err(err).Msg("failed to populate positive auth cache")
	}
	if err := g.backend.Set(ctx, cache.NamespaceAuth, userIndexKey(user.ID), []byte(keyHash), g.positiveTTL); err != nil {
		g.log.Warn().Err(err).Msg("failed to populate user->key index")
	}
	return authCtx, nil
}

// Invalidate drops the positive cache entry for user, forcing the
// next Validate call for their api key to re-check Store. It uses
// the user->keyhash index written alongside every successful
// Validate, so it works without the caller supplying the raw key.
func (g *Gate) Invalidate(ctx context.Context, userID string) error {
	raw, found, err := g.backend.Get(ctx, cache.NamespaceAuth, userIndexKey(userID))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return g.backend.Delete(ctx, cache.NamespaceAuth, string(raw))
}

// InvalidateKey drops the positive cache entry for a specific api key
// directly, without needing the user->keyhash index.
func (g *Gate) InvalidateKey(ctx context.Context, apiKey string) error {
	return g.backend.Delete(ctx, cache.NamespaceAuth, hashKey(apiKey))
}

func userIndexKey(userID string) string {
	return "user_key:" + userID
}

func negativeKey(keyHash string) string {
	return "neg:" + keyHash
}
