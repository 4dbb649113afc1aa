package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AuditedBackend wraps another Backend and logs every mutating call:
// Set, SetMany and Delete at debug level, Clear at info level. Reads
// (Get, Exists, GetMany, Size) are passed through without a log line.
// It never changes behaviour —
// structured logging only, in the style of the teacher's layered
// services that log each step of a call chain.
type AuditedBackend struct {
	inner Backend
	log   zerolog.Logger
}

func NewAuditedBackend(inner Backend, log zerolog.Logger) *AuditedBackend {
	return &AuditedBackend{inner: inner, log: log.With().Str("component", "cache_audit").Logger()}
}

func (a *AuditedBackend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	return a.inner.Get(ctx, namespace, key)
}

func (a *AuditedBackend) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	err := a.inner.Set(ctx, namespace, key, value, ttl)
	a.log.Debug().Str("namespace", namespace).Str("key", key).Dur("ttl", ttl).Err(err).Msg("set")
	return err
}

func (a *AuditedBackend) Delete(ctx context.Context, namespace, key string) error {
	err := a.inner.Delete(ctx, namespace, key)
	a.log.Debug().Str("namespace", namespace).Str("key", key).Err(err).Msg("delete")
	return err
}

func (a *AuditedBackend) Exists(ctx context.Context, namespace, key string) (bool, error) {
	return a.inner.Exists(ctx, namespace, key)
}

func (a *AuditedBackend) GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error) {
	return a.inner.GetMany(ctx, namespace, keys)
}

func (a *AuditedBackend) SetMany(ctx context.Context, namespace string, items map[string][]byte, ttl time.Duration) error {
	err := a.inner.SetMany(ctx, namespace, items, ttl)
	a.log.Debug().Str("namespace", namespace).Int("count", len(items)).Dur("ttl", ttl).Err(err).Msg("set_many")
	return err
}

func (a *AuditedBackend) Clear(ctx context.Context, namespace string) error {
	err := a.inner.Clear(ctx, namespace)
	a.log.Info().Str("namespace", namespace).Err(err).Msg("clear")
	return err
}

func (a *AuditedBackend) Size(ctx context.Context, namespace string) (int, error) {
	return a.inner.Size(ctx, namespace)
}

func (a *AuditedBackend) Close() error { return a.inner.Close() }
