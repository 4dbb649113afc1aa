package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// BackendKind names a cache backend explicitly, for config that wants
// to bypass auto-selection entirely.
type BackendKind string

const (
	BackendAuto        BackendKind = "auto"
	BackendMemory      BackendKind = "memory"
	BackendSQLite      BackendKind = "sqlite"
	BackendDistributed BackendKind = "distributed"
)

// SelectConfig carries everything Select needs to build or pick a
// backend without the caller knowing which concrete type wins.
type SelectConfig struct {
	Kind             BackendKind
	SQLiteDir        string
	S3               S3Config
	MultiInstance    bool // true when this process is one of several behind a load balancer
	MemoryMaxEntries int
	EncryptionKey    []byte // 32 bytes; required if any EncryptedNamespaces value is ever cached
}

// Select builds the cache backend per spec §4.1: explicit
// configuration wins outright; otherwise a distributed backend is
// probed with a 2s health ping and used if reachable; otherwise the
// on-disk backend is used. Multi-instance deployments force a
// distributed backend and fail startup if it does not respond.
func Select(ctx context.Context, cfg SelectConfig) (Backend, error) {
	base, err := selectBase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var backend Backend = base
	if len(cfg.EncryptionKey) > 0 {
		backend, err = NewEncryptedBackend(backend, cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
	}
	return NewAuditedBackend(backend, log.Logger), nil
}

func selectBase(ctx context.Context, cfg SelectConfig) (Backend, error) {
	switch cfg.Kind {
	case BackendMemory:
		log.Info().Msg("cache: using memory backend (explicit)")
		return NewMemoryBackend(cfg.MemoryMaxEntries), nil
	case BackendSQLite:
		log.Info().Msg("cache: using sqlite backend (explicit)")
		return NewSQLiteBackend(cfg.SQLiteDir)
	case BackendDistributed:
		log.Info().Msg("cache: using distributed backend (explicit)")
		return newS3WithHealthCheck(ctx, cfg)
	}

	// BackendAuto (or unset): probe the distributed backend first.
	backend, err := newS3WithHealthCheck(ctx, cfg)
	if err == nil {
		log.Info().Msg("cache: auto-selected distributed backend (healthy within 2s)")
		return backend, nil
	}
	if cfg.MultiInstance {
		return nil, fmt.Errorf("cache: multi-instance mode requires a distributed backend: %w", err)
	}

	log.Info().Err(err).Msg("cache: distributed backend unavailable, falling back to on-disk")
	return NewSQLiteBackend(cfg.SQLiteDir)
}

// newS3WithHealthCheck builds an S3Backend and verifies it answers
// within 2s by writing a sentinel key.
func newS3WithHealthCheck(parent context.Context, cfg SelectConfig) (Backend, error) {
	backend, err := NewS3Backend(parent, cfg.S3)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	const healthKey = "__health__"
	if err := backend.Set(ctx, NamespaceSettings, healthKey, []byte("ok"), 30*time.Second); err != nil {
		return nil, fmt.Errorf("cache: distributed backend health ping failed: %w", err)
	}
	return backend, nil
}
