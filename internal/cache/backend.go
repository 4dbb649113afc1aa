// Package cache implements the pluggable key/value store with TTL
// described in spec §4.1 (C1): one Backend interface, three concrete
// backends (memory, on-disk, distributed), and two composing security
// wrappers (encryption, audit).
package cache

import (
	"context"
	"time"
)

// Backend is the contract every cache implementation satisfies.
// Values are opaque byte strings; serialization is the caller's
// responsibility (see Encode/Decode in codec.go for the msgpack
// helper most callers use). Get on a missing or expired key reports
// found=false, not an error.
type Backend interface {
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Exists(ctx context.Context, namespace, key string) (bool, error)
	GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, namespace string, items map[string][]byte, ttl time.Duration) error
	Clear(ctx context.Context, namespace string) error
	Size(ctx context.Context, namespace string) (int, error)
	Close() error
}

// Namespaces are the logical caches named in spec §6. They are used
// as key prefixes / table names / S3 key segments depending on backend.
const (
	NamespaceAuth            = "auth"
	NamespaceAPIKeys         = "api_keys"
	NamespaceTokens          = "tokens"
	NamespaceSymbols         = "symbols"
	NamespaceSettings        = "settings"
	NamespaceStrategies      = "strategies"
	NamespaceActiveTrades    = "active_trades"
	NamespaceScheduledAlerts = "scheduled_alerts"
	NamespaceTriggerHistory  = "trigger_history"
	NamespaceSandboxPrefix   = "sandbox_"
	NamespaceOrders          = "orders" // idempotency dedup window (C5)
)

// EncryptedNamespaces lists the namespaces the encryption wrapper
// applies to, per spec §4.1.
var EncryptedNamespaces = map[string]bool{
	NamespaceAuth:    true,
	NamespaceAPIKeys: true,
	NamespaceTokens:  true,
}
