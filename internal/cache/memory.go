package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryBackend is a bounded, per-namespace LRU with per-item TTL.
// No ecosystem LRU library appears anywhere in the retrieved example
// pack, so this uses the standard container/list + map idiom (see
// DESIGN.md for the stdlib justification).
type MemoryBackend struct {
	maxPerNamespace int

	mu         sync.Mutex
	namespaces map[string]*memNamespace
}

type memNamespace struct {
	order *list.List // most-recently-used at the front
	items map[string]*list.Element
}

type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryBackend creates an in-process cache bounded to
// maxPerNamespace entries per namespace (least-recently-used evicted
// first).
func NewMemoryBackend(maxPerNamespace int) *MemoryBackend {
	if maxPerNamespace <= 0 {
		maxPerNamespace = 10000
	}
	return &MemoryBackend{
		maxPerNamespace: maxPerNamespace,
		namespaces:      make(map[string]*memNamespace),
	}
}

func (m *MemoryBackend) ns(namespace string) *memNamespace {
	n, ok := m.namespaces[namespace]
	if !ok {
		n = &memNamespace{order: list.New(), items: make(map[string]*list.Element)}
		m.namespaces[namespace] = n
	}
	return n
}

func expired(e *memEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (m *MemoryBackend) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.ns(namespace)
	el, ok := n.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memEntry)
	if expired(entry) {
		n.order.Remove(el)
		delete(n.items, key)
		return nil, false, nil
	}
	n.order.MoveToFront(el)
	return entry.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.ns(namespace)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if el, ok := n.items[key]; ok {
		entry := el.Value.(*memEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		n.order.MoveToFront(el)
		return nil
	}

	entry := &memEntry{key: key, value: value, expiresAt: expiresAt}
	el := n.order.PushFront(entry)
	n.items[key] = el

	for n.order.Len() > m.maxPerNamespace {
		oldest := n.order.Back()
		if oldest == nil {
			break
		}
		n.order.Remove(oldest)
		delete(n.items, oldest.Value.(*memEntry).key)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.ns(namespace)
	if el, ok := n.items[key]; ok {
		n.order.Remove(el)
		delete(n.items, key)
	}
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, namespace, key string) (bool, error) {
	_, found, err := m.Get(ctx, namespace, key)
	return found, err
}

func (m *MemoryBackend) GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, found, _ := m.Get(ctx, namespace, k); found {
			result[k] = v
		}
	}
	return result, nil
}

func (m *MemoryBackend) SetMany(ctx context.Context, namespace string, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := m.Set(ctx, namespace, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func (m *MemoryBackend) Size(_ context.Context, namespace string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[namespace]
	if !ok {
		return 0, nil
	}
	return n.order.Len(), nil
}

func (m *MemoryBackend) Close() error { return nil }
