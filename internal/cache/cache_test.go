package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	m := NewMemoryBackend(10)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "auth", "k", []byte("v"), 10*time.Millisecond))
	v, found, err := m.Get(ctx, "auth", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)

	time.Sleep(20 * time.Millisecond)
	_, found, err = m.Get(ctx, "auth", "k")
	require.NoError(t, err)
	assert.False(t, found, "expired key must report as absent")
}

func TestMemoryBackend_LRUEviction(t *testing.T) {
	m := NewMemoryBackend(2)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "ns", "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "ns", "b", []byte("2"), 0))
	// touch a so it becomes most-recently-used, leaving b as the eviction candidate
	_, _, _ = m.Get(ctx, "ns", "a")
	require.NoError(t, m.Set(ctx, "ns", "c", []byte("3"), 0))

	_, found, _ := m.Get(ctx, "ns", "b")
	assert.False(t, found, "least-recently-used entry should be evicted")
	_, found, _ = m.Get(ctx, "ns", "a")
	assert.True(t, found)
	_, found, _ = m.Get(ctx, "ns", "c")
	assert.True(t, found)

	size, err := m.Size(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestMemoryBackend_GetManySetManyClear(t *testing.T) {
	m := NewMemoryBackend(10)
	ctx := context.Background()

	require.NoError(t, m.SetMany(ctx, "ns", map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0))
	got, err := m.GetMany(ctx, "ns", []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, m.Clear(ctx, "ns"))
	size, err := m.Size(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b1.Set(ctx, "symbols", "k", []byte("persisted"), 0))
	require.NoError(t, b1.Close())

	b2, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	defer b2.Close()
	v, found, err := b2.Get(ctx, "symbols", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("persisted"), v)
}

func TestSQLiteBackend_ExpiredKeyIsAbsent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b, err := NewSQLiteBackend(dir)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "ns", "k", []byte("v"), time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	_, found, err := b.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEncryptedBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend(10)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewEncryptedBackend(inner, key)
	require.NoError(t, err)

	require.NoError(t, enc.Set(ctx, NamespaceAuth, "u1", []byte("secret-token"), 0))

	// the underlying value must not be stored in plaintext
	raw, found, err := inner.Get(ctx, NamespaceAuth, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEqual(t, []byte("secret-token"), raw)

	v, found, err := enc.Get(ctx, NamespaceAuth, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("secret-token"), v)
}

func TestEncryptedBackend_NonEncryptedNamespacePassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend(10)
	key := make([]byte, 32)
	enc, err := NewEncryptedBackend(inner, key)
	require.NoError(t, err)

	require.NoError(t, enc.Set(ctx, NamespaceSymbols, "k", []byte("plain"), 0))
	raw, found, err := inner.Get(ctx, NamespaceSymbols, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("plain"), raw, "namespaces outside EncryptedNamespaces must not be sealed")
}

func TestEncryptedBackend_WrongKeySurfacesAsAbsent(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend(10)
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 1

	enc1, err := NewEncryptedBackend(inner, key1)
	require.NoError(t, err)
	require.NoError(t, enc1.Set(ctx, NamespaceAuth, "u1", []byte("secret"), 0))

	enc2, err := NewEncryptedBackend(inner, key2)
	require.NoError(t, err)
	_, found, err := enc2.Get(ctx, NamespaceAuth, "u1")
	require.NoError(t, err, "decrypt failure must surface as absent, not an error")
	assert.False(t, found)
}

func TestNewEncryptedBackend_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewEncryptedBackend(NewMemoryBackend(1), []byte("too-short"))
	assert.Error(t, err)
}

func TestAuditedBackend_PassesThroughSemantics(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend(10)
	audited := NewAuditedBackend(inner, zerolog.Nop())

	require.NoError(t, audited.Set(ctx, "ns", "k", []byte("v"), 0))
	v, found, err := audited.Get(ctx, "ns", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, audited.Delete(ctx, "ns", "k"))
	_, found, _ = audited.Get(ctx, "ns", "k")
	assert.False(t, found)
}

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	type payload struct {
		A string
		B int
	}
	in := payload{A: "x", B: 7}
	raw, err := Encode(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Decode(raw, &out))
	assert.Equal(t, in, out)
}
