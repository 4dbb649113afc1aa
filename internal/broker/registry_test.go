package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	var client Client // nil fake is fine, Registry never calls through it in this test
	r.Register("u1", "zerodha", client)

	got, err := r.ClientFor("u1")
	require.NoError(t, err)
	assert.Equal(t, client, got)

	broker, err := r.BrokerFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "zerodha", broker)
}

func TestRegistry_UnknownUser(t *testing.T) {
	r := NewRegistry()

	_, err := r.ClientFor("ghost")
	assert.Error(t, err)

	_, err = r.BrokerFor(context.Background(), "ghost")
	assert.Error(t, err)
}
