package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_EmitDeliversToMatchingFilter(t *testing.T) {
	m := NewManager(zerolog.Nop())
	all := m.Subscribe("", 4)
	orders := m.Subscribe(TypeOrderFilled, 4)
	trades := m.Subscribe(TypeTradeClosed, 4)

	m.Emit("u1", OrderFilledData{ClientOrderID: "c1"})

	select {
	case evt := <-all:
		assert.Equal(t, TypeOrderFilled, evt.Data.EventType())
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber did not receive event")
	}
	select {
	case evt := <-orders:
		assert.Equal(t, "u1", evt.UserID)
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber did not receive matching event")
	}
	select {
	case <-trades:
		t.Fatal("subscriber with a non-matching filter must not receive the event")
	default:
	}
}

func TestManager_EmitDropsOnFullBuffer(t *testing.T) {
	m := NewManager(zerolog.Nop())
	ch := m.Subscribe(TypeOrderFilled, 1)

	m.Emit("u1", OrderFilledData{ClientOrderID: "c1"})
	m.Emit("u1", OrderFilledData{ClientOrderID: "c2"}) // must not block even though buffer is full

	select {
	case evt := <-ch:
		data := evt.Data.(OrderFilledData)
		assert.Equal(t, "c1", data.ClientOrderID, "first event should still be the one delivered")
	default:
		t.Fatal("expected the first buffered event to be present")
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager(zerolog.Nop())
	ch := m.Subscribe("", 1)
	m.Unsubscribe(ch)

	m.Emit("u1", OrderFilledData{})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestUpstreamStatusData_EventType(t *testing.T) {
	require.Equal(t, TypeUpstreamUp, UpstreamStatusData{Status: "up"}.EventType())
	require.Equal(t, TypeUpstreamDown, UpstreamStatusData{Status: "down"}.EventType())
}
