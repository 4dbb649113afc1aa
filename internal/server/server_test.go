package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/events"
	"github.com/aristath/openalgo-bridge/internal/marketfeed"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type fakeAuthenticator struct{}

func (fakeAuthenticator) Authenticate(_ context.Context, apiKey string) (string, string, error) {
	return "u1", "zerodha", nil
}

func TestServer_StartWS_WalksForwardWhenPortIsBusy(t *testing.T) {
	port := freePort(t)

	occupied, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	require.NoError(t, err)
	defer occupied.Close()

	registry := marketfeed.NewRegistry(nil, events.NewManager(zerolog.Nop()), zerolog.Nop())
	proxy := marketfeed.NewProxy(registry, fakeAuthenticator{}, zerolog.Nop())

	s := New(Config{
		Log:                zerolog.Nop(),
		Port:               freePort(t),
		WSPort:             port,
		MarketfeedProxy:    proxy,
		RateLimitPerMinute: 6000,
	})

	go s.startWS()

	deadline := time.Now().Add(2 * time.Second)
	var reached bool
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port+1) + "/")
		if err == nil {
			resp.Body.Close()
			reached = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, reached, "ws proxy should have walked forward to port+1 once the requested port was busy")
}

func TestServer_PingAndStatus(t *testing.T) {
	s := New(Config{
		Log:                zerolog.Nop(),
		Port:               freePort(t),
		RateLimitPerMinute: 6000,
		StartedAt:          time.Now(),
		MarketTimezone:     "Asia/Kolkata",
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}
