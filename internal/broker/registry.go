package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/openalgo-bridge/internal/apierr"
)

// Registry resolves the Client a user's orders route through. Concrete
// broker integrations are out of scope for this engine (spec §1); a
// deployment registers one Client per user (or per broker, fanned out
// at registration time) and the rest of the engine only ever sees
// this seam, satisfying internal/orders.BrokerRegistry.
type Registry struct {
	mu      sync.RWMutex
	brokers map[string]string // userID -> broker name, for diagnostics
	clients map[string]Client // userID -> client
}

func NewRegistry() *Registry {
	return &Registry{
		brokers: make(map[string]string),
		clients: make(map[string]Client),
	}
}

// Register wires user to the broker client that places their orders.
func (r *Registry) Register(userID, brokerName string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[userID] = brokerName
	r.clients[userID] = client
}

// ClientFor satisfies internal/orders.BrokerRegistry.
func (r *Registry) ClientFor(userID string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[userID]
	if !ok {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("broker: no client registered for user %s", userID))
	}
	return client, nil
}

// BrokerFor reports which broker a user currently routes through,
// satisfying both internal/alerts.UserBrokers and
// internal/trademonitor.UserBrokers.
func (r *Registry) BrokerFor(_ context.Context, userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.brokers[userID]
	if !ok {
		return "", apierr.New(apierr.UpstreamError, fmt.Sprintf("broker: no broker registered for user %s", userID))
	}
	return name, nil
}
