package marketfeed

import (
	"context"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// UpstreamFeed is the collaborator interface a concrete broker
// streaming integration satisfies. Brokers are out of scope for this
// engine (spec §1); the hub drives any implementation through this
// interface and is itself broker-agnostic.
type UpstreamFeed interface {
	// Connect establishes the upstream connection and authenticates.
	Connect(ctx context.Context) error
	// Subscribe (re-)issues a subscribe request for sub upstream. Called
	// once per live subscription on initial subscribe and again for
	// every live subscription after a reconnect.
	Subscribe(ctx context.Context, sub domain.Subscription) error
	// Unsubscribe issues an unsubscribe request upstream.
	Unsubscribe(ctx context.Context, sub domain.Subscription) error
	// Ticks returns the channel the hub reads normalised ticks from.
	// The implementation is responsible for translating broker wire
	// format into domain.Tick before sending on this channel.
	Ticks() <-chan domain.Tick
	// SupportedDepth reports the highest depth level the broker
	// supports for (symbol, exchange), used for the fallback/downgrade
	// rule in spec §4.4.
	SupportedDepth(symbol string, exchange domain.Exchange) (domain.DepthLevel, bool)
	// Close tears down the upstream connection.
	Close() error
}
