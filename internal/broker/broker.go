// Package broker defines the collaborator interface every concrete
// broker integration (Zerodha, Angel, etc.) implements. Those
// integrations are out of scope for this engine (spec §1) — only the
// interface lives here so the core compiles and tests against fakes.
package broker

import (
	"context"
	"time"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// Quote is the broker-agnostic quote shape orders.Router's passthrough
// operations return.
type Quote struct {
	Symbol   string
	Exchange string
	LTP      float64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

// HistoryBar is one OHLCV candle of a historical series.
type HistoryBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Funds is the broker-reported margin/cash snapshot for `funds`.
type Funds struct {
	AvailableCash  float64 `json:"available_cash"`
	UsedMargin     float64 `json:"used_margin"`
	CollateralUsed float64 `json:"collateral_used"`
}

// Client is the contract a concrete broker integration satisfies.
type Client interface {
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderRecord, error)
	ModifyOrder(ctx context.Context, orderID string, changes domain.OrderChanges) (*domain.OrderRecord, error)
	CancelOrder(ctx context.Context, orderID string) error
	NetPosition(ctx context.Context, user, symbol, exchange, product string) (float64, error)
	Quote(ctx context.Context, symbol, exchange string) (Quote, error)
	FreezeLimit(ctx context.Context, symbol, exchange string) (int, bool)
	// OrderStatus reports the broker's current view of a previously
	// placed order, polled by the trade monitor (C9) while a seeded
	// trade sits in pending_entry.
	OrderStatus(ctx context.Context, orderID string) (*domain.OrderRecord, error)

	// Depth returns the current order book for symbol at requested
	// depth; the caller (orders.Router) does not perform fallback
	// downgrade itself, that's C4's job for subscriptions, but a
	// one-shot REST depth call is answered by whatever the broker
	// returns.
	Depth(ctx context.Context, symbol, exchange string, level domain.DepthLevel) (domain.Depth, error)
	History(ctx context.Context, symbol, exchange, interval string, from, to time.Time) ([]HistoryBar, error)
	Positions(ctx context.Context, user string) ([]domain.Position, error)
	Holdings(ctx context.Context, user string) ([]domain.Position, error)
	Orderbook(ctx context.Context, user string) ([]domain.OrderRecord, error)
	Tradebook(ctx context.Context, user string) ([]domain.OrderRecord, error)
	Funds(ctx context.Context, user string) (Funds, error)
	Search(ctx context.Context, query, exchange string) ([]domain.SymbolRecord, error)
}
