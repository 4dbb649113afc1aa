package domain

import "time"

// Side is the directional exposure of an active trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// TrailingKind selects how a trailing-stop value is expressed.
type TrailingKind string

const (
	TrailingNone    TrailingKind = "none"
	TrailingPoints  TrailingKind = "points"
	TrailingPercent TrailingKind = "percent"
)

// TrailingConfig configures the trailing-stop behaviour of an active
// trade or a strategy's portfolio risk rule.
type TrailingConfig struct {
	Kind  TrailingKind `json:"kind"`
	Value float64      `json:"value"`
}

// TradeStatus is the lifecycle state of a server-side supervised
// position slice tracked by the trade monitor (C9).
type TradeStatus string

const (
	TradeStatusPendingEntry  TradeStatus = "pending_entry"
	TradeStatusActive        TradeStatus = "active"
	TradeStatusClosed        TradeStatus = "closed"
	TradeStatusSLHit         TradeStatus = "sl_hit"
	TradeStatusTargetHit     TradeStatus = "target_hit"
	TradeStatusPortfolioExit TradeStatus = "portfolio_exit"
	TradeStatusForceClosed   TradeStatus = "force_closed"
)

// ExitReason tags why smart_close was invoked against a trade.
type ExitReason string

const (
	ExitSL               ExitReason = "SL"
	ExitTarget           ExitReason = "TARGET"
	ExitPortfolioSL      ExitReason = "PORTFOLIO_SL"
	ExitPortfolioTarget  ExitReason = "PORTFOLIO_TARGET"
	ExitPortfolioTrail   ExitReason = "PORTFOLIO_TRAILING_SL"
	ExitExternallyClosed ExitReason = "externally_closed"
	ExitManual           ExitReason = "manual"
	ExitPanic            ExitReason = "panic"
)

// ActiveTrade is the unit of work the trade monitor (C9) supervises:
// a single broker order's resulting position, with server-side SL,
// target, and trailing-stop state.
//
// Invariant: while Status == active, EntryPrice > 0, Qty > 0, and
// (StopLoss, Target, TrailingLevel) are consistent with Side — for
// LONG: StopLoss < EntryPrice (or StopLoss <= TrailingLevel <= LTP).
type ActiveTrade struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	StrategyID    string         `json:"strategy_id"`
	Symbol        string         `json:"symbol"`
	Exchange      Exchange       `json:"exchange"`
	Product       Product        `json:"product"`
	Broker        string         `json:"broker"`
	Side          Side           `json:"side"`
	Qty           int            `json:"qty"`
	EntryPrice    float64        `json:"entry_price"`
	LTP           float64        `json:"ltp"`
	StopLoss      float64        `json:"stop_loss"`
	Target        float64        `json:"target"`
	Trailing      TrailingConfig `json:"trailing"`
	TrailingRef   float64        `json:"trailing_ref"`   // highest seen (LONG) / lowest seen (SHORT)
	TrailingLevel float64        `json:"trailing_level"` // current computed trailing stop
	Status        TradeStatus    `json:"status"`
	BrokerOrderID string         `json:"broker_order_id"`
	ExitOrderID   string         `json:"exit_order_id,omitempty"`
	ExitReason    ExitReason     `json:"exit_reason,omitempty"`
	RealisedPnL   float64        `json:"realised_pnl"`
	CreatedAt     time.Time      `json:"created_at"`
	LastFlushedAt time.Time      `json:"last_flushed_at"`
}

// Key groups an active trade under the (symbol, exchange) topic the
// monitor subscribes to on C4.
func (t ActiveTrade) Key() SymbolKey {
	return SymbolKey{Symbol: t.Symbol, Exchange: t.Exchange}
}

// Unrealised computes the current mark-to-market P&L for the trade at
// its last-seen LTP.
func (t ActiveTrade) Unrealised() float64 {
	diff := t.LTP - t.EntryPrice
	if t.Side == SideShort {
		diff = -diff
	}
	return diff * float64(t.Qty)
}
