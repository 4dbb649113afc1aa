package domain

import "time"

// DepthRow is a single price/qty/orders level on one side of the book.
type DepthRow struct {
	Price  float64 `json:"price"`
	Qty    int64   `json:"qty"`
	Orders int     `json:"orders"`
}

// Depth carries both sides of the order book plus fallback metadata
// describing whether the requested depth level had to be downgraded.
type Depth struct {
	Buy            []DepthRow `json:"buy"`
	Sell           []DepthRow `json:"sell"`
	RequestedDepth DepthLevel `json:"requested_depth"`
	ActualDepth    DepthLevel `json:"actual_depth"`
	IsFallback     bool       `json:"is_fallback"`
	BrokerMessage  string     `json:"broker_message,omitempty"`
}

// Tick is the normalised market-data shape fanned out by C4. Not every
// field is populated at every mode: LTP-only ticks carry just LTP/
// Timestamp, QUOTE ticks add the OHLCV fields, DEPTH ticks add Depth.
type Tick struct {
	Symbol   string    `json:"symbol"`
	Exchange Exchange  `json:"exchange"`
	LTP      float64   `json:"ltp"`
	Time     time.Time `json:"timestamp"`

	Mode SubscriptionMode `json:"-"`

	Open         float64 `json:"open,omitempty"`
	High         float64 `json:"high,omitempty"`
	Low          float64 `json:"low,omitempty"`
	Close        float64 `json:"close,omitempty"`
	Volume       int64   `json:"volume,omitempty"`
	LastTradeQty int64   `json:"last_trade_qty,omitempty"`
	AvgPrice     float64 `json:"avg_price,omitempty"`

	Depth *Depth `json:"depth,omitempty"`
}

// Key identifies the (symbol, exchange) topic this tick belongs to.
func (t Tick) Key() SymbolKey {
	return SymbolKey{Symbol: t.Symbol, Exchange: t.Exchange}
}
