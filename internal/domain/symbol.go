// Package domain provides the core entities shared by every engine
// component: symbol records, orders, positions, active trades,
// strategies, and scheduled alerts.
package domain

import "time"

// InstrumentType identifies the kind of tradeable instrument a symbol
// record describes.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentFuture InstrumentType = "FUTURE"
	InstrumentOption InstrumentType = "OPTION"
	InstrumentIndex  InstrumentType = "INDEX"
)

// Exchange is one of the enumerated exchange codes from spec §6.
type Exchange string

const (
	ExchangeNSE      Exchange = "NSE"
	ExchangeBSE      Exchange = "BSE"
	ExchangeNFO      Exchange = "NFO"
	ExchangeBFO      Exchange = "BFO"
	ExchangeCDS      Exchange = "CDS"
	ExchangeBCD      Exchange = "BCD"
	ExchangeMCX      Exchange = "MCX"
	ExchangeNSEIndex Exchange = "NSE_INDEX"
	ExchangeBSEIndex Exchange = "BSE_INDEX"
)

// SymbolKey uniquely identifies a SymbolRecord: (openalgo-symbol, exchange).
type SymbolKey struct {
	Symbol   string
	Exchange Exchange
}

// SymbolRecord is immutable once loaded for the trading day. A master
// contract rotation replaces the whole table atomically; individual
// records are never mutated in place.
type SymbolRecord struct {
	Symbol         string         `json:"symbol"`
	Exchange       Exchange       `json:"exchange"`
	BrokerSymbol   string         `json:"broker_symbol"`
	Token          string         `json:"token"`
	InstrumentType InstrumentType `json:"instrument_type"`
	LotSize        int            `json:"lot_size"`
	TickSize       float64        `json:"tick_size"`
	Expiry         *time.Time     `json:"expiry,omitempty"`
}

// Key returns the (symbol, exchange) lookup key for this record.
func (s SymbolRecord) Key() SymbolKey {
	return SymbolKey{Symbol: s.Symbol, Exchange: s.Exchange}
}

// SubscriptionMode is the subscription detail level requested by a
// client: LTP only, full quote, or market depth.
type SubscriptionMode int

const (
	ModeLTP   SubscriptionMode = 1
	ModeQuote SubscriptionMode = 2
	ModeDepth SubscriptionMode = 4
)

// DepthLevel is one of the broker-supported depth levels; depth
// subscriptions are rejected or downgraded outside this enum.
type DepthLevel int

const (
	Depth5  DepthLevel = 5
	Depth20 DepthLevel = 20
	Depth30 DepthLevel = 30
	Depth50 DepthLevel = 50
)

// Subscription is a (user, symbol, exchange, mode, depth) tuple. The
// hub reference-counts subscriptions sharing the same upstream feed.
type Subscription struct {
	UserID     string
	Symbol     string
	Exchange   Exchange
	Mode       SubscriptionMode
	DepthLevel DepthLevel
}
