// Package events provides the engine's internal pub/sub primitive:
// typed event payloads plus a Manager that logs and fans them out to
// subscribers. Used for cross-component notifications (order filled,
// trade closed, alert triggered) that don't belong on the market-data
// hub.
package events

import "time"

// EventType names a kind of domain event.
type EventType string

const (
	TypeOrderPlaced    EventType = "order_placed"
	TypeOrderFilled    EventType = "order_filled"
	TypeOrderRejected  EventType = "order_rejected"
	TypeTradeOpened    EventType = "trade_opened"
	TypeTradeClosed    EventType = "trade_closed"
	TypeAlertTriggered EventType = "alert_triggered"
	TypeUpstreamDown   EventType = "upstream_down"
	TypeUpstreamUp     EventType = "upstream_up"
)

// Data is implemented by every concrete event payload.
type Data interface {
	EventType() EventType
}

// Event is an envelope carrying a typed payload plus routing metadata.
type Event struct {
	UserID    string
	Data      Data
	Timestamp time.Time
}

// OrderFilledData is emitted by internal/orders when a broker or
// sandbox fill confirmation arrives.
type OrderFilledData struct {
	ClientOrderID string
	Symbol        string
	Exchange      string
	FilledQty     int
	AvgPrice      float64
}

func (OrderFilledData) EventType() EventType { return TypeOrderFilled }

// TradeClosedData is emitted by internal/trademonitor when an active
// trade exits, for whatever reason.
type TradeClosedData struct {
	TradeID     string
	Symbol      string
	Exchange    string
	ExitReason  string
	RealisedPnL float64
}

func (TradeClosedData) EventType() EventType { return TypeTradeClosed }

// AlertTriggeredData is emitted by internal/alerts when a scheduled
// alert's condition fires.
type AlertTriggeredData struct {
	AlertID       string
	Symbol        string
	Exchange      string
	ConditionText string
	TriggerValue  float64
}

func (AlertTriggeredData) EventType() EventType { return TypeAlertTriggered }

// UpstreamStatusData is emitted by internal/marketfeed when a hub's
// upstream connection goes down or recovers.
type UpstreamStatusData struct {
	Broker string
	UserID string
	Status string
}

func (d UpstreamStatusData) EventType() EventType {
	if d.Status == "up" {
		return TypeUpstreamUp
	}
	return TypeUpstreamDown
}
