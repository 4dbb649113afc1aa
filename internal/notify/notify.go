// Package notify defines the collaborator interface the engine uses
// to push trigger notifications out to users. The concrete Telegram
// integration is out of scope for this engine (spec §1); only the
// interface lives here.
package notify

import "context"

// TriggerNotification is the payload sent when a scheduled alert or
// trade-monitor exit fires.
type TriggerNotification struct {
	Title   string
	Body    string
	Symbol  string
	LTP     float64
	AlertID string
}

// Telegram is the contract a concrete notification integration
// satisfies.
type Telegram interface {
	Send(ctx context.Context, userID string, payload TriggerNotification) error
}
