package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier is the default Telegram implementation: it logs the
// notification instead of delivering it anywhere, the same seam
// pattern as internal/broker.Registry and internal/auth.UserRegistry
// for a collaborator genuinely out of scope for this engine (spec
// §1). A deployment wires a real Telegram client in its place.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, userID string, payload TriggerNotification) error {
	n.log.Info().
		Str("user_id", userID).
		Str("alert_id", payload.AlertID).
		Str("symbol", payload.Symbol).
		Float64("ltp", payload.LTP).
		Str("title", payload.Title).
		Str("body", payload.Body).
		Msg("trigger notification (no telegram client registered)")
	return nil
}
