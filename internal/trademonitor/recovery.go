package trademonitor

import (
	"context"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// Recover reloads every persisted active/pending_entry trade from C1
// and rebuilds the monitor's in-memory indices and hub subscriptions,
// so a restart resumes supervision without losing SL/target/trailing
// state (spec §4.9: "on startup, load every status=active active trade
// from C1").
//
// For each recovered trade still marked active, it reconciles against
// the broker's reported net position: a trade whose (symbol, exchange,
// product) now nets to zero was evidently closed outside the bridge
// (manual square-off, broker-side SL, API call from elsewhere) while
// the process was down. Such trades are marked externally_closed and
// are not re-armed; everything else resumes monitoring exactly where
// it left off.
func (m *Monitor) Recover(ctx context.Context) error {
	trades, err := m.store.AllActive(ctx)
	if err != nil {
		return err
	}

	for _, t := range trades {
		trade := *t

		if trade.Status == domain.TradeStatusPendingEntry {
			go m.pollEntry(ctx, trade)
			continue
		}

		netQty, err := m.positions.NetPosition(ctx, trade.UserID, trade.Symbol, string(trade.Exchange), string(trade.Product))
		if err != nil {
			m.log.Warn().Err(err).Str("trade_id", trade.ID).Msg("recovery: failed to reconcile net position, resuming supervision anyway")
			if err := m.subscribe(ctx, trade); err != nil {
				m.log.Error().Err(err).Str("trade_id", trade.ID).Msg("recovery: failed to resubscribe trade")
			}
			continue
		}

		if netQty == 0 {
			trade.Status = domain.TradeStatusClosed
			trade.ExitReason = domain.ExitExternallyClosed
			if err := m.store.Save(ctx, &trade); err != nil {
				m.log.Error().Err(err).Str("trade_id", trade.ID).Msg("recovery: failed to persist externally-closed reconciliation")
			}
			m.log.Warn().Str("trade_id", trade.ID).Str("symbol", trade.Symbol).Msg("recovery: trade's position was closed externally while the monitor was down")
			continue
		}

		if err := m.subscribe(ctx, trade); err != nil {
			m.log.Error().Err(err).Str("trade_id", trade.ID).Msg("recovery: failed to resubscribe trade")
		}
	}

	return nil
}
