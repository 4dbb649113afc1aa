package trademonitor

import (
	"context"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// evaluatePortfolio re-aggregates strategyID's open trades against its
// PortfolioRisk configuration and, if it fires, closes every one of
// that strategy's trades with the portfolio reason — preempting
// whatever individual exit pendingExit may already hold queued for
// those same trades (spec §4.9, §8 Scenario 3: "no individual SL
// triggers are recorded for that tick even if individual SLs were
// also breached simultaneously").
func (m *Monitor) evaluatePortfolio(ctx context.Context, strategyID string, pendingExit map[string]domain.ExitReason) {
	strategy, err := m.strategies.Get(ctx, strategyID)
	if err != nil || strategy == nil || !strategy.Portfolio.Enabled {
		return
	}

	trades, err := m.TradesForStrategy(ctx, strategyID)
	if err != nil || len(trades) == 0 {
		return
	}

	var totalPnL, allocated float64
	for _, t := range trades {
		totalPnL += t.Unrealised()
	}
	allocated = strategy.AllocatedFunds

	reason, fires := evaluatePortfolioRisk(&strategy.Portfolio, totalPnL, allocated)

	if strategy.Portfolio.HighestPnL < totalPnL {
		strategy.Portfolio.HighestPnL = totalPnL
	}
	if err := m.strategies.Save(ctx, strategy); err != nil {
		m.log.Warn().Err(err).Str("strategy_id", strategyID).Msg("failed to persist portfolio high-water mark")
	}

	if !fires {
		return
	}

	for _, t := range trades {
		pendingExit[t.ID] = reason
	}
}

// evaluatePortfolioRisk applies the strategy's aggregate SL, target,
// and trailing thresholds to its current total unrealised P&L.
// Trailing is monotonic across the trading day: PortfolioRisk.HighestPnL
// never resets on partial exits (Open Question decision, DESIGN.md).
func evaluatePortfolioRisk(risk *domain.PortfolioRisk, totalPnL, allocated float64) (domain.ExitReason, bool) {
	stopThreshold := thresholdValue(risk.StopBasis, risk.StopLoss, allocated)
	if risk.StopLoss != 0 && totalPnL <= -stopThreshold {
		return domain.ExitPortfolioSL, true
	}

	targetThreshold := thresholdValue(risk.TargetBasis, risk.Target, allocated)
	if risk.Target != 0 && totalPnL >= targetThreshold {
		return domain.ExitPortfolioTarget, true
	}

	if risk.Trailing.Kind != domain.TrailingNone && risk.HighestPnL > 0 {
		// trailing level = peak − absolute amount, or
		// peak − allocated·percent/100 (spec §4.9); the percent basis
		// is the strategy's allocation, not the peak, so the allowance
		// stays fixed as profit accrues.
		var drawdownLimit float64
		if risk.Trailing.Kind == domain.TrailingPoints {
			drawdownLimit = risk.Trailing.Value
		} else {
			drawdownLimit = allocated * risk.Trailing.Value / 100
		}
		if risk.HighestPnL-totalPnL >= drawdownLimit {
			return domain.ExitPortfolioTrail, true
		}
	}

	return "", false
}

func thresholdValue(basis domain.RiskBasis, value, allocated float64) float64 {
	if basis == domain.RiskPercent {
		return allocated * value / 100
	}
	return value
}
