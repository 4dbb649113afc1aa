package sandbox

import (
	"context"
	"fmt"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// Closer is the smart_close collaborator the square-off job uses to
// flatten MIS positions; satisfied by internal/orders.Router.
type Closer interface {
	SmartClose(ctx context.Context, userID, symbol, exchange, product, reason string) (*domain.PlaceResult, error)
}

// SquareOffJob closes every open virtual MIS position at its
// configured segment time (spec §4.6). CNC/NRML books are untouched.
type SquareOffJob struct {
	engine *Engine
	closer Closer
}

func NewSquareOffJob(engine *Engine, closer Closer) *SquareOffJob {
	return &SquareOffJob{engine: engine, closer: closer}
}

func (j *SquareOffJob) Name() string { return "sandbox.square_off" }

func (j *SquareOffJob) Run() error {
	ctx := context.Background()

	j.engine.mu.Lock()
	var targets []bookKey
	touchedFunds := make(map[string]*Funds)
	for key, b := range j.engine.books {
		if key.Product != domain.ProductMIS {
			continue
		}
		b.mu.Lock()
		nonZero := b.position.NetQty != 0
		var release float64
		for _, rec := range b.pending {
			rec.Status = domain.StatusCancelled
			release += b.marginByOrder[rec.BrokerOrderID]
			delete(b.marginByOrder, rec.BrokerOrderID)
		}
		b.pending = nil
		j.engine.persistBook(ctx, key, b)
		b.mu.Unlock()
		if release > 0 {
			if f, ok := j.engine.funds[key.UserID]; ok {
				f.UsedMargin -= release
				if f.UsedMargin < 0 {
					f.UsedMargin = 0
				}
				touchedFunds[key.UserID] = f
			}
		}
		if nonZero {
			targets = append(targets, key)
		}
	}
	j.engine.mu.Unlock()

	for userID, f := range touchedFunds {
		j.engine.persistFunds(ctx, userID, f)
	}

	var firstErr error
	for _, key := range targets {
		if _, err := j.closer.SmartClose(ctx, key.UserID, key.Symbol, string(key.Exchange), string(key.Product), "auto_square_off"); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sandbox: square-off failed for %s/%s: %w", key.UserID, key.Symbol, err)
		}
	}
	return firstErr
}

// ResetJob restores every user's virtual funds to their configured
// starting capital and clears positions/orders (spec §4.6: default
// Sunday 00:00 local). The cleared books carry each position's
// realised P&L, and no copy of it is kept: after a reset no P&L
// history remains in the sandbox namespaces.
type ResetJob struct {
	engine          *Engine
	startingCapital float64
}

func NewResetJob(engine *Engine, startingCapital float64) *ResetJob {
	return &ResetJob{engine: engine, startingCapital: startingCapital}
}

func (j *ResetJob) Name() string { return "sandbox.daily_reset" }

func (j *ResetJob) Run() error {
	ctx := context.Background()

	j.engine.mu.Lock()
	funds := make(map[string]*Funds, len(j.engine.funds))
	for userID, f := range j.engine.funds {
		f.Balance = j.startingCapital
		f.UsedMargin = 0
		funds[userID] = f
	}
	j.engine.books = make(map[bookKey]*book)
	j.engine.mu.Unlock()

	if j.engine.backend != nil {
		if err := j.engine.backend.Clear(ctx, namespaceBooks); err != nil {
			j.engine.log.Warn().Err(err).Msg("sandbox: failed to clear persisted books on reset")
		}
	}
	for userID, f := range funds {
		j.engine.persistFunds(ctx, userID, f)
	}

	j.engine.log.Info().Msg("sandbox daily reset: funds restored, books cleared")
	return nil
}
