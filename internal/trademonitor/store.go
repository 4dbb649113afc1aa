// Package trademonitor implements the trade monitor (spec §4.9, C9):
// lifecycle of server-side SL/target/trailing-stop supervision for
// individual active trades and portfolio-level risk, with C1-backed
// persistence and crash recovery against broker-reported positions.
package trademonitor

import (
	"context"
	"fmt"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

const idsIndexKey = "__ids__"

// Store persists ActiveTrade rows in C1 under
// cache.NamespaceActiveTrades, grounded on the same id-index pattern
// used by internal/alerts.Store and internal/strategies.Store.
type Store struct {
	backend cache.Backend
}

func NewStore(backend cache.Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) ids(ctx context.Context) ([]string, error) {
	raw, found, err := s.backend.Get(ctx, cache.NamespaceActiveTrades, idsIndexKey)
	if err != nil || !found {
		return nil, err
	}
	var ids []string
	if err := cache.Decode(raw, &ids); err != nil {
		return nil, fmt.Errorf("trademonitor: decode id index: %w", err)
	}
	return ids, nil
}

func (s *Store) putIDs(ctx context.Context, ids []string) error {
	encoded, err := cache.Encode(ids)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, cache.NamespaceActiveTrades, idsIndexKey, encoded, 0)
}

// AllActive loads every persisted trade with status=active or
// pending_entry, for startup recovery (spec §4.9: "load every status=active active trade
// from C1").
func (s *Store) AllActive(ctx context.Context) ([]*domain.ActiveTrade, error) {
	ids, err := s.ids(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	values, err := s.backend.GetMany(ctx, cache.NamespaceActiveTrades, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ActiveTrade, 0, len(values))
	for _, raw := range values {
		var t domain.ActiveTrade
		if err := cache.Decode(raw, &t); err != nil {
			continue
		}
		if t.Status == domain.TradeStatusActive || t.Status == domain.TradeStatusPendingEntry {
			out = append(out, &t)
		}
	}
	return out, nil
}

// TradesForStrategy satisfies internal/strategies.ActiveTradeCounter
// from the persisted rows, so the deletion safety gate works even
// before the monitor has rebuilt its in-memory indices (e.g. during
// startup recovery).
func (s *Store) TradesForStrategy(ctx context.Context, strategyID string) ([]*domain.ActiveTrade, error) {
	all, err := s.AllActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ActiveTrade, 0, len(all))
	for _, t := range all {
		if t.StrategyID == strategyID {
			out = append(out, t)
		}
	}
	return out, nil
}

// OpenPositionCount satisfies internal/strategies.ActiveTradeCounter.
func (s *Store) OpenPositionCount(ctx context.Context, strategyID string) (int, error) {
	trades, err := s.TradesForStrategy(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	return len(trades), nil
}

// Save upserts a trade, maintaining the id index.
func (s *Store) Save(ctx context.Context, t *domain.ActiveTrade) error {
	encoded, err := cache.Encode(t)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, cache.NamespaceActiveTrades, t.ID, encoded, 0); err != nil {
		return err
	}
	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == t.ID {
			return nil
		}
	}
	return s.putIDs(ctx, append(ids, t.ID))
}
