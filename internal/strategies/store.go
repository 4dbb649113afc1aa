// Package strategies persists StrategyInstance rows (spec §3, §4.7,
// §4.9) in C1 and exposes the webhook-id index the webhook router
// (C7) resolves inbound signals through, plus the safety-gate check
// the trade monitor (C9) enforces before a strategy can be deleted.
package strategies

import (
	"context"
	"fmt"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

const idsIndexKey = "__ids__"

func webhookIndexKey(webhookID string) string { return "webhook:" + webhookID }

// ActiveTradeCounter reports how many active trades the trade monitor
// (C9) currently supervises for a strategy, satisfying both
// webhook.PositionCounter and the safety gate below.
type ActiveTradeCounter interface {
	OpenPositionCount(ctx context.Context, strategyID string) (int, error)
	TradesForStrategy(ctx context.Context, strategyID string) ([]*domain.ActiveTrade, error)
}

// Store is the C1-backed repository for strategy instances.
type Store struct {
	backend cache.Backend
	trades  ActiveTradeCounter
}

func NewStore(backend cache.Backend, trades ActiveTradeCounter) *Store {
	return &Store{backend: backend, trades: trades}
}

func (s *Store) ids(ctx context.Context) ([]string, error) {
	raw, found, err := s.backend.Get(ctx, cache.NamespaceStrategies, idsIndexKey)
	if err != nil || !found {
		return nil, err
	}
	var ids []string
	if err := cache.Decode(raw, &ids); err != nil {
		return nil, fmt.Errorf("strategies: decode id index: %w", err)
	}
	return ids, nil
}

func (s *Store) putIDs(ctx context.Context, ids []string) error {
	encoded, err := cache.Encode(ids)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, cache.NamespaceStrategies, idsIndexKey, encoded, 0)
}

// All loads every persisted strategy instance.
func (s *Store) All(ctx context.Context) ([]*domain.StrategyInstance, error) {
	ids, err := s.ids(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	values, err := s.backend.GetMany(ctx, cache.NamespaceStrategies, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.StrategyInstance, 0, len(values))
	for _, raw := range values {
		var st domain.StrategyInstance
		if err := cache.Decode(raw, &st); err != nil {
			continue
		}
		out = append(out, &st)
	}
	return out, nil
}

// Get loads a single strategy by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.StrategyInstance, error) {
	raw, found, err := s.backend.Get(ctx, cache.NamespaceStrategies, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierr.New(apierr.InvalidParameters, "strategies: unknown strategy id "+id)
	}
	var st domain.StrategyInstance
	if err := cache.Decode(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save upserts a strategy, maintaining both the id index and the
// webhook-id → strategy-id index used by StrategyByWebhookID.
func (s *Store) Save(ctx context.Context, st *domain.StrategyInstance) error {
	encoded, err := cache.Encode(st)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, cache.NamespaceStrategies, st.ID, encoded, 0); err != nil {
		return err
	}
	if st.WebhookID != "" {
		if err := s.backend.Set(ctx, cache.NamespaceStrategies, webhookIndexKey(st.WebhookID), []byte(st.ID), 0); err != nil {
			return err
		}
	}

	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == st.ID {
			return nil
		}
	}
	return s.putIDs(ctx, append(ids, st.ID))
}

// StrategyByWebhookID satisfies webhook.StrategyStore.
func (s *Store) StrategyByWebhookID(ctx context.Context, webhookID string) (*domain.StrategyInstance, error) {
	raw, found, err := s.backend.Get(ctx, cache.NamespaceStrategies, webhookIndexKey(webhookID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierr.New(apierr.InvalidParameters, "strategies: unknown webhook id")
	}
	return s.Get(ctx, string(raw))
}

// Secret satisfies webhook.StrategyStore: returns the strategy's HMAC
// signing secret, if configured (an empty secret means HMAC
// verification is skipped for that strategy).
func (s *Store) Secret(ctx context.Context, strategyID string) ([]byte, error) {
	st, err := s.Get(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	return []byte(st.WebhookSecret), nil
}

// OpenPositionCount satisfies webhook.PositionCounter by delegating to
// the trade monitor.
func (s *Store) OpenPositionCount(ctx context.Context, strategyID string) (int, error) {
	return s.trades.OpenPositionCount(ctx, strategyID)
}

// SafetyGateResult is the structured warning returned when a deletion
// is blocked by active trades (spec §4.9 last paragraph).
type SafetyGateResult struct {
	Blocked        bool                  `json:"blocked"`
	ActiveTrades   []*domain.ActiveTrade `json:"active_trades,omitempty"`
	OfferedActions []string              `json:"offered_actions,omitempty"`
}

// CheckDeletionSafety reports whether a strategy can be deleted
// outright, or whether it has active trades that require the caller
// to pick one of {close-all-then-delete, stop-monitoring-but-keep-
// positions, cancel}.
func (s *Store) CheckDeletionSafety(ctx context.Context, strategyID string) (*SafetyGateResult, error) {
	active, err := s.trades.TradesForStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return &SafetyGateResult{Blocked: false}, nil
	}
	return &SafetyGateResult{
		Blocked:      true,
		ActiveTrades: active,
		OfferedActions: []string{
			"close-all-then-delete",
			"stop-monitoring-but-keep-positions",
			"cancel",
		},
	}, nil
}

// Delete removes a strategy and its webhook index entry. Callers MUST
// run CheckDeletionSafety first; Delete itself does not re-check.
func (s *Store) Delete(ctx context.Context, st *domain.StrategyInstance) error {
	if st.WebhookID != "" {
		if err := s.backend.Delete(ctx, cache.NamespaceStrategies, webhookIndexKey(st.WebhookID)); err != nil {
			return err
		}
	}
	if err := s.backend.Delete(ctx, cache.NamespaceStrategies, st.ID); err != nil {
		return err
	}
	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != st.ID {
			filtered = append(filtered, id)
		}
	}
	return s.putIDs(ctx, filtered)
}

// Deactivate clears the active flag but leaves existing trades under
// monitoring (spec §4.9: "Deactivation keeps existing trades under
// monitoring but ignores new signals").
func (s *Store) Deactivate(ctx context.Context, strategyID string) error {
	st, err := s.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	st.Active = false
	return s.Save(ctx, st)
}

// Panic sets a strategy's panic flag, scoped per-strategy (spec §5,
// §7: "Individual strategy panic is the same but scoped.").
func (s *Store) Panic(ctx context.Context, strategyID string) error {
	st, err := s.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	st.Panic = true
	return s.Save(ctx, st)
}
