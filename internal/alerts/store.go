// Package alerts implements the scheduled-alert engine (spec §4.8,
// C8): condition watches over the C4 tick stream, with Telegram
// notification and optional order submission on trigger.
package alerts

import (
	"context"
	"fmt"

	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

const idsIndexKey = "__ids__"

// Store persists ScheduledAlert rows in C1 under
// cache.NamespaceScheduledAlerts, keeping a small index key of all ids
// since Backend has no key-enumeration primitive.
type Store struct {
	backend cache.Backend
}

func NewStore(backend cache.Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) ids(ctx context.Context) ([]string, error) {
	raw, found, err := s.backend.Get(ctx, cache.NamespaceScheduledAlerts, idsIndexKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var ids []string
	if err := cache.Decode(raw, &ids); err != nil {
		return nil, fmt.Errorf("alerts: decode id index: %w", err)
	}
	return ids, nil
}

func (s *Store) putIDs(ctx context.Context, ids []string) error {
	encoded, err := cache.Encode(ids)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, cache.NamespaceScheduledAlerts, idsIndexKey, encoded, 0)
}

// All loads every persisted alert, for startup index construction.
func (s *Store) All(ctx context.Context) ([]*domain.ScheduledAlert, error) {
	ids, err := s.ids(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.backend.GetMany(ctx, cache.NamespaceScheduledAlerts, ids)
	if err != nil {
		return nil, err
	}
	alerts := make([]*domain.ScheduledAlert, 0, len(values))
	for _, raw := range values {
		var a domain.ScheduledAlert
		if err := cache.Decode(raw, &a); err != nil {
			continue
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}

// Save upserts a single alert and ensures it appears in the id index.
func (s *Store) Save(ctx context.Context, a *domain.ScheduledAlert) error {
	encoded, err := cache.Encode(a)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, cache.NamespaceScheduledAlerts, a.ID, encoded, 0); err != nil {
		return err
	}

	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == a.ID {
			return nil
		}
	}
	return s.putIDs(ctx, append(ids, a.ID))
}

// SaveTrigger appends an immutable trigger audit row under
// cache.NamespaceTriggerHistory, keyed by the trigger record's own id
// so each trigger of an alert is kept as a separate row.
func (s *Store) SaveTrigger(ctx context.Context, rec domain.TriggerRecord) error {
	encoded, err := cache.Encode(rec)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, cache.NamespaceTriggerHistory, rec.ID, encoded, 0)
}

// Delete removes an alert and its id index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, cache.NamespaceScheduledAlerts, id); err != nil {
		return err
	}
	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return s.putIDs(ctx, filtered)
}
