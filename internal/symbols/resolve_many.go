package symbols

import (
	"context"
	"sync"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// BatchLookup is the out-of-band source ResolveMany falls back to for
// pairs not present in the active table (e.g. a contract added
// intraday that hasn't reached the next rotation). Implementations
// typically call the broker's symbol-search API once per batch.
type BatchLookup interface {
	LookupMany(ctx context.Context, broker string, misses []domain.SymbolKey) (map[domain.SymbolKey]*domain.SymbolRecord, error)
}

// overlay holds entries resolved via BatchLookup, per broker, so a
// later ResolveMany call for the same pair hits the in-process map
// instead of re-issuing a batched query.
type overlay struct {
	mu      sync.RWMutex
	entries map[domain.SymbolKey]*domain.SymbolRecord
}

func (o *overlay) get(key domain.SymbolKey) (*domain.SymbolRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.entries[key]
	return rec, ok
}

func (o *overlay) put(key domain.SymbolKey, rec *domain.SymbolRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[key] = rec
}

func (r *Resolver) overlayFor(broker string) *overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlays == nil {
		r.overlays = make(map[string]*overlay)
	}
	o, ok := r.overlays[broker]
	if !ok {
		o = &overlay{entries: make(map[domain.SymbolKey]*domain.SymbolRecord)}
		r.overlays[broker] = o
	}
	return o
}

// ResolveMany implements spec §4.2's required shape exactly: it first
// consults the active table and the in-process overlay map, then
// issues one batched lookup for whatever is still missing, then
// writes those results into the overlay for subsequent calls.
// Basket-order callers MUST use this instead of looping Resolve, or
// they lose the batching speed-up the spec requires.
func (r *Resolver) ResolveMany(ctx context.Context, broker string, pairs []domain.SymbolKey, lookup BatchLookup) (map[domain.SymbolKey]*domain.SymbolRecord, error) {
	result := make(map[domain.SymbolKey]*domain.SymbolRecord, len(pairs))

	table := r.tableFor(broker).Load()
	ov := r.overlayFor(broker)

	var misses []domain.SymbolKey
	for _, key := range pairs {
		if table != nil {
			if rec, ok := table.byKey[key]; ok {
				result[key] = rec
				continue
			}
		}
		if rec, ok := ov.get(key); ok {
			result[key] = rec
			continue
		}
		misses = append(misses, key)
	}

	if len(misses) == 0 || lookup == nil {
		return result, nil
	}

	found, err := lookup.LookupMany(ctx, broker, misses)
	if err != nil {
		return result, err
	}
	for key, rec := range found {
		ov.put(key, rec)
		result[key] = rec
	}
	return result, nil
}
