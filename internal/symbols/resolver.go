// Package symbols implements the per-broker symbol table (spec §4.2):
// resolve/resolve_many/reverse/options_chain/rotate, with atomic
// table-swap-on-rotate so in-flight readers never see a half-updated
// table.
package symbols

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// Table is an immutable snapshot of one broker's symbol universe.
// Rotate replaces the whole table; readers that already hold a
// *Table keep reading it, unaffected by a later swap.
type Table struct {
	broker    string
	byKey     map[domain.SymbolKey]*domain.SymbolRecord
	byToken   map[string]*domain.SymbolRecord // keyed by broker-token + exchange
	checksum  string
	contracts int
}

func newTable(broker string, records []*domain.SymbolRecord) *Table {
	t := &Table{
		broker:  broker,
		byKey:   make(map[domain.SymbolKey]*domain.SymbolRecord, len(records)),
		byToken: make(map[string]*domain.SymbolRecord, len(records)),
	}
	for _, r := range records {
		t.byKey[r.Key()] = r
		t.byToken[tokenKey(r.Token, r.Exchange)] = r
	}
	t.contracts = len(records)
	t.checksum = checksum(records)
	return t
}

func tokenKey(token string, exchange domain.Exchange) string {
	return string(exchange) + ":" + token
}

// Resolver holds one Table per broker behind an atomic.Value so that
// rotate(broker, new_table) is a single atomic pointer swap: readers
// in flight keep their snapshot, never see a partially-updated table.
type Resolver struct {
	log zerolog.Logger

	mu       sync.Mutex // guards the tables and overlays maps, not Table values
	tables   map[string]*atomic.Pointer[Table]
	overlays map[string]*overlay
}

func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{
		log:    log.With().Str("component", "symbols").Logger(),
		tables: make(map[string]*atomic.Pointer[Table]),
	}
}

func (r *Resolver) tableFor(broker string) *atomic.Pointer[Table] {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.tables[broker]
	if !ok {
		p = &atomic.Pointer[Table]{}
		r.tables[broker] = p
	}
	return p
}

// Rotate atomically replaces broker's active table. On success it
// logs the new contract count and checksum. Per spec §4.2, a rotation
// failure must leave the previous table active and only emit a
// warning — callers achieve that simply by not calling Rotate when
// the source fetch failed.
func (r *Resolver) Rotate(broker string, records []*domain.SymbolRecord) {
	table := newTable(broker, records)
	r.tableFor(broker).Store(table)
	r.log.Info().
		Str("broker", broker).
		Int("contracts", table.contracts).
		Str("checksum", table.checksum).
		Msg("symbol table rotated")
}

// Resolve looks up a single (symbol, exchange) pair for broker.
func (r *Resolver) Resolve(_ context.Context, broker, symbol string, exchange domain.Exchange) (*domain.SymbolRecord, error) {
	table := r.tableFor(broker).Load()
	if table == nil {
		return nil, fmt.Errorf("symbols: no table loaded for broker %s", broker)
	}
	rec, ok := table.byKey[domain.SymbolKey{Symbol: symbol, Exchange: exchange}]
	if !ok {
		return nil, fmt.Errorf("symbols: unknown symbol %s/%s", symbol, exchange)
	}
	return rec, nil
}

// Reverse looks up a record by broker token + exchange, used when
// normalising broker tick/order payloads that carry tokens instead of
// symbol names.
func (r *Resolver) Reverse(_ context.Context, broker, token string, exchange domain.Exchange) (*domain.SymbolRecord, error) {
	table := r.tableFor(broker).Load()
	if table == nil {
		return nil, fmt.Errorf("symbols: no table loaded for broker %s", broker)
	}
	rec, ok := table.byToken[tokenKey(token, exchange)]
	if !ok {
		return nil, fmt.Errorf("symbols: unknown token %s/%s", token, exchange)
	}
	return rec, nil
}

// OptionsChain scans the active table for contracts on underlying
// with the given expiry, as required by spec §4.2.
func (r *Resolver) OptionsChain(_ context.Context, broker, underlying string, exchange domain.Exchange, expiry string) ([]*domain.SymbolRecord, error) {
	table := r.tableFor(broker).Load()
	if table == nil {
		return nil, fmt.Errorf("symbols: no table loaded for broker %s", broker)
	}

	var out []*domain.SymbolRecord
	for _, rec := range table.byKey {
		if rec.Exchange != exchange {
			continue
		}
		if rec.InstrumentType != domain.InstrumentOption {
			continue
		}
		if rec.Expiry == nil || rec.Expiry.Format("2006-01-02") != expiry {
			continue
		}
		if !underlyingMatches(rec.Symbol, underlying) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// InstrumentType satisfies internal/sandbox.SymbolInfo: the margin
// model needs to know whether a symbol is equity, future, option, or
// index to pick its approximation.
func (r *Resolver) InstrumentType(ctx context.Context, broker, symbol string, exchange domain.Exchange) (domain.InstrumentType, error) {
	rec, err := r.Resolve(ctx, broker, symbol, exchange)
	if err != nil {
		return "", err
	}
	return rec.InstrumentType, nil
}

// LotMargin satisfies internal/sandbox.SymbolInfo. The symbol table
// carries lot size but not a broker-quoted per-lot margin figure, so
// this always reports "unknown" and lets the margin model fall back
// to its configured F&O notional percentage.
func (r *Resolver) LotMargin(ctx context.Context, broker, symbol string, exchange domain.Exchange) (float64, bool) {
	return 0, false
}

func underlyingMatches(symbol, underlying string) bool {
	return len(symbol) >= len(underlying) && symbol[:len(underlying)] == underlying
}
