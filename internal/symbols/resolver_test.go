package symbols

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

func sampleRecords() []*domain.SymbolRecord {
	return []*domain.SymbolRecord{
		{Symbol: "INFY", Exchange: domain.ExchangeNSE, BrokerSymbol: "INFY-EQ", Token: "1594", InstrumentType: domain.InstrumentEquity, LotSize: 1, TickSize: 0.05},
		{Symbol: "SBIN", Exchange: domain.ExchangeNSE, BrokerSymbol: "SBIN-EQ", Token: "3045", InstrumentType: domain.InstrumentEquity, LotSize: 1, TickSize: 0.05},
	}
}

func TestResolver_ResolveAndReverse(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	r.Rotate("zerodha", sampleRecords())

	rec, err := r.Resolve(context.Background(), "zerodha", "INFY", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, "1594", rec.Token)

	rev, err := r.Reverse(context.Background(), "zerodha", "3045", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, "SBIN", rev.Symbol)

	_, err = r.Resolve(context.Background(), "zerodha", "UNKNOWN", domain.ExchangeNSE)
	assert.Error(t, err)
}

func TestResolver_RotateIsAtomicSnapshot(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	r.Rotate("zerodha", sampleRecords())

	snapshot := r.tableFor("zerodha").Load()
	require.NotNil(t, snapshot)

	r.Rotate("zerodha", []*domain.SymbolRecord{
		{Symbol: "TCS", Exchange: domain.ExchangeNSE, Token: "11536", InstrumentType: domain.InstrumentEquity},
	})

	// the snapshot held before rotation still resolves the old contracts
	_, ok := snapshot.byKey[domain.SymbolKey{Symbol: "INFY", Exchange: domain.ExchangeNSE}]
	assert.True(t, ok)

	rec, err := r.Resolve(context.Background(), "zerodha", "TCS", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, "11536", rec.Token)
}

type fakeLookup struct {
	called [][]domain.SymbolKey
	result map[domain.SymbolKey]*domain.SymbolRecord
}

func (f *fakeLookup) LookupMany(_ context.Context, _ string, misses []domain.SymbolKey) (map[domain.SymbolKey]*domain.SymbolRecord, error) {
	f.called = append(f.called, misses)
	out := make(map[domain.SymbolKey]*domain.SymbolRecord)
	for _, k := range misses {
		if rec, ok := f.result[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func TestResolver_ResolveMany_MapThenBatchThenBackfill(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	r.Rotate("zerodha", sampleRecords())

	missingKey := domain.SymbolKey{Symbol: "RELIANCE", Exchange: domain.ExchangeNSE}
	lookup := &fakeLookup{
		result: map[domain.SymbolKey]*domain.SymbolRecord{
			missingKey: {Symbol: "RELIANCE", Exchange: domain.ExchangeNSE, Token: "2885"},
		},
	}

	pairs := []domain.SymbolKey{
		{Symbol: "INFY", Exchange: domain.ExchangeNSE},
		missingKey,
	}

	result, err := r.ResolveMany(context.Background(), "zerodha", pairs, lookup)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Len(t, lookup.called, 1)
	assert.Equal(t, []domain.SymbolKey{missingKey}, lookup.called[0])

	// second call should hit the overlay, not the batch lookup again
	result2, err := r.ResolveMany(context.Background(), "zerodha", pairs, lookup)
	require.NoError(t, err)
	assert.Len(t, result2, 2)
	assert.Len(t, lookup.called, 1, "overlay should have served the repeat lookup")
}

func TestResolver_OptionsChain(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	expiry, err := time.Parse("2006-01-02", "2026-07-30")
	require.NoError(t, err)
	r.Rotate("zerodha", []*domain.SymbolRecord{
		{Symbol: "NIFTY30JUL26C25000", Exchange: domain.ExchangeNFO, Token: "501", InstrumentType: domain.InstrumentOption, Expiry: &expiry},
		{Symbol: "NIFTY30JUL26P25000", Exchange: domain.ExchangeNFO, Token: "502", InstrumentType: domain.InstrumentOption, Expiry: &expiry},
		{Symbol: "BANKNIFTY30JUL26C50000", Exchange: domain.ExchangeNFO, Token: "503", InstrumentType: domain.InstrumentOption, Expiry: &expiry},
	})

	chain, err := r.OptionsChain(context.Background(), "zerodha", "NIFTY", domain.ExchangeNFO, "2026-07-30")
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}
