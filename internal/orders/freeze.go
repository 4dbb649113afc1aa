package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/aristath/openalgo-bridge/internal/broker"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// FreezeTable maps a derivatives underlying (the leading alphabetic
// part of the symbol, e.g. NIFTY for NIFTY27JAN2624000CE) to its
// exchange freeze quantity. It backs splitting when the broker client
// has no per-symbol limit of its own.
type FreezeTable map[string]int

// LoadFreezeTable reads a {"NIFTY": 1800, ...} JSON file. A missing
// file is not an error: splitting then relies on the broker client
// alone.
func LoadFreezeTable(path string) (FreezeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orders: read freeze table: %w", err)
	}
	var table FreezeTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("orders: parse freeze table %s: %w", path, err)
	}
	return table, nil
}

// SetFreezeTable installs the configured fallback freeze-limit table.
func (r *Router) SetFreezeTable(table FreezeTable) {
	r.freeze = table
}

func underlyingOf(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] >= '0' && symbol[i] <= '9' {
			return symbol[:i]
		}
	}
	return symbol
}

func (r *Router) freezeLimitFor(ctx context.Context, client broker.Client, intent domain.OrderIntent) (int, bool) {
	if limit, ok := client.FreezeLimit(ctx, intent.Symbol, string(intent.Exchange)); ok && limit > 0 {
		return limit, true
	}
	if r.freeze != nil {
		if limit, ok := r.freeze[underlyingOf(intent.Symbol)]; ok && limit > 0 {
			return limit, true
		}
	}
	return 0, false
}

// splitForFreeze breaks an F&O intent into legs no larger than the
// broker's exchange freeze limit, placed sequentially (spec §4.5).
// Non-F&O symbols, or symbols with no freeze limit configured, pass
// through as a single leg.
func (r *Router) splitForFreeze(ctx context.Context, client broker.Client, intent domain.OrderIntent) ([]domain.OrderIntent, error) {
	limit, hasLimit := r.freezeLimitFor(ctx, client, intent)
	if !hasLimit || intent.Quantity <= limit {
		return []domain.OrderIntent{intent}, nil
	}

	var legs []domain.OrderIntent
	remaining := intent.Quantity
	legIndex := 0
	for remaining > 0 {
		qty := limit
		if remaining < limit {
			qty = remaining
		}
		leg := intent
		leg.Quantity = qty
		leg.ClientOrderID = legClientOrderID(intent.ClientOrderID, legIndex)
		legs = append(legs, leg)
		remaining -= qty
		legIndex++
	}
	return legs, nil
}

func legClientOrderID(parent string, index int) string {
	if index == 0 {
		return parent
	}
	return parent + "-leg" + strconv.Itoa(index)
}
