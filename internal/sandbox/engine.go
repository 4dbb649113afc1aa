// Package sandbox implements the analyzer-mode virtual execution
// engine (spec §4.6): per-user virtual books, MARKET/LIMIT/SL/SL-M
// fills driven off the real LTP feed, margin approximation, and
// cron-scheduled square-off/reset.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/cache"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// bookKey identifies one virtual book.
type bookKey struct {
	UserID   string
	Symbol   string
	Exchange domain.Exchange
	Product  domain.Product
}

// book is the per-(user,symbol,exchange,product) virtual state.
type book struct {
	mu            sync.Mutex
	position      domain.Position
	orders        map[string]*domain.OrderRecord
	pending       []*domain.OrderRecord // resting LIMIT/SL orders awaiting a fill
	marginByOrder map[string]float64    // reservation taken at place time, released on close/cancel
}

// Funds tracks one user's virtual capital.
type Funds struct {
	Balance     float64
	UsedMargin  float64
	StartingCap float64
}

// MarginModel computes the approximate margin an order consumes,
// per spec §4.6: equity MIS uses a fixed leverage, CNC full value,
// F&O NRML a broker lot margin if available else a configured
// percentage of notional.
type MarginModel struct {
	EquityMISLeverage  float64 // e.g. 5 means 1/5th of notional
	FNONotionalPercent float64 // fallback when no broker lot margin is known
}

func (m MarginModel) Required(intent domain.OrderIntent, price float64, instrument domain.InstrumentType, lotMargin float64, hasLotMargin bool) float64 {
	notional := price * float64(intent.Quantity)
	switch {
	case instrument == domain.InstrumentEquity && intent.Product == domain.ProductMIS:
		leverage := m.EquityMISLeverage
		if leverage <= 0 {
			leverage = 1
		}
		return notional / leverage
	case intent.Product == domain.ProductCNC:
		return notional
	case hasLotMargin:
		return lotMargin * float64(intent.Quantity)
	default:
		pct := m.FNONotionalPercent
		if pct <= 0 {
			pct = 0.2
		}
		return notional * pct
	}
}

// SymbolInfo is the subset of symbol metadata the engine needs to
// decide instrument type and margin, supplied by internal/symbols.
type SymbolInfo interface {
	InstrumentType(ctx context.Context, broker, symbol string, exchange domain.Exchange) (domain.InstrumentType, error)
	LotMargin(ctx context.Context, broker, symbol string, exchange domain.Exchange) (float64, bool)
}

// LTPSource supplies the current last-traded price the engine fills
// MARKET orders against, backed by internal/marketfeed.
type LTPSource interface {
	LastPrice(ctx context.Context, symbol string, exchange domain.Exchange) (float64, error)
}

// Hub is the C4 collaborator the engine subscribes to so resting
// LIMIT/SL/SL-M orders get fed real ticks via OnTick. Satisfied
// structurally by *marketfeed.Hub.
type Hub interface {
	Subscribe(ctx context.Context, sub domain.Subscription) (<-chan domain.Tick, domain.DepthLevel, bool, error)
}

// HubRegistry resolves a user's upstream hub, satisfied structurally
// by *marketfeed.Registry via a thin per-package adapter (see
// cmd/server/main.go), the same pattern internal/trademonitor and
// internal/alerts use.
type HubRegistry interface {
	HubFor(ctx context.Context, userID, broker string) (Hub, error)
}

// UserBrokers resolves a user's active broker name.
type UserBrokers interface {
	BrokerFor(ctx context.Context, userID string) (string, error)
}

// Engine is the C6 component.
type Engine struct {
	backend cache.Backend
	symbols SymbolInfo
	prices  LTPSource
	hubs    HubRegistry
	brokers UserBrokers
	margin  MarginModel
	log     zerolog.Logger

	mu         sync.Mutex
	books      map[bookKey]*book
	funds      map[string]*Funds   // by userID
	subscribed map[string]struct{} // by "symbol|exchange", feed subscriptions already wired
}

// NewEngine builds the sandbox engine. hubs/brokers may be nil, in
// which case resting orders are only evaluated when a caller (tests,
// or an operator tool) invokes OnTick directly rather than from a
// live C4 feed.
func NewEngine(backend cache.Backend, symbols SymbolInfo, prices LTPSource, hubs HubRegistry, brokers UserBrokers, margin MarginModel, log zerolog.Logger) *Engine {
	return &Engine{
		backend:    backend,
		symbols:    symbols,
		prices:     prices,
		hubs:       hubs,
		brokers:    brokers,
		margin:     margin,
		log:        log.With().Str("component", "sandbox").Logger(),
		books:      make(map[bookKey]*book),
		funds:      make(map[string]*Funds),
		subscribed: make(map[string]struct{}),
	}
}

func (e *Engine) bookFor(ctx context.Context, key bookKey) *book {
	e.mu.Lock()
	b, ok := e.books[key]
	if ok {
		e.mu.Unlock()
		return b
	}
	b = &book{
		position:      domain.Position{UserID: key.UserID, Symbol: key.Symbol, Exchange: key.Exchange, Product: key.Product},
		orders:        make(map[string]*domain.OrderRecord),
		marginByOrder: make(map[string]float64),
	}
	e.books[key] = b
	e.mu.Unlock()

	if snap, found := e.loadBook(ctx, key); found {
		b.mu.Lock()
		b.position = snap.Position
		b.orders = snap.Orders
		b.pending = snap.Pending
		if snap.Margin != nil {
			b.marginByOrder = snap.Margin
		}
		b.mu.Unlock()
	}
	return b
}

func (e *Engine) fundsFor(ctx context.Context, userID string, startingCapital float64) *Funds {
	e.mu.Lock()
	f, ok := e.funds[userID]
	if ok {
		e.mu.Unlock()
		return f
	}
	f = &Funds{Balance: startingCapital, StartingCap: startingCapital}
	e.funds[userID] = f
	e.mu.Unlock()

	if snap, found := e.loadFunds(ctx, userID); found {
		*f = *snap
	}
	return f
}

// Place satisfies internal/orders.Sandbox: it looks up the current
// LTP and delegates to PlaceAt, wrapping the single resulting order
// in a PlaceResult the way the router expects from a live broker.
func (e *Engine) Place(ctx context.Context, intent domain.OrderIntent) (*domain.PlaceResult, error) {
	ltp, err := e.prices.LastPrice(ctx, intent.Symbol, intent.Exchange)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "sandbox: no price available to fill against", err)
	}
	record, err := e.PlaceAt(ctx, intent, ltp)
	if err != nil {
		return nil, err
	}
	return &domain.PlaceResult{ClientOrderID: intent.ClientOrderID, Legs: []domain.OrderRecord{*record}}, nil
}

// PlaceAt fills MARKET orders immediately at the given LTP and rests
// LIMIT/SL/SL-M orders for later evaluation by Engine.OnTick.
func (e *Engine) PlaceAt(ctx context.Context, intent domain.OrderIntent, ltp float64) (*domain.OrderRecord, error) {
	key := bookKey{UserID: intent.UserID, Symbol: intent.Symbol, Exchange: intent.Exchange, Product: intent.Product}
	b := e.bookFor(ctx, key)

	instrument, err := e.symbols.InstrumentType(ctx, intent.Broker, intent.Symbol, intent.Exchange)
	if err != nil {
		return nil, apierr.Wrap(apierr.SymbolNotFound, "sandbox: cannot resolve instrument type", err)
	}
	lotMargin, hasLotMargin := e.symbols.LotMargin(ctx, intent.Broker, intent.Symbol, intent.Exchange)
	required := e.margin.Required(intent, priceFor(intent, ltp), instrument, lotMargin, hasLotMargin)

	funds := e.fundsFor(ctx, intent.UserID, 0)
	b.mu.Lock()

	if funds.Balance-funds.UsedMargin < required {
		b.mu.Unlock()
		return nil, apierr.New(apierr.RiskRejected, fmt.Sprintf("sandbox: insufficient virtual margin, need %.2f", required))
	}

	record := &domain.OrderRecord{OrderIntent: intent, BrokerOrderID: orderIDFor(intent), Status: domain.StatusOpen}
	b.orders[record.BrokerOrderID] = record
	funds.UsedMargin += required
	b.marginByOrder[record.BrokerOrderID] = required

	resting := intent.PriceType != domain.PriceTypeMarket
	if !resting {
		e.fill(b, record, ltp, funds)
	} else {
		b.pending = append(b.pending, record)
	}
	e.persistBook(ctx, key, b)
	b.mu.Unlock()

	e.persistFunds(ctx, intent.UserID, funds)
	if resting {
		e.ensureSubscribed(ctx, intent.UserID, intent.Broker, intent.Symbol, intent.Exchange)
	}
	return record, nil
}

// RequiredMargin reports the virtual margin an intent would consume
// without placing it, backing the /margin endpoint (spec §6) for
// analyzer-mode users.
func (e *Engine) RequiredMargin(ctx context.Context, intent domain.OrderIntent) (float64, error) {
	ltp, err := e.prices.LastPrice(ctx, intent.Symbol, intent.Exchange)
	if err != nil {
		return 0, apierr.Wrap(apierr.UpstreamError, "sandbox: no price available to quote margin", err)
	}
	instrument, err := e.symbols.InstrumentType(ctx, intent.Broker, intent.Symbol, intent.Exchange)
	if err != nil {
		return 0, apierr.Wrap(apierr.SymbolNotFound, "sandbox: cannot resolve instrument type", err)
	}
	lotMargin, hasLotMargin := e.symbols.LotMargin(ctx, intent.Broker, intent.Symbol, intent.Exchange)
	return e.margin.Required(intent, priceFor(intent, ltp), instrument, lotMargin, hasLotMargin), nil
}

func priceFor(intent domain.OrderIntent, ltp float64) float64 {
	if intent.PriceType == domain.PriceTypeLimit && intent.LimitPrice > 0 {
		return intent.LimitPrice
	}
	return ltp
}

var orderSeq int64

func orderIDFor(intent domain.OrderIntent) string {
	seq := atomic.AddInt64(&orderSeq, 1)
	return fmt.Sprintf("sbx-%s-%d", intent.Symbol, seq)
}

// fill marks a resting or market order complete at fillPrice and
// updates the book's net position and realised P&L. A fill that
// reduces the position credits its realised P&L to the user's virtual
// balance and releases the closed share of the book's reserved margin
// (spec §4.6: square-off fills credit funds accordingly).
func (e *Engine) fill(b *book, record *domain.OrderRecord, fillPrice float64, funds *Funds) {
	record.Status = domain.StatusComplete
	record.FilledQty = record.Quantity
	record.AvgPrice = fillPrice

	signedQty := record.Quantity
	if record.Action == domain.ActionSell {
		signedQty = -signedQty
	}

	pos := &b.position
	if pos.NetQty == 0 {
		pos.AvgPrice = fillPrice
	} else if sameSign(pos.NetQty, signedQty) {
		totalCost := pos.AvgPrice*float64(pos.NetQty) + fillPrice*float64(signedQty)
		pos.AvgPrice = totalCost / float64(pos.NetQty+signedQty)
	} else {
		closingQty := minAbs(pos.NetQty, -signedQty)
		var realised float64
		if pos.NetQty > 0 {
			realised = float64(closingQty) * (fillPrice - pos.AvgPrice)
		} else {
			realised = float64(closingQty) * (pos.AvgPrice - fillPrice)
		}
		pos.RealisedPnL += realised
		if funds != nil {
			funds.Balance += realised
			e.releaseMargin(b, record.BrokerOrderID, closingQty, pos.NetQty, funds)
		}
	}
	pos.NetQty += signedQty
	pos.LTP = fillPrice
}

// releaseMargin frees the closing order's own reservation plus the
// closed fraction of every other reservation on the book. Called with
// b.mu held.
func (e *Engine) releaseMargin(b *book, closingOrderID string, closedQty, priorNetQty int, funds *Funds) {
	if priorNetQty < 0 {
		priorNetQty = -priorNetQty
	}
	if priorNetQty == 0 {
		return
	}
	frac := float64(closedQty) / float64(priorNetQty)

	release := b.marginByOrder[closingOrderID]
	delete(b.marginByOrder, closingOrderID)
	for id, m := range b.marginByOrder {
		release += m * frac
		b.marginByOrder[id] = m * (1 - frac)
	}

	funds.UsedMargin -= release
	if funds.UsedMargin < 0 {
		funds.UsedMargin = 0
	}
}

func sameSign(a, b int) bool { return (a >= 0) == (b >= 0) }

func minAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a < b {
		return a
	}
	return b
}

// Cancel removes a resting order without it ever filling.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	books := make(map[bookKey]*book, len(e.books))
	for key, b := range e.books {
		books[key] = b
	}
	e.mu.Unlock()

	for key, b := range books {
		b.mu.Lock()
		if rec, ok := b.orders[orderID]; ok && !rec.Terminal() {
			rec.Status = domain.StatusCancelled
			b.pending = removeOrder(b.pending, orderID)
			release := b.marginByOrder[orderID]
			delete(b.marginByOrder, orderID)
			e.persistBook(ctx, key, b)
			b.mu.Unlock()

			if release > 0 {
				funds := e.fundsFor(ctx, key.UserID, 0)
				funds.UsedMargin -= release
				if funds.UsedMargin < 0 {
					funds.UsedMargin = 0
				}
				e.persistFunds(ctx, key.UserID, funds)
			}
			return nil
		}
		b.mu.Unlock()
	}
	return apierr.New(apierr.InvalidParameters, "sandbox: unknown or terminal order id "+orderID)
}

func removeOrder(pending []*domain.OrderRecord, orderID string) []*domain.OrderRecord {
	out := pending[:0]
	for _, o := range pending {
		if o.BrokerOrderID != orderID {
			out = append(out, o)
		}
	}
	return out
}

// Modify updates a resting order's price/trigger/quantity.
func (e *Engine) Modify(ctx context.Context, orderID string, changes domain.OrderChanges) (*domain.OrderRecord, error) {
	e.mu.Lock()
	books := make(map[bookKey]*book, len(e.books))
	for key, b := range e.books {
		books[key] = b
	}
	e.mu.Unlock()

	for key, b := range books {
		b.mu.Lock()
		rec, ok := b.orders[orderID]
		if ok {
			if rec.Terminal() {
				b.mu.Unlock()
				return nil, apierr.New(apierr.InvalidParameters, "sandbox: order already terminal")
			}
			if changes.Quantity != nil {
				rec.Quantity = *changes.Quantity
			}
			if changes.LimitPrice != nil {
				rec.LimitPrice = *changes.LimitPrice
			}
			if changes.TriggerPrice != nil {
				rec.TriggerPrice = *changes.TriggerPrice
			}
			if changes.PriceType != nil {
				rec.PriceType = *changes.PriceType
			}
			e.persistBook(ctx, key, b)
			b.mu.Unlock()
			return rec, nil
		}
		b.mu.Unlock()
	}
	return nil, apierr.New(apierr.InvalidParameters, "sandbox: unknown order id "+orderID)
}

// NetPosition reports the current virtual net quantity for a book,
// used by orders.Router's smart_close.
func (e *Engine) NetPosition(ctx context.Context, userID, symbol, exchange, product string) (float64, error) {
	key := bookKey{UserID: userID, Symbol: symbol, Exchange: domain.Exchange(exchange), Product: domain.Product(product)}
	b := e.bookFor(ctx, key)
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.position.NetQty), nil
}
