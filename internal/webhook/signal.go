// Package webhook implements the webhook/strategy router (spec §4.7):
// per-strategy HMAC-validated inbound signals, TradingView/Chartink
// normalisation, and the six-step gate chain before forwarding an
// order intent to internal/orders.
package webhook

import (
	"fmt"
	"strings"
)

// SignalKind distinguishes the two inbound payload shapes.
type SignalKind string

const (
	SignalTradingView SignalKind = "tradingview"
	SignalChartink    SignalKind = "chartink"
)

// Action is the normalised trade action extracted from either
// payload shape.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionShort Action = "SHORT"
	ActionCover Action = "COVER"
)

// Signal is the normalised inbound payload both shapes collapse to.
type Signal struct {
	Kind      SignalKind
	Symbol    string
	Exchange  string
	Action    Action
	Quantity  int
	Price     float64
	Timestamp int64 // unix seconds from the payload; 0 if absent, and HandleSignal then uses arrival time
	Raw       map[string]interface{}
}

// TradingViewPayload is the structured alert shape: fields are named
// directly, no keyword scanning needed.
type TradingViewPayload struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Action    string  `json:"action"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// Normalize converts a TradingView-shape payload to a Signal.
func (p TradingViewPayload) Normalize() (Signal, error) {
	action := Action(strings.ToUpper(p.Action))
	switch action {
	case ActionBuy, ActionSell, ActionShort, ActionCover:
	default:
		return Signal{}, fmt.Errorf("webhook: unrecognised action %q", p.Action)
	}
	return Signal{
		Kind: SignalTradingView, Symbol: p.Symbol, Exchange: p.Exchange,
		Action: action, Quantity: p.Quantity, Price: p.Price, Timestamp: p.Timestamp,
	}, nil
}

// ChartinkPayload is the scanner-alert shape: the action is implied by
// exactly one of the keywords BUY/SELL/SHORT/COVER appearing
// case-insensitively in ScanName. Stocks is a comma-separated symbol
// list; TriggeredAt is epoch seconds.
type ChartinkPayload struct {
	ScanName    string `json:"scan_name"`
	Stocks      string `json:"stocks"`
	TriggeredAt int64  `json:"triggered_at"`
}

var chartinkKeywords = []Action{ActionBuy, ActionSell, ActionShort, ActionCover}

// ActionFromScanName extracts exactly one keyword from scanName, per
// spec §4.7: absence or multiple matches are both errors.
func ActionFromScanName(scanName string) (Action, error) {
	upper := strings.ToUpper(scanName)
	var found []Action
	for _, kw := range chartinkKeywords {
		if strings.Contains(upper, string(kw)) {
			found = append(found, kw)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("webhook: scan name %q contains no recognised action keyword", scanName)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("webhook: scan name %q contains multiple action keywords", scanName)
	}
}

// NormalizeAll splits p.Stocks into individual Chartink signals, one
// per symbol, all sharing the scan-derived action.
func (p ChartinkPayload) NormalizeAll(exchange string) ([]Signal, error) {
	action, err := ActionFromScanName(p.ScanName)
	if err != nil {
		return nil, err
	}
	symbols := strings.Split(p.Stocks, ",")
	signals := make([]Signal, 0, len(symbols))
	for _, raw := range symbols {
		symbol := strings.TrimSpace(raw)
		if symbol == "" {
			continue
		}
		signals = append(signals, Signal{
			Kind: SignalChartink, Symbol: symbol, Exchange: exchange,
			Action: action, Timestamp: p.TriggeredAt,
		})
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("webhook: chartink payload had no symbols")
	}
	return signals, nil
}
