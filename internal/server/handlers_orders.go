package server

import (
	"net/http"
	"time"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

type placeOrderRequest struct {
	apiKeyEnvelope
	Strategy      string  `json:"strategy"`
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Action        string  `json:"action"`
	Product       string  `json:"product"`
	PriceType     string  `json:"pricetype"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	TriggerPrice  float64 `json:"trigger_price"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

func (req placeOrderRequest) toIntent(userID, broker string) domain.OrderIntent {
	priceType := domain.PriceType(req.PriceType)
	if priceType == "" {
		priceType = domain.PriceTypeMarket
	}
	return domain.OrderIntent{
		ClientOrderID: req.ClientOrderID,
		UserID:        userID,
		Broker:        broker,
		Symbol:        req.Symbol,
		Exchange:      domain.Exchange(req.Exchange),
		Action:        domain.Action(req.Action),
		Product:       domain.Product(req.Product),
		PriceType:     priceType,
		Quantity:      req.Quantity,
		LimitPrice:    req.Price,
		TriggerPrice:  req.TriggerPrice,
		Strategy:      req.Strategy,
		CreatedAt:     time.Now(),
	}
}

// handlePlaceOrder places a single order (spec §6 /placeorder).
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	result, err := s.cfg.Orders.Place(r.Context(), req.toIntent(authCtx.UserID, authCtx.ActiveBroker))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": result})
}

// handlePlaceSmartOrder places an order sized to reach a target net
// position, per openalgo's smart-order semantics: the router computes
// the delta between the current net position and the requested target
// quantity, and places only that delta.
type placeSmartOrderRequest struct {
	placeOrderRequest
	PositionSize int `json:"position_size"`
}

func (s *Server) handlePlaceSmartOrder(w http.ResponseWriter, r *http.Request) {
	var req placeSmartOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	current, err := s.cfg.Orders.NetPosition(r.Context(), authCtx.UserID, req.Symbol, req.Exchange, req.Product)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	delta := float64(req.PositionSize) - current
	if delta == 0 {
		writeSuccess(w, map[string]interface{}{"message": "already at target position size"})
		return
	}

	intent := req.toIntent(authCtx.UserID, authCtx.ActiveBroker)
	if delta > 0 {
		intent.Action = domain.ActionBuy
		intent.Quantity = int(delta)
	} else {
		intent.Action = domain.ActionSell
		intent.Quantity = int(-delta)
	}

	result, err := s.cfg.Orders.Place(r.Context(), intent)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": result})
}

type modifyOrderRequest struct {
	apiKeyEnvelope
	OrderID      string   `json:"orderid"`
	Quantity     *int     `json:"quantity,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	PriceType    string   `json:"pricetype"`
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req modifyOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if req.OrderID == "" {
		writeBadRequest(w, "orderid is required")
		return
	}
	priceType := domain.PriceType(req.PriceType)
	changes := domain.OrderChanges{
		Quantity:     req.Quantity,
		LimitPrice:   req.Price,
		TriggerPrice: req.TriggerPrice,
		PriceType:    &priceType,
	}
	record, err := s.cfg.Orders.Modify(r.Context(), authCtx.UserID, req.OrderID, changes)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": record})
}

type cancelOrderRequest struct {
	apiKeyEnvelope
	OrderID string `json:"orderid"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.cfg.Orders.Cancel(r.Context(), authCtx.UserID, req.OrderID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"orderid": req.OrderID})
}

type cancelAllOrderRequest struct {
	apiKeyEnvelope
	OrderIDs []string `json:"order_ids"`
}

func (s *Server) handleCancelAllOrders(w http.ResponseWriter, r *http.Request) {
	var req cancelAllOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	succeeded, failed := s.cfg.Orders.CancelAll(r.Context(), authCtx.UserID, req.OrderIDs)
	writeSuccess(w, map[string]interface{}{"cancelled": succeeded, "failed": failed})
}

type closePositionRequest struct {
	apiKeyEnvelope
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Product  string `json:"product"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	result, err := s.cfg.Orders.SmartClose(r.Context(), authCtx.UserID, req.Symbol, req.Exchange, req.Product, "manual_close")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": result})
}

type orderStatusRequest struct {
	apiKeyEnvelope
	OrderID string `json:"orderid"`
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	record, err := s.cfg.Orders.OrderStatus(r.Context(), authCtx.UserID, req.OrderID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": record})
}

type quotesRequest struct {
	apiKeyEnvelope
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	quote, err := s.cfg.Orders.Quote(r.Context(), authCtx.UserID, req.Symbol, req.Exchange)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": quote})
}

// handleOptionsOrder places a single options-contract order; options
// symbols carry their own wire format (spec §6) but route through the
// same intent shape as any other order.
func (s *Server) handleOptionsOrder(w http.ResponseWriter, r *http.Request) {
	s.handlePlaceOrder(w, r)
}

type splitOrderRequest struct {
	placeOrderRequest
	SplitSize int `json:"split_size"`
}

// handleSplitOrder places qty as sequential legs of at most SplitSize
// each, independent of any exchange freeze limit C5 may additionally
// enforce on the resulting legs.
func (s *Server) handleSplitOrder(w http.ResponseWriter, r *http.Request) {
	var req splitOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if req.SplitSize <= 0 {
		writeBadRequest(w, "split_size must be positive")
		return
	}

	intent := req.toIntent(authCtx.UserID, authCtx.ActiveBroker)
	remaining := intent.Quantity
	var results []*domain.PlaceResult
	for remaining > 0 {
		legQty := req.SplitSize
		if remaining < legQty {
			legQty = remaining
		}
		leg := intent
		leg.ClientOrderID = ""
		leg.Quantity = legQty
		result, err := s.cfg.Orders.Place(r.Context(), leg)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		results = append(results, result)
		remaining -= legQty
	}
	writeSuccess(w, map[string]interface{}{"results": results})
}

type basketOrderLeg struct {
	placeOrderRequest
}

type basketOrderRequest struct {
	apiKeyEnvelope
	Strategy string           `json:"strategy"`
	Orders   []basketOrderLeg `json:"orders"`
}

// handleBasketOrder places every leg of a multi-symbol basket with one
// Orders.Place call per leg and reports each leg's result or error.
// Leg symbols are not resolved in a batch: C2's ResolveMany is not
// called on this path.
func (s *Server) handleBasketOrder(w http.ResponseWriter, r *http.Request) {
	var req basketOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	type legResult struct {
		Symbol string              `json:"symbol"`
		Result *domain.PlaceResult `json:"result,omitempty"`
		Error  string              `json:"error,omitempty"`
	}
	results := make([]legResult, 0, len(req.Orders))
	for _, leg := range req.Orders {
		if leg.Strategy == "" {
			leg.Strategy = req.Strategy
		}
		result, err := s.cfg.Orders.Place(r.Context(), leg.toIntent(authCtx.UserID, authCtx.ActiveBroker))
		if err != nil {
			results = append(results, legResult{Symbol: leg.Symbol, Error: err.Error()})
			continue
		}
		results = append(results, legResult{Symbol: leg.Symbol, Result: result})
	}
	writeSuccess(w, map[string]interface{}{"results": results})
}

type marginRequest struct {
	placeOrderRequest
}

// handleMargin quotes the virtual margin an order would consume,
// against the sandbox engine's margin model (spec §6 /margin),
// regardless of whether the caller is in analyzer mode.
func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request) {
	var req marginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	intent := req.toIntent(authCtx.UserID, authCtx.ActiveBroker)
	required, err := s.cfg.Sandbox.RequiredMargin(r.Context(), intent)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"margin_required": required})
}
