package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

type strategyRequest struct {
	apiKeyEnvelope
	ID               string               `json:"id,omitempty"`
	Type             string               `json:"type"`
	Schedule         domain.Schedule      `json:"schedule"`
	AllocatedFunds   float64              `json:"allocated_funds"`
	SizeRule         string               `json:"size_rule"`
	SizeValue        float64              `json:"size_value"`
	MaxOpenPositions int                  `json:"max_open_positions"`
	DailyLossLimit   float64              `json:"daily_loss_limit"`
	DedupWindowMins  int                  `json:"dedup_window_minutes"`
	Portfolio        domain.PortfolioRisk `json:"portfolio"`
	SymbolMap        map[string]string    `json:"symbol_map,omitempty"`
}

func (req strategyRequest) toInstance(userID string) *domain.StrategyInstance {
	return &domain.StrategyInstance{
		ID:               req.ID,
		UserID:           userID,
		Type:             domain.StrategyType(req.Type),
		Schedule:         req.Schedule,
		AllocatedFunds:   req.AllocatedFunds,
		SizeRule:         domain.PositionSizeRule(req.SizeRule),
		SizeValue:        req.SizeValue,
		MaxOpenPositions: req.MaxOpenPositions,
		DailyLossLimit:   req.DailyLossLimit,
		DedupWindowMins:  req.DedupWindowMins,
		Portfolio:        req.Portfolio,
		SymbolMap:        req.SymbolMap,
		Active:           true,
	}
}

func (s *Server) handleStrategyCreate(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	st := req.toInstance(authCtx.UserID)
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.WebhookID == "" {
		st.WebhookID = uuid.NewString()
	}
	if err := s.cfg.Strategies.Save(r.Context(), st); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"strategy": st})
}

func (s *Server) handleStrategyList(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	all, err := s.cfg.Strategies.All(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"strategies": all})
}

type strategyIDRequest struct {
	apiKeyEnvelope
	ID string `json:"id"`
}

func (s *Server) handleStrategyGet(w http.ResponseWriter, r *http.Request) {
	var req strategyIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	st, err := s.cfg.Strategies.Get(r.Context(), req.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"strategy": st})
}

func (s *Server) handleStrategyUpdate(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}
	existing, err := s.cfg.Strategies.Get(r.Context(), req.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	updated := req.toInstance(authCtx.UserID)
	updated.WebhookID = existing.WebhookID
	updated.WebhookSecret = existing.WebhookSecret
	updated.Active = existing.Active
	updated.Panic = existing.Panic
	updated.DayPnL = existing.DayPnL
	if err := s.cfg.Strategies.Save(r.Context(), updated); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"strategy": updated})
}

func (s *Server) handleStrategyDelete(w http.ResponseWriter, r *http.Request) {
	var req strategyIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	gate, err := s.cfg.Strategies.CheckDeletionSafety(r.Context(), req.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if gate.Blocked {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status":          "error",
			"message":         "strategy has active trades, resolve them first",
			"active_trades":   gate.ActiveTrades,
			"offered_actions": gate.OfferedActions,
		})
		return
	}
	st, err := s.cfg.Strategies.Get(r.Context(), req.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.cfg.Strategies.Delete(r.Context(), st); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"id": req.ID})
}

func (s *Server) handleStrategyDeactivate(w http.ResponseWriter, r *http.Request) {
	var req strategyIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.cfg.Strategies.Deactivate(r.Context(), req.ID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"id": req.ID})
}

func (s *Server) handleStrategyPanic(w http.ResponseWriter, r *http.Request) {
	var req strategyIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.cfg.Strategies.Panic(r.Context(), req.ID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"id": req.ID})
}

type alertRequest struct {
	apiKeyEnvelope
	Symbol          string                 `json:"symbol"`
	Exchange        string                 `json:"exchange"`
	Condition       string                 `json:"condition"`
	Params          domain.ConditionParams `json:"params"`
	Schedule        domain.AlertSchedule   `json:"schedule"`
	Action          string                 `json:"action"`
	Order           *domain.OrderIntent    `json:"order,omitempty"`
	TriggerMode     string                 `json:"trigger_mode"`
	CooldownMinutes int                    `json:"cooldown_minutes"`
	MaxTriggers     int                    `json:"max_triggers"`
}

func (s *Server) handleAlertCreate(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	alert := domain.ScheduledAlert{
		UserID:          authCtx.UserID,
		APIKey:          req.APIKey,
		Symbol:          req.Symbol,
		Exchange:        domain.Exchange(req.Exchange),
		Condition:       domain.ConditionType(req.Condition),
		Params:          req.Params,
		Schedule:        req.Schedule,
		Action:          domain.AlertAction(req.Action),
		Order:           req.Order,
		TriggerMode:     domain.TriggerMode(req.TriggerMode),
		CooldownMinutes: req.CooldownMinutes,
		MaxTriggers:     req.MaxTriggers,
	}
	created, err := s.cfg.Alerts.Create(r.Context(), alert)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"alert": created})
}

type alertIDRequest struct {
	apiKeyEnvelope
	ID string `json:"id"`
}

func (s *Server) handleAlertDelete(w http.ResponseWriter, r *http.Request) {
	var req alertIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.cfg.Alerts.Delete(r.Context(), req.ID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"id": req.ID})
}

type alertTestRequest struct {
	alertRequest
	LTP float64 `json:"ltp"`
}

// handleAlertTest dry-runs a condition against a synthetic tick
// without persisting or notifying (spec §6 supplement).
func (s *Server) handleAlertTest(w http.ResponseWriter, r *http.Request) {
	var req alertTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	alert := domain.ScheduledAlert{
		Symbol:    req.Symbol,
		Exchange:  domain.Exchange(req.Exchange),
		Condition: domain.ConditionType(req.Condition),
		Params:    req.Params,
	}
	tick := domain.Tick{Symbol: req.Symbol, Exchange: domain.Exchange(req.Exchange), LTP: req.LTP, Time: time.Now()}
	fired, triggerValue, targetValue := s.cfg.Alerts.TestAlert(alert, tick)
	writeSuccess(w, map[string]interface{}{
		"fired":         fired,
		"trigger_value": triggerValue,
		"target_value":  targetValue,
	})
}

type analyzerToggleRequest struct {
	apiKeyEnvelope
	Mode bool `json:"mode"`
}

// handleAnalyzerToggle flips a user's live/sandbox routing flag (spec
// §6 supplement: "analyzer mode toggle").
func (s *Server) handleAnalyzerToggle(w http.ResponseWriter, r *http.Request) {
	var req analyzerToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.cfg.Users.SetAnalyzerMode(authCtx.UserID, req.Mode); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"analyzer_mode": req.Mode})
}

// handleGlobalPanic engages the system-wide panic switch (spec §5,
// §7): cancel_all and smart_close run synchronously for every user
// before the response is returned.
func (s *Server) handleGlobalPanic(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	s.cfg.Risk.Trigger(r.Context())
	writeSuccess(w, map[string]interface{}{"panic": true})
}

// handleGlobalResume clears the global panic flag (spec §7: "the flag
// stays set until an admin resume action").
func (s *Server) handleGlobalResume(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	s.cfg.Risk.Resume()
	writeSuccess(w, map[string]interface{}{"panic": false})
}
