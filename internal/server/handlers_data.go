package server

import (
	"net/http"
	"time"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

type depthRequest struct {
	apiKeyEnvelope
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Level    int    `json:"depth_level,omitempty"`
}

// handleDepth is the `depth` passthrough (spec §6 Data endpoints).
func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	var req depthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	level := domain.DepthLevel(req.Level)
	if level == 0 {
		level = domain.Depth5
	}
	result, err := s.cfg.Orders.Depth(r.Context(), authCtx.UserID, req.Symbol, req.Exchange, level)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": result})
}

type historyRequest struct {
	apiKeyEnvelope
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Interval string `json:"interval"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// handleHistory is the `history` passthrough.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	from, _ := time.Parse("2006-01-02", req.From)
	to, _ := time.Parse("2006-01-02", req.To)
	bars, err := s.cfg.Orders.History(r.Context(), authCtx.UserID, req.Symbol, req.Exchange, req.Interval, from, to)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": bars})
}

// handleTicker is an alias of /quotes kept for clients expecting the
// `ticker` endpoint name (spec §6 Data endpoints).
func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	s.handleQuotes(w, r)
}

// handleIntervals reports the candle intervals the `history` endpoint
// accepts; a static list, since the engine does not resample bars
// itself (that's the broker collaborator's job).
func (s *Server) handleIntervals(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"result": []string{
		"1m", "3m", "5m", "10m", "15m", "30m", "1h", "D",
	}})
}

type searchRequest struct {
	apiKeyEnvelope
	Query    string `json:"query"`
	Exchange string `json:"exchange"`
}

// handleSearch is the `search` passthrough over the broker's symbol
// master.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	records, err := s.cfg.Orders.Search(r.Context(), authCtx.UserID, req.Query, req.Exchange)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": records})
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	orders, err := s.cfg.Orders.Orderbook(r.Context(), authCtx.UserID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": orders})
}

func (s *Server) handleTradebook(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	trades, err := s.cfg.Orders.Tradebook(r.Context(), authCtx.UserID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": trades})
}

func (s *Server) handlePositionbook(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	positions, err := s.cfg.Orders.Positions(r.Context(), authCtx.UserID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": positions})
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	holdings, err := s.cfg.Orders.Holdings(r.Context(), authCtx.UserID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": holdings})
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request) {
	var req apiKeyEnvelope
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	authCtx, err := s.cfg.Gate.Validate(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	funds, err := s.cfg.Orders.Funds(r.Context(), authCtx.UserID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"result": funds})
}

// exchangeSession is the local (hour, minute) open/close pair for an
// exchange code, used by `market/timings`.
type exchangeSession struct {
	openHour, openMin   int
	closeHour, closeMin int
}

// marketSessions is a static table of regular trading hours per
// exchange code; index exchanges follow their underlying cash segment.
var marketSessions = map[domain.Exchange]exchangeSession{
	domain.ExchangeNSE:      {9, 15, 15, 30},
	domain.ExchangeBSE:      {9, 15, 15, 30},
	domain.ExchangeNSEIndex: {9, 15, 15, 30},
	domain.ExchangeBSEIndex: {9, 15, 15, 30},
	domain.ExchangeNFO:      {9, 15, 15, 30},
	domain.ExchangeBFO:      {9, 15, 15, 30},
	domain.ExchangeCDS:      {9, 0, 17, 0},
	domain.ExchangeBCD:      {9, 0, 17, 0},
	domain.ExchangeMCX:      {9, 0, 23, 30},
}

type marketTimingsRequest struct {
	apiKeyEnvelope
	Date string `json:"date"` // YYYY-MM-DD
}

// handleMarketTimings returns epoch-ms trading windows per exchange
// code for the given date; weekends (and any exchange absent from the
// static table) report a closed (empty) window, per spec §6.
func (s *Server) handleMarketTimings(w http.ResponseWriter, r *http.Request) {
	var req marketTimingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if _, err := s.cfg.Gate.Validate(r.Context(), req.APIKey); err != nil {
		writeAPIError(w, err)
		return
	}
	loc, err := time.LoadLocation(s.cfg.MarketTimezone)
	if err != nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", req.Date, loc)
	if err != nil {
		writeBadRequest(w, "date must be YYYY-MM-DD")
		return
	}

	result := make(map[string][]int64, len(marketSessions))
	weekend := day.Weekday() == time.Saturday || day.Weekday() == time.Sunday
	for exchange, session := range marketSessions {
		if weekend {
			result[string(exchange)] = []int64{}
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), session.openHour, session.openMin, 0, 0, loc)
		closeTime := time.Date(day.Year(), day.Month(), day.Day(), session.closeHour, session.closeMin, 0, 0, loc)
		result[string(exchange)] = []int64{open.UnixMilli(), closeTime.UnixMilli()}
	}
	writeSuccess(w, map[string]interface{}{"result": result})
}
