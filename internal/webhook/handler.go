package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler exposes the per-strategy webhook URLs spec §6 lists:
// POST /webhooks/tradingview/{webhookID} and
// POST /webhooks/custom/{webhookID} (Chartink and other scanner
// alerts share the same scan-name-keyword contract).
type Handler struct {
	router *Router
	log    zerolog.Logger
}

func NewHandler(router *Router, log zerolog.Logger) *Handler {
	return &Handler{router: router, log: log.With().Str("component", "webhook_handler").Logger()}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/tradingview/{webhookID}", h.handleTradingView)
	r.Post("/webhooks/custom/{webhookID}", h.handleChartink)
}

func (h *Handler) handleTradingView(w http.ResponseWriter, req *http.Request) {
	webhookID := chi.URLParam(req, "webhookID")
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "webhook: failed to read request body")
		return
	}

	var payload TradingViewPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "webhook: malformed JSON payload")
		return
	}
	sig, err := payload.Normalize()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.dispatch(w, req, webhookID, body, sig)
}

func (h *Handler) handleChartink(w http.ResponseWriter, req *http.Request) {
	webhookID := chi.URLParam(req, "webhookID")
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "webhook: failed to read request body")
		return
	}

	var payload ChartinkPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "webhook: malformed JSON payload")
		return
	}
	signals, err := payload.NormalizeAll("NSE")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	results := make([]json.RawMessage, 0, len(signals))
	for _, sig := range signals {
		result, err := h.router.HandleSignal(req.Context(), webhookID, body, req.Header.Get("X-Signature"), sig)
		if err != nil {
			h.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("chartink signal rejected")
			continue
		}
		encoded, _ := json.Marshal(result)
		results = append(results, encoded)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "processed": len(results), "results": results})
}

func (h *Handler) dispatch(w http.ResponseWriter, req *http.Request, webhookID string, body []byte, sig Signal) {
	result, err := h.router.HandleSignal(req.Context(), webhookID, body, req.Header.Get("X-Signature"), sig)
	if err != nil {
		h.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("signal rejected")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "result": result})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"status": "error", "message": message})
}
