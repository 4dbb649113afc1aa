package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/openalgo-bridge/internal/apierr"
)

// apiKeyEnvelope is embedded in every request struct so `apikey` is
// always the first decoded field, per spec §6's unified REST shape.
type apiKeyEnvelope struct {
	APIKey string `json:"apikey"`
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, extra map[string]interface{}) {
	body := map[string]interface{}{"status": "success"}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeAPIError(w, apierr.New(apierr.InvalidParameters, message))
}

// writeAPIError maps a typed apierr.Error to the HTTP status table in
// spec §7; any other error is surfaced as a 500.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		writeJSON(w, statusForKind(apiErr.Kind), map[string]interface{}{
			"status":     "error",
			"message":    apiErr.Message,
			"error_kind": string(apiErr.Kind),
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	})
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.AuthenticationRequired, apierr.InvalidAPIKey:
		return http.StatusUnauthorized
	case apierr.SymbolNotFound, apierr.NotSubscribed:
		return http.StatusNotFound
	case apierr.InvalidParameters:
		return http.StatusBadRequest
	case apierr.BrokerLimitation:
		return http.StatusUnprocessableEntity
	case apierr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case apierr.UpstreamError, apierr.SubscriptionError:
		return http.StatusBadGateway
	case apierr.RateLimited:
		return http.StatusTooManyRequests
	case apierr.DuplicateOrder:
		return http.StatusConflict
	case apierr.RiskRejected:
		return http.StatusForbidden
	case apierr.ReconciliationWarning:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
