package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/openalgo-bridge/internal/apierr"
)

func TestWriteSuccess_MergesExtraFields(t *testing.T) {
	w := httptest.NewRecorder()
	writeSuccess(w, map[string]interface{}{"orderid": "123"})

	assert.Equal(t, 200, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "123", body["orderid"])
}

func TestWriteAPIError_MapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind apierr.Kind
		want int
	}{
		{apierr.InvalidAPIKey, 401},
		{apierr.SymbolNotFound, 404},
		{apierr.InvalidParameters, 400},
		{apierr.BrokerLimitation, 422},
		{apierr.UpstreamTimeout, 504},
		{apierr.UpstreamError, 502},
		{apierr.RateLimited, 429},
		{apierr.DuplicateOrder, 409},
		{apierr.RiskRejected, 403},
		{apierr.ReconciliationWarning, 200},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeAPIError(w, apierr.New(tc.kind, "boom"))
		assert.Equal(t, tc.want, w.Code, "kind %s", tc.kind)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, string(tc.kind), body["error_kind"])
	}
}

func TestWriteAPIError_UntypedErrorIs500(t *testing.T) {
	w := httptest.NewRecorder()
	writeAPIError(w, assertErr("plain failure"))
	assert.Equal(t, 500, w.Code)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	writeBadRequest(w, "missing field")
	assert.Equal(t, 400, w.Code)
}
