package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, RateLimited("too many requests"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "too many requests", body["error"]["message"])
	require.Equal(t, string(KindRateLimit), body["error"]["type"])
}

func TestWriteJSONPassesThroughUpstreamBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, Upstream(http.StatusBadGateway, []byte(`{"raw":"upstream"}`)))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"raw":"upstream"}`, rec.Body.String())
}

func TestUpstreamDefaultsStatusWhenZero(t *testing.T) {
	e := Upstream(0, nil)
	require.Equal(t, http.StatusBadGateway, e.Status)
}

func TestValidationMapsToInternalServerError(t *testing.T) {
	e := Validation("malformed request body")
	require.Equal(t, http.StatusInternalServerError, e.Status)
}

func TestValidationWriteJSONSendsGenericMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, Validation("tag \"secret-tenant-name\" not found"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "internal error", body["error"]["message"])
	require.Equal(t, string(KindValidation), body["error"]["type"])
}
