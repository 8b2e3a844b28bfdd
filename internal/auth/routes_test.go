package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/config"
)

func newAuthRouter(cfg config.Config) http.Handler {
	router := chi.NewRouter()
	RegisterRoutes(router, cfg)
	return router
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestPairRoute_IssuesTokenPair(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg)

	rec := postJSON(t, router, "/v1/auth/pair", map[string]string{
		"pairing_code": cfg.PairingCode,
		"device_name":  "Bedside Clock",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tokens tokenPairResource `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3600, resp.Tokens.ExpiresInSec)

	payload, err := VerifyToken(cfg, resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Bedside Clock", payload.DeviceName)
	assert.Equal(t, TokenTypeAccess, payload.Type)
	assert.NotEmpty(t, payload.Sub)

	refresh, err := VerifyToken(cfg, resp.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refresh.Type)
}

func TestPairRoute_RejectsWrongCode(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg)

	rec := postJSON(t, router, "/v1/auth/pair", map[string]string{
		"pairing_code": "000000",
		"device_name":  "Bedside Clock",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_PAIRING_INVALID", errorCode(t, rec))
}

func TestPairRoute_RejectsUnconfiguredPairing(t *testing.T) {
	cfg := testConfig()
	cfg.PairingCode = ""
	router := newAuthRouter(cfg)

	rec := postJSON(t, router, "/v1/auth/pair", map[string]string{
		"pairing_code": "anything",
		"device_name":  "Bedside Clock",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_PAIRING_INVALID", errorCode(t, rec))
}

func TestPairRoute_Validation(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing pairing_code", map[string]string{"device_name": "Bedside Clock"}},
		{"missing device_name", map[string]string{"pairing_code": cfg.PairingCode}},
		{"blank device_name", map[string]string{"pairing_code": cfg.PairingCode, "device_name": "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/v1/auth/pair", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
		})
	}
}

func TestRefreshRoute_IssuesAccessToken(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg)

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "device-1", DeviceName: "Bedside Clock"})
	require.NoError(t, err)

	rec := postJSON(t, router, "/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tokens accessTokenResource `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3600, resp.Tokens.ExpiresInSec)

	payload, err := VerifyToken(cfg, resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAccess, payload.Type)
	assert.Equal(t, "device-1", payload.Sub)
}

func TestRefreshRoute_RejectsAccessToken(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg)

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "device-1", DeviceName: "Bedside Clock"})
	require.NoError(t, err)

	rec := postJSON(t, router, "/v1/auth/refresh", map[string]string{
		"refresh_token": pair.AccessToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_TOKEN_INVALID", errorCode(t, rec))
}

func TestRefreshRoute_RejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg)

	stale, err := generateToken(cfg, TokenPayload{Sub: "device-1", DeviceName: "Bedside Clock"}, TokenTypeRefresh, -10)
	require.NoError(t, err)

	rec := postJSON(t, router, "/v1/auth/refresh", map[string]string{
		"refresh_token": stale,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_TOKEN_EXPIRED", errorCode(t, rec))
}

func TestRefreshRoute_MissingToken(t *testing.T) {
	router := newAuthRouter(testConfig())

	rec := postJSON(t, router, "/v1/auth/refresh", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}
