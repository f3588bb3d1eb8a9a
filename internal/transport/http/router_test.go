package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	jwttoken "fiscus/internal/jwt_token"
	"fiscus/internal/platform/middleware"
	"fiscus/internal/ratetable"
	"fiscus/internal/transport/http/mocks"
)

func newTestRouter(t *testing.T, validator middleware.JWTValidator) http.Handler {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	handler := NewInvoiceHandler(mocks.NewMockService(ctrl), ratetable.Default(), logger)
	return NewRouter(handler, validator, logger)
}

func TestRouter_HealthzIsOpen(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_MetricsIsOpen(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	raw, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# HELP")
}

func TestRouter_RequestIDEchoed(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	router.ServeHTTP(rr, req)
	assert.Equal(t, "req-42", rr.Header().Get(middleware.RequestIDHeader))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader), "router generates an id when none arrives")
}

func TestRouter_APIRequiresToken(t *testing.T) {
	service := jwttoken.NewJWTService("router-test-key", "fiscus", "fiscus-api")
	router := newTestRouter(t, jwttoken.NewJWTServiceAdapter(service))

	t.Run("missing token - 401", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "unauthorized", body["error"])
	})

	t.Run("garbage token - 401", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token - 200", func(t *testing.T) {
		token, err := service.GenerateToken("scanner-eu-1", "client-1", time.Minute)
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRouter_NilValidatorLeavesAPIOpen(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}
