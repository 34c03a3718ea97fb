package app

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/observability"
	"github.com/lilas/backoffice/internal/shared"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{DeliverySyncLockTTL: time.Minute, ReportTimezone: "Asia/Ho_Chi_Minh"}
	require.Error(t, cfg.validate(false))
	require.NoError(t, cfg.validate(true))

	cfg.GHNToken = "token"
	require.NoError(t, cfg.validate(false))
	_, offset := time.Date(2024, 5, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	require.Equal(t, 7*3600, offset)

	cfg.ReportTimezone = "Mars/Olympus"
	require.Error(t, cfg.validate(false))

	cfg.ReportTimezone = "UTC"
	cfg.DeliverySyncLockTTL = 0
	require.Error(t, cfg.validate(false))
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GHN_TOKEN", "secret")
	t.Setenv("GHN_SHOP_ID", "885")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "@every 30m", cfg.DeliverySyncSpec)
	require.Equal(t, 885, cfg.GHNShopID)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.IsProduction())
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json"}, "server").Info("hello")
	require.Contains(t, buf.String(), `"service":"server"`)

	buf.Reset()
	newLogger(&buf, &Config{LogFormat: "pretty"}, "worker").Info("hello")
	require.Contains(t, buf.String(), "service=worker")
}

func TestActorMiddleware(t *testing.T) {
	var seen string
	handler := actorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, " u-42 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "u-42", seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, seen)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:  quietLogger(),
		Config:  &Config{AppEnv: "development"},
		Metrics: observability.NewMetrics(),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `lilas_http_requests_total{code="200",route="/healthz"} 1`)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
