package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/auth"
	"github.com/signalix/phoneauth/internal/delivery"
	httphandler "github.com/signalix/phoneauth/internal/http"
	"github.com/signalix/phoneauth/internal/http/handlers"
	"github.com/signalix/phoneauth/internal/otp"
	"github.com/signalix/phoneauth/internal/repo"
)

const testPhone = "+491234567890"

// okProvider accepts every message.
type okProvider struct{}

func (okProvider) Name() string { return "test" }

func (okProvider) Send(context.Context, string, delivery.Message) delivery.Result {
	return delivery.Result{Success: true, MessageID: "test-message"}
}

type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := OpenTestDB(t)
	logger := zap.NewNop()

	store := repo.NewOtpRepo(database)
	userRepo := repo.NewUserRepo(database)
	jwtService := auth.NewJWTService("test-jwt-secret-at-least-32-characters-long", time.Hour)
	authService := auth.NewService(jwtService, userRepo, repo.NewRefreshRepo(database), 24*time.Hour, logger)
	otpService := otp.NewService(otp.Config{
		AppName:     "Signalix",
		Salt:        "test-otp-salt",
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
		DevMode:     true,
	}, store, okProvider{}, authService, logger)

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Logger: logger,
		OTP:    handlers.NewOtpHandler(otpService, true, logger),
		Auth:   handlers.NewAuthHandler(authService, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"postgres": database.PingContext,
		}, logger),
		Admin:              handlers.NewAdminHandler(otp.NewSweeper(store, nil, logger), logger),
		AdminToken:         "admin",
		JWT:                jwtService,
		Users:              userRepo,
		CORSAllowedOrigins: []string{"*"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database}
}

func (s *testServer) TruncateAuth(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateAuthTables(context.Background(), s.DB), "truncate auth tables")
}

func (s *testServer) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := s.Server.Client().Post(s.Server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

// TestAuthE2E runs health, request, verify, me, refresh, logout and the
// error paths against postgres.
func TestAuthE2E(t *testing.T) {
	ts := newTestServer(t)
	client := ts.Server.Client()

	t.Run("A_Health", func(t *testing.T) {
		resp, err := client.Get(ts.Server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", decode(t, resp.Body)["status"])
	})

	t.Run("B_FullFlow", func(t *testing.T) {
		ts.TruncateAuth(t)

		status, body := ts.post(t, "/auth/request_otp", map[string]string{"phone": testPhone})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		code, _ := body["code"].(string)
		require.Len(t, code, 6, "code must be present in dev mode")

		status, body = ts.post(t, "/auth/verify_otp", map[string]string{"phone": testPhone, "code": code})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, "Bearer", body["token_type"])
		access := body["access_token"].(string)
		refresh := body["refresh_token"].(string)

		req, _ := http.NewRequest(http.MethodGet, ts.Server.URL+"/me", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, testPhone, decode(t, resp.Body)["phone_number"])

		status, body = ts.post(t, "/auth/verify_otp", map[string]string{"phone": testPhone, "code": code})
		assert.Equal(t, http.StatusNotFound, status, "a consumed code cannot be reused")
		assert.Equal(t, "not_found", body["error"])

		status, body = ts.post(t, "/auth/refresh", map[string]string{"refresh_token": refresh})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		rotated := body["refresh_token"].(string)

		status, _ = ts.post(t, "/auth/logout", map[string]string{"refresh_token": rotated})
		assert.Equal(t, http.StatusOK, status)
		status, _ = ts.post(t, "/auth/refresh", map[string]string{"refresh_token": rotated})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("C_OneActiveCode", func(t *testing.T) {
		ts.TruncateAuth(t)

		status, _ := ts.post(t, "/auth/request_otp", map[string]string{"phone": testPhone})
		require.Equal(t, http.StatusOK, status)
		status, body := ts.post(t, "/auth/request_otp", map[string]string{"phone": testPhone})
		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.Equal(t, "conflict", body["error"])
	})

	t.Run("D_Lockout", func(t *testing.T) {
		ts.TruncateAuth(t)

		status, body := ts.post(t, "/auth/request_otp", map[string]string{"phone": testPhone})
		require.Equal(t, http.StatusOK, status)
		wrong := "000000"
		if body["code"] == wrong {
			wrong = "111111"
		}

		for i := 1; i < 5; i++ {
			status, body = ts.post(t, "/auth/verify_otp", map[string]string{"phone": testPhone, "code": wrong})
			require.Equal(t, http.StatusUnauthorized, status, "attempt %d", i)
			assert.Equal(t, "invalid_code", body["error"])
		}
		status, body = ts.post(t, "/auth/verify_otp", map[string]string{"phone": testPhone, "code": wrong})
		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.Equal(t, "too_many_attempts", body["error"])

		status, _ = ts.post(t, "/auth/request_otp", map[string]string{"phone": testPhone})
		assert.Equal(t, http.StatusOK, status, "a locked code no longer blocks a new request")
	})

	t.Run("E_AdminStats", func(t *testing.T) {
		ts.TruncateAuth(t)
		status, _ := ts.post(t, "/auth/request_otp", map[string]string{"phone": testPhone})
		require.Equal(t, http.StatusOK, status)

		req, _ := http.NewRequest(http.MethodGet, ts.Server.URL+"/admin/otp/stats", nil)
		req.Header.Set("X-Admin-Token", "admin")
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(1), decode(t, resp.Body)["active"])
	})
}
