package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFastAPI(url string) *API {
	a := NewAPI(url, nil, zap.NewNop())
	a.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}
	return a
}

func TestAPI_RequestOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/request_otp", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+447911123456", body["phone"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"sent","code":"123456","expires_at":"2025-03-01T09:10:00Z"}`))
	}))
	defer srv.Close()

	res, err := newFastAPI(srv.URL+"/").RequestOTP(context.Background(), "+447911123456")
	require.NoError(t, err)
	assert.Equal(t, "123456", res.Code)
	assert.Equal(t, 2025, res.ExpiresAt.Year())
}

func TestAPI_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "540")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"success":false,"error":"conflict","message":"wait"}`))
	}))
	defer srv.Close()

	_, err := newFastAPI(srv.URL).RequestOTP(context.Background(), "+447911123456")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, KindConflict, apiErr.Kind)
	assert.Equal(t, 540*time.Second, apiErr.RetryAfter)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPI_RetryAfterBodyWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"conflict","retry_after":30}`))
	}))
	defer srv.Close()

	_, err := newFastAPI(srv.URL).RequestOTP(context.Background(), "+447911123456")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
}

func TestAPI_RetriesUnstructured5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"verified","access_token":"a","refresh_token":"r","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	res, err := newFastAPI(srv.URL).VerifyOTP(context.Background(), "+447911123456", "123456")
	require.NoError(t, err)
	assert.Equal(t, "a", res.AccessToken)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPI_GivesUpOnTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newFastAPI(url).RequestOTP(context.Background(), "+447911123456")
	require.Error(t, err)
	_, ok := AsAPIError(err)
	assert.False(t, ok)
}
