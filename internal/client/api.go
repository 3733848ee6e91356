package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// APIError is a non-2xx response from the auth server.
type APIError struct {
	Status     int
	Kind       string
	Message    string
	Detail     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AsAPIError returns the server error behind err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var e *APIError
	ok := errors.As(err, &e)
	return e, ok
}

// RequestResult is the body of a successful request_otp call.
type RequestResult struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyResult is the body of a successful verify_otp call.
type VerifyResult struct {
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         *struct {
		ID          string `json:"id"`
		PhoneNumber string `json:"phone_number"`
	} `json:"user,omitempty"`
	SessionError string `json:"session_error,omitempty"`
}

// API calls the phone auth endpoints. Transport failures and 5xx responses
// without a structured body are retried with exponential backoff; anything the
// server answered deliberately is returned as *APIError.
type API struct {
	baseURL string
	http    *http.Client
	backoff func() retry.Backoff
	logger  *zap.Logger
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL string, httpClient *http.Client, logger *zap.Logger) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.WithCappedDuration(2*time.Second, retry.NewExponential(200*time.Millisecond)))
		},
		logger: logger,
	}
}

// RequestOTP asks the server to send a code to phone.
func (a *API) RequestOTP(ctx context.Context, phone string) (RequestResult, error) {
	var out RequestResult
	err := a.post(ctx, "/auth/request_otp", map[string]string{"phone": phone}, &out)
	return out, err
}

// VerifyOTP submits code for phone.
func (a *API) VerifyOTP(ctx context.Context, phone, code string) (VerifyResult, error) {
	var out VerifyResult
	err := a.post(ctx, "/auth/verify_otp", map[string]string{"phone": phone, "code": code}, &out)
	return out, err
}

func (a *API) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	attempt := 0
	return retry.Do(ctx, a.backoff(), func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.http.Do(req)
		if err != nil {
			a.logger.Debug("request failed, retrying", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}

		if resp.StatusCode >= 300 {
			apiErr := decodeError(resp, raw)
			if apiErr.Kind == "" && resp.StatusCode >= 500 {
				apiErr.Kind = "server_error"
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func decodeError(resp *http.Response, raw []byte) *APIError {
	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		Detail     string `json:"detail"`
		RetryAfter int    `json:"retry_after"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &APIError{
		Status:  resp.StatusCode,
		Kind:    body.Error,
		Message: body.Message,
		Detail:  body.Detail,
	}
	if body.RetryAfter > 0 {
		e.RetryAfter = time.Duration(body.RetryAfter) * time.Second
	} else if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}
