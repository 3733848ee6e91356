// Package delivery sends verification codes through an outbound messaging
// backend. Exactly one backend is constructed at startup and injected into
// the issuance flow.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/config"
)

// FailureKind classifies why a send did not succeed.
type FailureKind string

const (
	// FailureTransport covers network errors, timeouts and non-2xx replies.
	FailureTransport FailureKind = "transport"
	// FailureRejected means the backend answered but did not accept the message.
	FailureRejected FailureKind = "rejected"
	// FailureConfiguration means the backend has no usable credentials.
	FailureConfiguration FailureKind = "configuration"
)

// Message is what gets delivered. Code is carried separately from Text so
// backends with a copy-code action can attach it.
type Message struct {
	Text string
	Code string
}

// Result is the outcome of a single Send.
type Result struct {
	Success   bool
	MessageID string
	Failure   FailureKind
	Detail    string
}

// Err returns nil for a successful result.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Detail == "" {
		return fmt.Errorf("delivery %s failure", r.Failure)
	}
	return fmt.Errorf("delivery %s failure: %s", r.Failure, r.Detail)
}

func sent(messageID string) Result {
	return Result{Success: true, MessageID: messageID}
}

func failed(kind FailureKind, format string, args ...any) Result {
	return Result{Failure: kind, Detail: fmt.Sprintf(format, args...)}
}

// Provider is the uniform send capability implemented by every backend.
type Provider interface {
	Name() string
	// Send delivers msg to the phone number, which may arrive with or without a leading +.
	Send(ctx context.Context, to string, msg Message) Result
}

// ErrNotConfigured is reported by the disabled provider.
var ErrNotConfigured = errors.New("delivery provider not configured")

// New builds the backend selected by cfg.Provider. Missing credentials yield a
// disabled provider so the process still starts and every send reports a
// configuration failure.
func New(cfg config.DeliveryConfig, logger *zap.Logger) Provider {
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case config.ProviderWhatsApp:
		if !cfg.Configured() {
			logger.Warn("whatsapp delivery selected without WHATSAPP_BASE_URL/WHATSAPP_INSTANCE_KEY")
			return NewDisabled(config.ProviderWhatsApp, "missing WHATSAPP_BASE_URL or WHATSAPP_INSTANCE_KEY")
		}
		return NewWhatsApp(cfg.WhatsAppBaseURL, cfg.WhatsAppInstanceKey, client, logger)
	default:
		if !cfg.Configured() {
			logger.Warn("sms delivery selected without SMS_BASE_URL/SMS_API_KEY/SMS_SENDER")
			return NewDisabled(config.ProviderSMS, "missing SMS_BASE_URL, SMS_API_KEY or SMS_SENDER")
		}
		return NewSMS(cfg.SMSBaseURL, cfg.SMSAPIKey, cfg.SMSSender, client)
	}
}

// wireNumber strips spaces and a leading + for gateways that want bare digits.
func wireNumber(to string) string {
	return strings.TrimPrefix(strings.TrimSpace(to), "+")
}
