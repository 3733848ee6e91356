// Package events publishes OTP lifecycle events for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle transition.
type Type string

const (
	OtpIssued         Type = "otp.issued"
	OtpDeliveryFailed Type = "otp.delivery_failed"
	OtpVerified       Type = "otp.verified"
	OtpExpired        Type = "otp.expired"
	OtpMismatch       Type = "otp.mismatch"
	OtpLocked         Type = "otp.locked"
	OtpSwept          Type = "otp.swept"
)

// Event is one lifecycle record. Phone is always masked; codes never appear.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Phone      string            `json:"phone,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// partitionKey groups a phone's events on one partition without exposing it.
	partitionKey string
}

// New stamps an event with a fresh id and the current time.
func New(t Type, maskedPhone, partitionKey string, attrs map[string]string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		Phone:        maskedPhone,
		OccurredAt:   time.Now().UTC(),
		Attributes:   attrs,
		partitionKey: partitionKey,
	}
}

// Publisher delivers events. Implementations must not block request handling
// for long; callers log and ignore returned errors.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
