package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system
type User struct {
	ID          uuid.UUID
	PhoneNumber string
	CreatedAt   time.Time
}

// OtpRecord is the single outstanding challenge for a phone number.
type OtpRecord struct {
	PhoneNumber  string
	CodeHash     string
	ExpiresAt    time.Time
	Verified     bool
	VerifiedAt   *time.Time
	AttemptCount int
	CreatedAt    time.Time
}

// Live reports whether the record is unverified and not yet expired at now.
func (r OtpRecord) Live(now time.Time) bool {
	return !r.Verified && now.Before(r.ExpiresAt)
}

// Expired reports whether the record's lifetime has passed at now.
func (r OtpRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// OtpStats counts records by state for sweeper reporting.
type OtpStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Expired  int64 `json:"expired"`
	Verified int64 `json:"verified"`
}

// RefreshSession represents a refresh token session
type RefreshSession struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}

// Session is the artifact handed back after a phone has been verified.
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	TokenType    string
}
