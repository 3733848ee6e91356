package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/signalix/phoneauth/internal/model"
)

// ErrNotFound is returned when no matching row exists.
var ErrNotFound = errors.New("not found")

// OtpRepo is the code store: at most one record per phone, replaced on every Put.
type OtpRepo interface {
	// Put replaces any record for phone with a fresh unverified one.
	Put(ctx context.Context, phone, codeHash string, ttl time.Duration) (model.OtpRecord, error)
	// GetActiveUnverified returns the unverified record for phone, expired or not.
	GetActiveUnverified(ctx context.Context, phone string) (model.OtpRecord, error)
	// HasLiveActive reports whether an unverified, unexpired record exists.
	HasLiveActive(ctx context.Context, phone string) (bool, error)
	// MarkVerified flags the record holding codeHash as verified. Repeating it is a no-op;
	// ErrNotFound means the record was deleted or replaced in the meantime.
	MarkVerified(ctx context.Context, phone, codeHash string) error
	// IncrementAttempt bumps the mismatch counter of the unverified record.
	IncrementAttempt(ctx context.Context, phone string) (int, error)
	// Delete removes the record unconditionally; deleting nothing is not an error.
	Delete(ctx context.Context, phone string) error
	// DeleteIfMatches removes the record only while it still holds codeHash, so a
	// code stored by a newer Put survives. Reports whether a record was removed.
	DeleteIfMatches(ctx context.Context, phone, codeHash string) (bool, error)
	// PurgeExpired deletes records whose expiry is before now and returns how many.
	PurgeExpired(ctx context.Context) (int64, error)
	// Stats counts records by state.
	Stats(ctx context.Context) (model.OtpStats, error)
}

// Option configures a code store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the store clock, used by tests to move past expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type otpRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewOtpRepo creates a PostgreSQL-backed code store keyed by phone_number.
func NewOtpRepo(db *sql.DB, opts ...Option) OtpRepo {
	o := buildOptions(opts)
	return &otpRepo{db: db, now: o.now}
}

// Put upserts on the phone_number primary key, so concurrent issuances for
// one phone leave a single row (last writer wins).
func (r *otpRepo) Put(ctx context.Context, phone, codeHash string, ttl time.Duration) (model.OtpRecord, error) {
	now := r.now().UTC()
	rec := model.OtpRecord{
		PhoneNumber: phone,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_codes (phone_number, code_hash, expires_at, verified, verified_at, attempt_count, created_at)
		VALUES ($1, $2, $3, false, NULL, 0, $4)
		ON CONFLICT (phone_number) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    expires_at = EXCLUDED.expires_at,
		    verified = false,
		    verified_at = NULL,
		    attempt_count = 0,
		    created_at = EXCLUDED.created_at
	`, rec.PhoneNumber, rec.CodeHash, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("upsert otp code: %w", err)
	}
	return rec, nil
}

func (r *otpRepo) GetActiveUnverified(ctx context.Context, phone string) (model.OtpRecord, error) {
	var rec model.OtpRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT phone_number, code_hash, expires_at, verified, verified_at, attempt_count, created_at
		FROM otp_codes
		WHERE phone_number = $1 AND verified = false
	`, phone).Scan(
		&rec.PhoneNumber,
		&rec.CodeHash,
		&rec.ExpiresAt,
		&rec.Verified,
		&rec.VerifiedAt,
		&rec.AttemptCount,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpRecord{}, ErrNotFound
		}
		return model.OtpRecord{}, fmt.Errorf("query otp code: %w", err)
	}
	return rec, nil
}

func (r *otpRepo) HasLiveActive(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM otp_codes
			WHERE phone_number = $1 AND verified = false AND expires_at > $2
		)
	`, phone, r.now().UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check live otp code: %w", err)
	}
	return exists, nil
}

func (r *otpRepo) MarkVerified(ctx context.Context, phone, codeHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_codes
		SET verified = true, verified_at = COALESCE(verified_at, $3)
		WHERE phone_number = $1 AND code_hash = $2
	`, phone, codeHash, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark otp code verified: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *otpRepo) IncrementAttempt(ctx context.Context, phone string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_codes
		SET attempt_count = attempt_count + 1
		WHERE phone_number = $1 AND verified = false
		RETURNING attempt_count
	`, phone).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment otp attempt: %w", err)
	}
	return count, nil
}

func (r *otpRepo) Delete(ctx context.Context, phone string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE phone_number = $1`, phone); err != nil {
		return fmt.Errorf("delete otp code: %w", err)
	}
	return nil
}

func (r *otpRepo) DeleteIfMatches(ctx context.Context, phone, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_codes WHERE phone_number = $1 AND code_hash = $2`, phone, codeHash)
	if err != nil {
		return false, fmt.Errorf("delete otp code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete otp code: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired compares against the sweep's own clock reading; a Put racing
// the sweep always writes a future expires_at and is left alone.
func (r *otpRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired otp codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired otp codes: %w", err)
	}
	return n, nil
}

func (r *otpRepo) Stats(ctx context.Context) (model.OtpStats, error) {
	var s model.OtpStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT verified AND expires_at >= $1),
			COUNT(*) FILTER (WHERE NOT verified AND expires_at < $1),
			COUNT(*) FILTER (WHERE verified)
		FROM otp_codes
	`, r.now().UTC()).Scan(&s.Total, &s.Active, &s.Expired, &s.Verified)
	if err != nil {
		return model.OtpStats{}, fmt.Errorf("count otp codes: %w", err)
	}
	return s, nil
}
