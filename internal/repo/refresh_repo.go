package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalix/phoneauth/internal/model"
)

// RefreshRepo stores hashed refresh tokens with rotation chains.
type RefreshRepo interface {
	Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	// FindActive returns an unrevoked, unexpired session.
	FindActive(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	// FindAny ignores revocation, for reuse detection.
	FindAny(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	// Rotate revokes oldID and inserts its replacement in one transaction.
	Rotate(ctx context.Context, oldID, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	Revoke(ctx context.Context, sessionID uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a PostgreSQL-backed RefreshRepo.
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

const sessionColumns = `id, user_id, token_hash, created_at, expires_at, revoked_at, replaced_by`

func scanSession(row *sql.Row) (model.RefreshSession, error) {
	var s model.RefreshSession
	var replacedBy uuid.NullUUID
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt, &replacedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshSession{}, ErrNotFound
		}
		return model.RefreshSession{}, fmt.Errorf("scan refresh session: %w", err)
	}
	if replacedBy.Valid {
		id := replacedBy.UUID
		s.ReplacedBy = &id
	}
	return s, nil
}

func (r *refreshRepo) Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, tokenHash, expiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert refresh session: %w", err)
	}
	return id, nil
}

func (r *refreshRepo) FindActive(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	return scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
	`, tokenHash))
}

func (r *refreshRepo) FindAny(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	return scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_hash = $1
	`, tokenHash))
}

func (r *refreshRepo) Rotate(ctx context.Context, oldID, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin rotate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, tokenHash, expiresAt).Scan(&newID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert rotated session: %w", err)
	}

	// The revoked_at guard makes a concurrent second rotation of the same token lose.
	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_sessions
		SET revoked_at = now(), replaced_by = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, oldID, newID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("revoke rotated session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return uuid.Nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit rotate: %w", err)
	}
	return newID, nil
}

func (r *refreshRepo) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser is the response to a reused refresh token.
func (r *refreshRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke all sessions for user: %w", err)
	}
	return nil
}
