package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/signalix/phoneauth/internal/model"
)

// UserRepo resolves the identity behind a verified phone number.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	// GetOrCreateByPhone returns the user owning phone, creating it on first login.
	GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a PostgreSQL-backed UserRepo.
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone_number, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.PhoneNumber, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.User{}, fmt.Errorf("query user by id: %w", err)
	}
	return u, err
}

func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.User{}, fmt.Errorf("query user by phone: %w", err)
	}
	return u, err
}

// GetOrCreateByPhone does a no-op update on conflict so RETURNING yields the
// existing row in the same round trip.
func (r *userRepo) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (phone_number)
		VALUES ($1)
		ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		RETURNING `+userColumns, phone))
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}
