package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/logging"
	"github.com/signalix/phoneauth/internal/model"
	"github.com/signalix/phoneauth/internal/repo"
)

// TokenType is reported alongside access tokens.
const TokenType = "Bearer"

var (
	// ErrInvalidRefreshToken covers unknown, expired and revoked tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReuseDetected means a rotated-out token was presented
	// again; every session of the user has been revoked.
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

// Service mints sessions for verified phone numbers and manages their
// refresh tokens.
type Service struct {
	jwt        *JWTService
	users      repo.UserRepo
	refresh    repo.RefreshRepo
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewService creates the session service.
func NewService(jwt *JWTService, users repo.UserRepo, refresh repo.RefreshRepo, refreshTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		jwt:        jwt,
		users:      users,
		refresh:    refresh,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// IssueSession finds or creates the user owning phone and returns a fresh
// access/refresh token pair.
func (s *Service) IssueSession(ctx context.Context, phone string) (model.Session, error) {
	user, err := s.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return model.Session{}, fmt.Errorf("get or create user: %w", err)
	}

	rt, err := newRefreshToken()
	if err != nil {
		return model.Session{}, err
	}
	if _, err := s.refresh.Create(ctx, user.ID, rt.Hash, time.Now().Add(s.refreshTTL)); err != nil {
		return model.Session{}, fmt.Errorf("store refresh session: %w", err)
	}

	access, err := s.jwt.SignAccessToken(user.ID, user.PhoneNumber)
	if err != nil {
		return model.Session{}, err
	}

	s.logger.Info("session issued", zap.String("user_id", user.ID.String()), logging.Phone(phone))
	return model.Session{User: user, AccessToken: access, RefreshToken: rt.Value, TokenType: TokenType}, nil
}

// RefreshTokens rotates a refresh token. Presenting a token that was already
// rotated out revokes every session of its user.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (model.Session, error) {
	hash := HashRefreshToken(refreshToken)

	current, err := s.refresh.FindActive(ctx, hash)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Session{}, fmt.Errorf("find refresh session: %w", err)
		}
		return model.Session{}, s.checkReuse(ctx, hash)
	}

	next, err := newRefreshToken()
	if err != nil {
		return model.Session{}, err
	}
	if _, err := s.refresh.Rotate(ctx, current.ID, current.UserID, next.Hash, time.Now().Add(s.refreshTTL)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost a race with another rotation of the same token.
			return model.Session{}, ErrInvalidRefreshToken
		}
		return model.Session{}, fmt.Errorf("rotate refresh session: %w", err)
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		return model.Session{}, fmt.Errorf("load user: %w", err)
	}
	access, err := s.jwt.SignAccessToken(user.ID, user.PhoneNumber)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{User: user, AccessToken: access, RefreshToken: next.Value, TokenType: TokenType}, nil
}

func (s *Service) checkReuse(ctx context.Context, hash string) error {
	prior, err := s.refresh.FindAny(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("find refresh session: %w", err)
	}
	if prior.RevokedAt == nil || prior.ReplacedBy == nil {
		// Expired, or revoked by logout or by an earlier reuse revocation.
		return ErrInvalidRefreshToken
	}

	if err := s.refresh.RevokeAllForUser(ctx, prior.UserID); err != nil {
		return fmt.Errorf("revoke sessions after reuse: %w", err)
	}
	s.logger.Warn("refresh token reuse detected, all sessions revoked", zap.String("user_id", prior.UserID.String()))
	return ErrRefreshTokenReuseDetected
}

// Logout revokes the session behind refreshToken.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	current, err := s.refresh.FindActive(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("find refresh session: %w", err)
	}
	if err := s.refresh.Revoke(ctx, current.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// GetUser loads the user behind an access token subject.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	return s.users.GetByID(ctx, id)
}
