package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalix/phoneauth/internal/model"
)

type memoryUserRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]model.User
	byPhone map[string]uuid.UUID
}

// NewMemoryUserRepo creates an in-process UserRepo. Used with CODE_STORE=memory.
func NewMemoryUserRepo() UserRepo {
	return &memoryUserRepo{
		byID:    make(map[uuid.UUID]model.User),
		byPhone: make(map[string]uuid.UUID),
	}
}

func (r *memoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (r *memoryUserRepo) GetByPhone(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryUserRepo) GetOrCreateByPhone(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPhone[phone]; ok {
		return r.byID[id], nil
	}
	u := model.User{ID: uuid.New(), PhoneNumber: phone, CreatedAt: time.Now().UTC()}
	r.byID[u.ID] = u
	r.byPhone[phone] = u.ID
	return u, nil
}

type memoryRefreshRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.RefreshSession
	byHash   map[string]uuid.UUID
	now      func() time.Time
}

// NewMemoryRefreshRepo creates an in-process RefreshRepo.
func NewMemoryRefreshRepo(opts ...Option) RefreshRepo {
	o := buildOptions(opts)
	return &memoryRefreshRepo{
		sessions: make(map[uuid.UUID]*model.RefreshSession),
		byHash:   make(map[string]uuid.UUID),
		now:      o.now,
	}
}

func (r *memoryRefreshRepo) insert(userID uuid.UUID, tokenHash string, expiresAt time.Time) uuid.UUID {
	id := uuid.New()
	r.sessions[id] = &model.RefreshSession{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: r.now().UTC(),
		ExpiresAt: expiresAt,
	}
	r.byHash[tokenHash] = id
	return id
}

func (r *memoryRefreshRepo) Create(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(userID, tokenHash, expiresAt), nil
}

func (r *memoryRefreshRepo) FindActive(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[r.byHash[tokenHash]]
	if !ok || s.RevokedAt != nil || !s.ExpiresAt.After(r.now()) {
		return model.RefreshSession{}, ErrNotFound
	}
	return *s, nil
}

func (r *memoryRefreshRepo) FindAny(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[r.byHash[tokenHash]]
	if !ok {
		return model.RefreshSession{}, ErrNotFound
	}
	return *s, nil
}

func (r *memoryRefreshRepo) Rotate(_ context.Context, oldID, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.sessions[oldID]
	if !ok || old.RevokedAt != nil {
		return uuid.Nil, ErrNotFound
	}
	id := r.insert(userID, tokenHash, expiresAt)
	now := r.now().UTC()
	old.RevokedAt = &now
	old.ReplacedBy = &id
	return id, nil
}

func (r *memoryRefreshRepo) Revoke(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.RevokedAt != nil {
		return ErrNotFound
	}
	now := r.now().UTC()
	s.RevokedAt = &now
	return nil
}

func (r *memoryRefreshRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}
