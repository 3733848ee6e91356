package repo

import (
	"context"
	"sync"
	"time"

	"github.com/signalix/phoneauth/internal/model"
)

type memoryOtpRepo struct {
	mu      sync.Mutex
	records map[string]model.OtpRecord
	now     func() time.Time
}

// NewMemoryOtpRepo creates an in-process code store for development and tests.
func NewMemoryOtpRepo(opts ...Option) OtpRepo {
	o := buildOptions(opts)
	return &memoryOtpRepo{
		records: make(map[string]model.OtpRecord),
		now:     o.now,
	}
}

func (r *memoryOtpRepo) Put(_ context.Context, phone, codeHash string, ttl time.Duration) (model.OtpRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	rec := model.OtpRecord{
		PhoneNumber: phone,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	r.records[phone] = rec
	return rec, nil
}

func (r *memoryOtpRepo) GetActiveUnverified(_ context.Context, phone string) (model.OtpRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[phone]
	if !ok || rec.Verified {
		return model.OtpRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *memoryOtpRepo) HasLiveActive(_ context.Context, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[phone]
	return ok && rec.Live(r.now()), nil
}

func (r *memoryOtpRepo) MarkVerified(_ context.Context, phone, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[phone]
	if !ok || rec.CodeHash != codeHash {
		return ErrNotFound
	}
	if !rec.Verified {
		now := r.now().UTC()
		rec.Verified = true
		rec.VerifiedAt = &now
		r.records[phone] = rec
	}
	return nil
}

func (r *memoryOtpRepo) IncrementAttempt(_ context.Context, phone string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[phone]
	if !ok || rec.Verified {
		return 0, ErrNotFound
	}
	rec.AttemptCount++
	r.records[phone] = rec
	return rec.AttemptCount, nil
}

func (r *memoryOtpRepo) Delete(_ context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, phone)
	return nil
}

func (r *memoryOtpRepo) DeleteIfMatches(_ context.Context, phone, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[phone]
	if !ok || rec.CodeHash != codeHash {
		return false, nil
	}
	delete(r.records, phone)
	return true, nil
}

func (r *memoryOtpRepo) PurgeExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for phone, rec := range r.records {
		if rec.ExpiresAt.Before(now) {
			delete(r.records, phone)
			n++
		}
	}
	return n, nil
}

func (r *memoryOtpRepo) Stats(_ context.Context) (model.OtpStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var s model.OtpStats
	for _, rec := range r.records {
		s.Total++
		switch {
		case rec.Verified:
			s.Verified++
		case rec.ExpiresAt.Before(now):
			s.Expired++
		default:
			s.Active++
		}
	}
	return s, nil
}
