package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/events"
	"github.com/signalix/phoneauth/internal/model"
	"github.com/signalix/phoneauth/internal/repo"
)

// Report summarizes one sweep.
type Report struct {
	Before   model.OtpStats `json:"before"`
	After    model.OtpStats `json:"after"`
	Deleted  int64          `json:"deleted"`
	Duration time.Duration  `json:"duration_ns"`
}

// Sweeper purges expired codes. Runs may overlap; each only deletes
// records already expired at its own reading of the clock.
type Sweeper struct {
	store  repo.OtpRepo
	events events.Publisher
	logger *zap.Logger
}

// NewSweeper creates a Sweeper. A nil publisher disables events.
func NewSweeper(store repo.OtpRepo, publisher events.Publisher, logger *zap.Logger) *Sweeper {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Sweeper{store: store, events: publisher, logger: logger}
}

// Stats returns the current record counts.
func (s *Sweeper) Stats(ctx context.Context) (model.OtpStats, error) {
	return s.store.Stats(ctx)
}

// RunOnce performs one purge with before/after counts.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	var r Report

	before, err := s.store.Stats(ctx)
	if err != nil {
		return r, fmt.Errorf("stats before sweep: %w", err)
	}
	r.Before = before

	deleted, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return r, fmt.Errorf("purge expired codes: %w", err)
	}
	r.Deleted = deleted

	after, err := s.store.Stats(ctx)
	if err != nil {
		return r, fmt.Errorf("stats after sweep: %w", err)
	}
	r.After = after
	r.Duration = time.Since(start)

	s.logger.Info("otp sweep finished",
		zap.Int64("deleted", r.Deleted),
		zap.Int64("active", r.After.Active),
		zap.Int64("expired_before", r.Before.Expired),
		zap.Int64("verified", r.After.Verified),
		zap.Duration("duration", r.Duration),
	)
	if deleted > 0 {
		ev := events.New(events.OtpSwept, "", "sweeper", map[string]string{
			"deleted": strconv.FormatInt(deleted, 10),
		})
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn("publishing sweep event failed", zap.Error(err))
		}
	}
	return r, nil
}

// Run sweeps every interval until ctx is done. Failed sweeps are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("otp sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("otp sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("otp sweep failed", zap.Error(err))
			}
		}
	}
}
