// Package otp implements the issuance and verification flows for phone
// verification codes and the sweeper that purges expired codes.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/delivery"
	"github.com/signalix/phoneauth/internal/events"
	"github.com/signalix/phoneauth/internal/logging"
	"github.com/signalix/phoneauth/internal/model"
	"github.com/signalix/phoneauth/internal/phone"
	"github.com/signalix/phoneauth/internal/repo"
)

// compensateTimeout bounds the rollback delete, which runs even when the
// request context is already done.
const compensateTimeout = 5 * time.Second

// IdentityIssuer mints a session once a phone has been verified.
type IdentityIssuer interface {
	IssueSession(ctx context.Context, phone string) (model.Session, error)
}

// Config holds the flow settings.
type Config struct {
	AppName     string
	Salt        string
	TTL         time.Duration
	MaxAttempts int // 0 disables the lockout
	DevMode     bool
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the time source used for expiry checks. It must agree with
// the code store's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// Service runs the issuance and verification flows.
type Service struct {
	cfg      Config
	store    repo.OtpRepo
	provider delivery.Provider
	identity IdentityIssuer
	events   events.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires the flows. identity may be nil, in which case
// verification proves phone ownership without minting a session.
func NewService(cfg Config, store repo.OtpRepo, provider delivery.Provider, identity IdentityIssuer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		provider: provider,
		identity: identity,
		events:   events.Nop{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueResult describes a delivered code.
type IssueResult struct {
	Phone     phone.Number
	MessageID string
	ExpiresAt time.Time
	// Code is set only in development mode.
	Code string
}

// Issue validates the phone, refuses while a live code exists, stores a new
// code and delivers it. A failed delivery removes the stored code again.
func (s *Service) Issue(ctx context.Context, rawPhone string) (IssueResult, error) {
	num, err := phone.Parse(rawPhone)
	if err != nil {
		return IssueResult{}, newError(KindValidation, err.Error(), err)
	}
	p := num.String()
	log := s.logger.With(logging.Phone(p))

	live, err := s.store.HasLiveActive(ctx, p)
	if err != nil {
		log.Error("active code check failed", zap.Error(err))
		return IssueResult{}, newError(KindInternal, "could not check for an active code", err)
	}
	if live {
		return IssueResult{}, s.conflict(ctx, p)
	}

	code, err := GenerateCode()
	if err != nil {
		return IssueResult{}, newError(KindInternal, "could not generate a code", err)
	}
	codeHash := HashCode(p, code, s.cfg.Salt)
	rec, err := s.store.Put(ctx, p, codeHash, s.cfg.TTL)
	if err != nil {
		log.Error("storing code failed", zap.Error(err))
		return IssueResult{}, newError(KindInternal, "could not store the code", err)
	}

	res := s.provider.Send(ctx, p, delivery.Message{
		Text: fmt.Sprintf("Your %s verification code is: %s", s.cfg.AppName, code),
		Code: code,
	})
	if !res.Success {
		s.compensate(ctx, p, codeHash)
		log.Warn("code delivery failed, stored code removed",
			zap.String("provider", s.provider.Name()),
			zap.String("failure", string(res.Failure)),
			zap.String("detail", res.Detail),
		)
		s.publish(ctx, events.OtpDeliveryFailed, p, map[string]string{
			"provider": s.provider.Name(),
			"failure":  string(res.Failure),
		})
		if res.Failure == delivery.FailureConfiguration {
			return IssueResult{}, newError(KindConfiguration, "verification messages are not configured", res.Err())
		}
		return IssueResult{}, newError(KindDelivery, "could not send the verification code", res.Err())
	}

	log.Info("verification code sent",
		zap.String("provider", s.provider.Name()),
		zap.String("message_id", res.MessageID),
	)
	s.publish(ctx, events.OtpIssued, p, map[string]string{
		"provider":   s.provider.Name(),
		"message_id": res.MessageID,
	})

	out := IssueResult{Phone: num, MessageID: res.MessageID, ExpiresAt: rec.ExpiresAt}
	if s.cfg.DevMode {
		out.Code = code
	}
	return out, nil
}

func (s *Service) conflict(ctx context.Context, p string) *Error {
	e := newError(KindConflict, "a verification code was already sent, wait before requesting another", nil)
	rec, err := s.store.GetActiveUnverified(ctx, p)
	if err == nil {
		if wait := rec.ExpiresAt.Sub(s.now()); wait > 0 {
			e.RetryAfter = wait
		}
	}
	return e
}

// compensate undoes the Put of a code that could not be delivered so the
// next request is not refused as a duplicate.
func (s *Service) compensate(ctx context.Context, p, codeHash string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if _, err := s.store.DeleteIfMatches(ctx, p, codeHash); err != nil {
		s.logger.Error("rollback of undelivered code failed", logging.Phone(p), zap.Error(err))
	}
}

// VerifyResult is returned after a code matched.
type VerifyResult struct {
	Phone   phone.Number
	Session *model.Session
	// SessionErr is set when the phone was verified but no session could be issued.
	SessionErr error
}

// Verify checks code against the outstanding record for the phone and
// consumes it on success.
func (s *Service) Verify(ctx context.Context, rawPhone, code string) (VerifyResult, error) {
	num, err := phone.Parse(rawPhone)
	if err != nil {
		return VerifyResult{}, newError(KindValidation, err.Error(), err)
	}
	if code == "" {
		return VerifyResult{}, newError(KindValidation, "code is required", nil)
	}
	if !wellFormedCode(code) {
		return VerifyResult{}, newError(KindValidation, fmt.Sprintf("code must be %d digits", CodeLength), nil)
	}
	p := num.String()
	log := s.logger.With(logging.Phone(p))

	rec, err := s.store.GetActiveUnverified(ctx, p)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return VerifyResult{}, notFound()
		}
		log.Error("code lookup failed", zap.Error(err))
		return VerifyResult{}, newError(KindInternal, "could not look up the code", err)
	}

	if rec.Expired(s.now()) {
		// A newer code stored since the lookup keeps its record.
		if _, err := s.store.DeleteIfMatches(ctx, p, rec.CodeHash); err != nil {
			log.Error("deleting expired code failed", zap.Error(err))
		}
		s.publish(ctx, events.OtpExpired, p, nil)
		return VerifyResult{}, newError(KindExpired, "the code has expired, request a new one", nil)
	}

	if !codeMatches(rec.CodeHash, p, code, s.cfg.Salt) {
		return VerifyResult{}, s.mismatch(ctx, log, p, rec.CodeHash)
	}

	if err := s.store.MarkVerified(ctx, p, rec.CodeHash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Replaced or purged between lookup and consumption.
			return VerifyResult{}, notFound()
		}
		log.Error("marking code verified failed", zap.Error(err))
		return VerifyResult{}, newError(KindInternal, "could not consume the code", err)
	}
	log.Info("phone verified")
	s.publish(ctx, events.OtpVerified, p, nil)

	out := VerifyResult{Phone: num}
	if s.identity == nil {
		return out, nil
	}
	session, err := s.identity.IssueSession(ctx, p)
	if err != nil {
		log.Error("session issuance failed after verification", zap.Error(err))
		out.SessionErr = err
		return out, nil
	}
	out.Session = &session
	return out, nil
}

func (s *Service) mismatch(ctx context.Context, log *zap.Logger, p, codeHash string) *Error {
	attempts, err := s.store.IncrementAttempt(ctx, p)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return notFound()
		}
		log.Error("recording failed attempt failed", zap.Error(err))
		return newError(KindInternal, "could not record the attempt", err)
	}

	if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
		if _, err := s.store.DeleteIfMatches(ctx, p, codeHash); err != nil {
			log.Error("deleting locked code failed", zap.Error(err))
		}
		log.Warn("code locked after too many attempts", zap.Int("attempts", attempts))
		s.publish(ctx, events.OtpLocked, p, map[string]string{"attempts": strconv.Itoa(attempts)})
		return newError(KindTooManyAttempts, "too many incorrect attempts, request a new code", nil)
	}

	s.publish(ctx, events.OtpMismatch, p, map[string]string{"attempts": strconv.Itoa(attempts)})
	return newError(KindMismatch, "the code is incorrect", nil)
}

func notFound() *Error {
	return newError(KindNotFound, "no code found, request a new one", nil)
}

func (s *Service) publish(ctx context.Context, t events.Type, p string, attrs map[string]string) {
	ev := events.New(t, logging.MaskPhone(p), phoneKey(p), attrs)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing otp event failed", zap.String("type", string(t)), zap.Error(err))
	}
}
