package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/delivery"
	"github.com/signalix/phoneauth/internal/events"
	"github.com/signalix/phoneauth/internal/model"
	"github.com/signalix/phoneauth/internal/repo"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu     sync.Mutex
	sent   []delivery.Message
	to     []string
	result delivery.Result
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Send(_ context.Context, to string, msg delivery.Message) delivery.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	p.to = append(p.to, to)
	if p.result.Success || p.result.Failure != "" {
		return p.result
	}
	return delivery.Result{Success: true, MessageID: "msg-" + to}
}

func (p *fakeProvider) lastCode(t *testing.T) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent, "nothing was delivered")
	return p.sent[len(p.sent)-1].Code
}

func (p *fakeProvider) fail(kind delivery.FailureKind, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = delivery.Result{Failure: kind, Detail: detail}
}

func (p *fakeProvider) succeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = delivery.Result{}
}

type fakeIdentity struct {
	err    error
	phones []string
}

func (f *fakeIdentity) IssueSession(_ context.Context, phone string) (model.Session, error) {
	f.phones = append(f.phones, phone)
	if f.err != nil {
		return model.Session{}, f.err
	}
	return model.Session{
		User:        model.User{ID: uuid.New(), PhoneNumber: phone},
		AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer",
	}, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type harness struct {
	svc      *Service
	store    repo.OtpRepo
	provider *fakeProvider
	identity *fakeIdentity
	events   *recordingPublisher
	clock    *testClock
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := repo.NewMemoryOtpRepo(repo.WithClock(clock.Now))
	provider := &fakeProvider{}
	identity := &fakeIdentity{}
	pub := &recordingPublisher{}
	cfg := Config{AppName: "Signalix", Salt: "pepper", TTL: 10 * time.Minute, MaxAttempts: 5}
	for _, m := range mutate {
		m(&cfg)
	}
	svc := NewService(cfg, store, provider, identity, zap.NewNop(), WithClock(clock.Now), WithPublisher(pub))
	return &harness{svc: svc, store: store, provider: provider, identity: identity, events: pub, clock: clock}
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "expected *otp.Error, got %T: %v", err, err)
	return e.Kind
}

const ugPhone = "+256701234567"

func TestIssueThenVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	assert.Equal(t, "msg-"+ugPhone, res.MessageID)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), res.ExpiresAt)
	assert.Empty(t, res.Code, "code is only echoed in dev mode")

	code := h.provider.lastCode(t)
	assert.Len(t, code, 6)
	assert.True(t, wellFormedCode(code))
	assert.Equal(t, "Your Signalix verification code is: "+code, h.provider.sent[0].Text)

	rec, err := h.store.GetActiveUnverified(ctx, ugPhone)
	require.NoError(t, err)
	assert.NotEqual(t, code, rec.CodeHash, "plaintext code is never stored")

	h.clock.Advance(9 * time.Minute)
	out, err := h.svc.Verify(ctx, ugPhone, code)
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	assert.Equal(t, ugPhone, out.Session.User.PhoneNumber)
	assert.Equal(t, []string{ugPhone}, h.identity.phones)

	_, err = h.store.GetActiveUnverified(ctx, ugPhone)
	assert.ErrorIs(t, err, repo.ErrNotFound, "verified record is no longer active")

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Verified)
}

func TestIssue_DevModeEchoesCode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DevMode = true })
	res, err := h.svc.Issue(context.Background(), ugPhone)
	require.NoError(t, err)
	assert.Equal(t, h.provider.lastCode(t), res.Code)
}

func TestVerify_ExpiredCodeIsDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	code := h.provider.lastCode(t)

	h.clock.Advance(10*time.Minute + time.Second)
	_, err = h.svc.Verify(ctx, ugPhone, code)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = h.store.GetActiveUnverified(ctx, ugPhone)
	assert.ErrorIs(t, err, repo.ErrNotFound, "expired record is removed on read")
	assert.Contains(t, h.events.types, events.OtpExpired)
}

// racingStore runs beforeDelete once, just ahead of the first conditional
// delete, to interleave another request between lookup and delete.
type racingStore struct {
	repo.OtpRepo
	beforeDelete func()
}

func (s *racingStore) DeleteIfMatches(ctx context.Context, phone, codeHash string) (bool, error) {
	if fn := s.beforeDelete; fn != nil {
		s.beforeDelete = nil
		fn()
	}
	return s.OtpRepo.DeleteIfMatches(ctx, phone, codeHash)
}

func TestVerify_ExpiredDeleteKeepsReissuedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	racing := &racingStore{OtpRepo: h.store}
	h.svc.store = racing

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	stale := h.provider.lastCode(t)
	h.clock.Advance(11 * time.Minute)

	racing.beforeDelete = func() {
		_, err := h.svc.Issue(ctx, ugPhone)
		require.NoError(t, err)
	}
	_, err = h.svc.Verify(ctx, ugPhone, stale)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = h.svc.Verify(ctx, ugPhone, h.provider.lastCode(t))
	assert.NoError(t, err, "the code issued during the expiry delete must still verify")
}

func TestVerify_LockoutDeleteKeepsReissuedCode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxAttempts = 1 })
	ctx := context.Background()
	racing := &racingStore{OtpRepo: h.store}
	h.svc.store = racing

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	wrong := wrongCode(h.provider.lastCode(t))

	racing.beforeDelete = func() {
		// Put replaces the record whatever its state; it models a
		// concurrent issuance that passed its live check earlier.
		_, err := h.store.Put(ctx, ugPhone, HashCode(ugPhone, "424242", "pepper"), 10*time.Minute)
		require.NoError(t, err)
	}
	_, err = h.svc.Verify(ctx, ugPhone, wrong)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = h.svc.Verify(ctx, ugPhone, "424242")
	assert.NoError(t, err, "the replacing code must survive the lockout delete")
}

func TestIssue_ConflictWhileLive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const usPhone = "+1234567890"

	_, err := h.svc.Issue(ctx, usPhone)
	require.NoError(t, err)

	h.clock.Advance(3 * time.Minute)
	_, err = h.svc.Issue(ctx, usPhone)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 7*time.Minute, e.RetryAfter)
	assert.Len(t, h.provider.sent, 1, "no second delivery")

	h.clock.Advance(7*time.Minute + time.Second)
	_, err = h.svc.Issue(ctx, usPhone)
	require.NoError(t, err, "issuance succeeds once the active window has passed")
	assert.Len(t, h.provider.sent, 2)
}

func TestIssue_ReplacesExpiredRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	first := h.provider.lastCode(t)

	h.clock.Advance(11 * time.Minute)
	_, err = h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	second := h.provider.lastCode(t)

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total, "exactly one record per phone")
	assert.Equal(t, int64(1), stats.Active)

	if first != second {
		_, err = h.svc.Verify(ctx, ugPhone, first)
		assert.ErrorIs(t, err, ErrMismatch, "the first code no longer works")
	}
	_, err = h.svc.Verify(ctx, ugPhone, second)
	require.NoError(t, err)
}

func TestIssue_DeliveryFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const phone = "+14155552671"

	h.provider.fail(delivery.FailureRejected, "destination blacklisted")
	_, err := h.svc.Issue(ctx, phone)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, AsError(err).Detail(), "destination blacklisted")

	live, err := h.store.HasLiveActive(ctx, phone)
	require.NoError(t, err)
	assert.False(t, live, "stored code was rolled back")
	assert.Contains(t, h.events.types, events.OtpDeliveryFailed)

	h.provider.succeed()
	_, err = h.svc.Issue(ctx, phone)
	require.NoError(t, err, "immediate re-issuance succeeds")
}

func TestIssue_TransportFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.provider.fail(delivery.FailureTransport, "timeout")

	_, err := h.svc.Issue(context.Background(), ugPhone)
	assert.ErrorIs(t, err, ErrDelivery)

	live, err := h.store.HasLiveActive(context.Background(), ugPhone)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestIssue_RollbackSurvivesCanceledRequest(t *testing.T) {
	h := newHarness(t)
	h.provider.fail(delivery.FailureTransport, "context canceled")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Issue(ctx, ugPhone)
	assert.ErrorIs(t, err, ErrDelivery)

	live, err := h.store.HasLiveActive(context.Background(), ugPhone)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestIssue_ConfigurationFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.provider = delivery.NewDisabled("sms", "missing SMS_API_KEY")

	_, err := h.svc.Issue(context.Background(), ugPhone)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	live, err := h.store.HasLiveActive(context.Background(), ugPhone)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestVerify_MismatchRetainsCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	code := h.provider.lastCode(t)
	wrong := wrongCode(code)

	for i := 0; i < 3; i++ {
		_, err := h.svc.Verify(ctx, ugPhone, wrong)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMismatch, "attempt %d", i+1)
	}

	rec, err := h.store.GetActiveUnverified(ctx, ugPhone)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.AttemptCount)

	_, err = h.svc.Verify(ctx, ugPhone, code)
	require.NoError(t, err, "fourth submission with the right code succeeds")
}

func TestVerify_LocksAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	code := h.provider.lastCode(t)
	wrong := wrongCode(code)

	for i := 0; i < 4; i++ {
		_, err := h.svc.Verify(ctx, ugPhone, wrong)
		assert.ErrorIs(t, err, ErrMismatch)
	}
	_, err = h.svc.Verify(ctx, ugPhone, wrong)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Contains(t, h.events.types, events.OtpLocked)

	_, err = h.svc.Verify(ctx, ugPhone, code)
	assert.ErrorIs(t, err, ErrNotFound, "locked code is gone")

	_, err = h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err, "a new code may be requested after the lockout")
}

func TestVerify_NoLockoutWhenDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxAttempts = 0 })
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	code := h.provider.lastCode(t)

	for i := 0; i < 10; i++ {
		_, err := h.svc.Verify(ctx, ugPhone, wrongCode(code))
		assert.ErrorIs(t, err, ErrMismatch)
	}
	_, err = h.svc.Verify(ctx, ugPhone, code)
	require.NoError(t, err)
}

func TestVerify_NeverIssued(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Verify(context.Background(), ugPhone, "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_AlreadyUsedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)
	code := h.provider.lastCode(t)

	_, err = h.svc.Verify(ctx, ugPhone, code)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.svc.Verify(ctx, ugPhone, code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_SessionFailureStillVerifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.identity.err = errors.New("users table unavailable")

	_, err := h.svc.Issue(ctx, ugPhone)
	require.NoError(t, err)

	out, err := h.svc.Verify(ctx, ugPhone, h.provider.lastCode(t))
	require.NoError(t, err)
	assert.Nil(t, out.Session)
	assert.EqualError(t, out.SessionErr, "users table unavailable")

	_, err = h.store.GetActiveUnverified(ctx, ugPhone)
	assert.ErrorIs(t, err, repo.ErrNotFound, "code stays consumed")
}

func TestMalformedInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, raw := range []string{"12345", "", "+0123456789", "not-a-phone"} {
		_, err := h.svc.Issue(ctx, raw)
		assert.Equal(t, KindValidation, kindOf(t, err), "issue %q", raw)

		_, err = h.svc.Verify(ctx, raw, "123456")
		assert.Equal(t, KindValidation, kindOf(t, err), "verify %q", raw)
	}

	assert.Empty(t, h.provider.sent)
	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total, "store untouched")
}

func TestVerify_MalformedCode(t *testing.T) {
	h := newHarness(t)
	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456"} {
		_, err := h.svc.Verify(context.Background(), ugPhone, code)
		assert.ErrorIs(t, err, ErrValidation, "code %q", code)
	}
}

func TestIssue_NormalizesPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, "00256 701-234-567")
	require.NoError(t, err)
	assert.Equal(t, ugPhone, res.Phone.String())
	assert.Equal(t, []string{ugPhone}, h.provider.to)

	_, err = h.svc.Verify(ctx, "+256 (701) 234 567", h.provider.lastCode(t))
	require.NoError(t, err)
}

func TestConcurrentIssueLeavesOneRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.Issue(ctx, ugPhone)
		}()
	}
	wg.Wait()

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Active)

	_, err = h.svc.Verify(ctx, ugPhone, h.provider.lastCode(t))
	if err != nil {
		// Deliveries may complete out of order relative to the stored write.
		assert.ErrorIs(t, err, ErrMismatch)
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
