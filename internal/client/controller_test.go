package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController() (*Controller, *manualClock) {
	clock := &manualClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewController(DefaultConfig(), clock.now), clock
}

func TestController_CooldownAfterSend(t *testing.T) {
	c, clock := newTestController()
	assert.True(t, c.CanSend())

	c.Succeeded(OpSend)
	assert.False(t, c.CanSend())
	assert.Equal(t, 60*time.Second, c.Remaining())

	clock.advance(59 * time.Second)
	assert.False(t, c.CanSend())
	clock.advance(time.Second)
	assert.True(t, c.CanSend())
}

func TestController_ConflictExtendsToRetryAfter(t *testing.T) {
	c, _ := newTestController()

	adv := c.Failed(OpSend, &APIError{Status: 429, Kind: KindConflict, RetryAfter: 8 * time.Minute})
	assert.Equal(t, 8*time.Minute, adv.Wait)
	assert.False(t, adv.Fatal)

	adv = c.Failed(OpSend, &APIError{Status: 429, Kind: KindConflict, RetryAfter: 5 * time.Second})
	assert.Equal(t, 8*time.Minute, adv.Wait, "a shorter hint never shortens the cooldown")
}

func TestController_ConflictWithoutHintUsesDefault(t *testing.T) {
	c, _ := newTestController()
	adv := c.Failed(OpSend, &APIError{Status: 429, Kind: KindConflict})
	assert.Equal(t, 60*time.Second, adv.Wait)
}

func TestController_TooManyAttemptsLocksSending(t *testing.T) {
	c, clock := newTestController()
	c.SetCode("123456")

	adv := c.Failed(OpVerify, &APIError{Status: 429, Kind: KindTooManyAttempts})
	assert.True(t, adv.Resend)
	assert.True(t, adv.ClearCode)
	assert.Equal(t, 5*time.Minute, adv.Wait)
	assert.Empty(t, c.Code())

	clock.advance(4 * time.Minute)
	assert.False(t, c.CanSend())
	clock.advance(time.Minute)
	assert.True(t, c.CanSend())
}

func TestController_ClearsCodeOnStaleKinds(t *testing.T) {
	for _, kind := range []string{KindInvalidCode, KindExpired, KindNotFound} {
		t.Run(kind, func(t *testing.T) {
			c, _ := newTestController()
			c.SetCode("654321")
			adv := c.Failed(OpVerify, &APIError{Kind: kind})
			assert.True(t, adv.ClearCode)
			assert.Empty(t, c.Code())
			assert.Equal(t, kind != KindInvalidCode, adv.Resend)
		})
	}
}

func TestController_KeepsCodeOnTransportError(t *testing.T) {
	c, _ := newTestController()
	c.SetCode("654321")
	adv := c.Failed(OpVerify, errors.New("connection refused"))
	assert.False(t, adv.ClearCode)
	assert.Equal(t, "654321", c.Code())
}

func TestController_AttemptBoundsAndReset(t *testing.T) {
	c, _ := newTestController()
	mismatch := &APIError{Kind: KindInvalidCode}

	for i := 1; i < 5; i++ {
		adv := c.Failed(OpVerify, mismatch)
		assert.False(t, adv.Exhausted, "attempt %d", i)
	}
	assert.Equal(t, 4, c.Attempts(OpVerify))
	assert.Equal(t, 0, c.Attempts(OpSend), "counters are per operation")

	adv := c.Failed(OpVerify, mismatch)
	assert.True(t, adv.Exhausted)
	assert.True(t, c.Exhausted(OpVerify))

	c.Failed(OpSend, &APIError{Kind: KindDelivery})
	c.Succeeded(OpResend)
	assert.Equal(t, 0, c.Attempts(OpVerify))
	assert.Equal(t, 0, c.Attempts(OpSend))
	assert.False(t, c.Exhausted(OpVerify))
}

func TestController_Classification(t *testing.T) {
	c, _ := newTestController()

	adv := c.Failed(OpSend, &APIError{Kind: KindConfiguration})
	assert.True(t, adv.Fatal)

	adv = c.Failed(OpSend, &APIError{Kind: KindValidation, Message: "phone is required"})
	assert.True(t, adv.FixInput)
	assert.Equal(t, "phone is required", adv.Message)

	adv = c.Failed(OpSend, &APIError{Kind: KindDelivery})
	assert.False(t, adv.Fatal)
	assert.False(t, adv.FixInput)
	assert.Zero(t, adv.Wait)
}

func TestController_SuccessfulVerifyClearsCode(t *testing.T) {
	c, _ := newTestController()
	c.SetCode("111111")
	c.Succeeded(OpVerify)
	assert.Empty(t, c.Code())
	assert.True(t, c.CanSend(), "verify does not start a send cooldown")
}
