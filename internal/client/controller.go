package client

import (
	"sync"
	"time"
)

// Op is an operation the controller keeps a retry counter for.
type Op string

const (
	OpSend   Op = "send"
	OpVerify Op = "verify"
	OpResend Op = "resend"
)

// Server error kinds the controller reacts to.
const (
	KindValidation      = "validation_error"
	KindConflict        = "conflict"
	KindNotFound        = "not_found"
	KindExpired         = "expired"
	KindInvalidCode     = "invalid_code"
	KindTooManyAttempts = "too_many_attempts"
	KindDelivery        = "delivery_failed"
	KindConfiguration   = "configuration_error"
	KindRateLimited     = "rate_limited"
)

// Config tunes the controller.
type Config struct {
	// Cooldown after every successful send before another may be requested.
	Cooldown time.Duration
	// LockoutCooldown applies after the server reports too many attempts.
	LockoutCooldown time.Duration
	// MaxAttempts bounds failures per operation; 0 means unbounded.
	MaxAttempts map[Op]int
}

// DefaultConfig mirrors the server defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:        60 * time.Second,
		LockoutCooldown: 5 * time.Minute,
		MaxAttempts: map[Op]int{
			OpSend:   3,
			OpVerify: 5,
			OpResend: 3,
		},
	}
}

// Advice tells the caller what to do after a failure.
type Advice struct {
	// Message is a user-facing explanation.
	Message string
	// Wait is the cooldown now in force before the next send.
	Wait time.Duration
	// ClearCode means the entered code is no longer useful.
	ClearCode bool
	// Resend means the current code is gone and a new one must be requested.
	Resend bool
	// FixInput means the user has to correct what was entered.
	FixInput bool
	// Fatal means retrying cannot help.
	Fatal bool
	// Exhausted means the operation hit its attempt bound.
	Exhausted bool
}

// Controller is the caller-side state for request, wait and resend. It is
// safe for concurrent use.
type Controller struct {
	mu            sync.Mutex
	cfg           Config
	now           func() time.Time
	cooldownUntil time.Time
	attempts      map[Op]int
	code          string
}

// NewController creates a controller. A nil now uses time.Now.
func NewController(cfg Config, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{cfg: cfg, now: now, attempts: make(map[Op]int)}
}

// Remaining is the cooldown left before a send is allowed.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining()
}

func (c *Controller) remaining() time.Duration {
	if d := c.cooldownUntil.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

// CanSend reports whether a send or resend may be issued now.
func (c *Controller) CanSend() bool {
	return c.Remaining() == 0
}

// Attempts returns the failure count for op.
func (c *Controller) Attempts(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[op]
}

// Exhausted reports whether op has used up its attempts.
func (c *Controller) Exhausted(op Op) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted(op)
}

func (c *Controller) exhausted(op Op) bool {
	limit := c.cfg.MaxAttempts[op]
	return limit > 0 && c.attempts[op] >= limit
}

// SetCode records the code the user entered.
func (c *Controller) SetCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
}

// Code returns the entered code, or "" after it was cleared.
func (c *Controller) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// Succeeded resets every counter. A successful send or resend starts the
// cooldown; a successful verify clears the entered code.
func (c *Controller) Succeeded(op Op) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.attempts {
		delete(c.attempts, k)
	}
	switch op {
	case OpSend, OpResend:
		c.extendCooldown(c.cfg.Cooldown)
	case OpVerify:
		c.code = ""
	}
}

// extendCooldown never shortens a cooldown already in force.
func (c *Controller) extendCooldown(d time.Duration) {
	if until := c.now().Add(d); until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
}

// Failed records a failure of op and returns what the caller should do.
// err may be an *APIError or any transport error.
func (c *Controller) Failed(op Op, err error) Advice {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts[op]++
	var adv Advice

	apiErr, ok := AsAPIError(err)
	if !ok {
		adv.Message = "Could not reach the server, try again."
	} else {
		switch apiErr.Kind {
		case KindConflict, KindRateLimited:
			wait := c.cfg.Cooldown
			if apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			c.extendCooldown(wait)
			adv.Message = "A code was already sent. Wait before requesting another."
		case KindTooManyAttempts:
			c.extendCooldown(c.cfg.LockoutCooldown)
			c.code = ""
			adv.ClearCode = true
			adv.Resend = true
			adv.Message = "Too many wrong codes. Request a new code after the cooldown."
		case KindInvalidCode:
			c.code = ""
			adv.ClearCode = true
			adv.FixInput = true
			adv.Message = "That code is not correct."
		case KindExpired:
			c.code = ""
			adv.ClearCode = true
			adv.Resend = true
			adv.Message = "That code has expired. Request a new one."
		case KindNotFound:
			c.code = ""
			adv.ClearCode = true
			adv.Resend = true
			adv.Message = "No code is waiting for this number. Request a new one."
		case KindValidation:
			adv.FixInput = true
			adv.Message = apiErr.Message
		case KindConfiguration:
			adv.Fatal = true
			adv.Message = "Verification messages are not available right now."
		case KindDelivery:
			adv.Message = "The code could not be delivered. Try again."
		default:
			adv.Message = "Something went wrong, try again."
		}
	}

	adv.Wait = c.remaining()
	adv.Exhausted = c.exhausted(op)
	return adv
}
