package client

import (
	"context"
	"errors"
	"time"
)

// ErrGaveUp is returned when an operation ran out of attempts.
var ErrGaveUp = errors.New("too many failed attempts")

// Backend is the server surface the login flow drives.
type Backend interface {
	RequestOTP(ctx context.Context, phone string) (RequestResult, error)
	VerifyOTP(ctx context.Context, phone, code string) (VerifyResult, error)
}

// Prompter is the user side of the flow.
type Prompter interface {
	// ReadCode returns the code the user typed, or "" to ask for a resend.
	ReadCode(ctx context.Context) (string, error)
	Notify(msg string)
}

// Flow runs request, verify and resend against a Backend under a Controller.
type Flow struct {
	backend Backend
	ctrl    *Controller
	prompt  Prompter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFlow creates a login flow.
func NewFlow(backend Backend, ctrl *Controller, prompt Prompter) *Flow {
	return &Flow{backend: backend, ctrl: ctrl, prompt: prompt, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Login sends a code to phone and keeps prompting until it is verified, an
// attempt bound is hit, or the server reports a fatal error.
func (f *Flow) Login(ctx context.Context, phone string) (VerifyResult, error) {
	op := OpSend
	for {
		if err := f.send(ctx, phone, op); err != nil {
			return VerifyResult{}, err
		}
		op = OpResend

		res, resend, err := f.verify(ctx, phone)
		if err != nil || !resend {
			return res, err
		}
	}
}

func (f *Flow) send(ctx context.Context, phone string, op Op) error {
	for {
		if wait := f.ctrl.Remaining(); wait > 0 {
			f.prompt.Notify("You can request a new code in " + wait.Round(time.Second).String() + ".")
			if err := f.sleep(ctx, wait); err != nil {
				return err
			}
		}

		res, err := f.backend.RequestOTP(ctx, phone)
		if err == nil {
			f.ctrl.Succeeded(op)
			if res.Code != "" {
				f.prompt.Notify("Development code: " + res.Code)
			}
			f.prompt.Notify("A code was sent to " + phone + ".")
			return nil
		}

		adv := f.ctrl.Failed(op, err)
		f.prompt.Notify(adv.Message)
		if adv.Fatal || adv.FixInput {
			return err
		}
		if adv.Exhausted {
			return errors.Join(ErrGaveUp, err)
		}
	}
}

// verify prompts until success. resend is true when a new code is needed.
func (f *Flow) verify(ctx context.Context, phone string) (VerifyResult, bool, error) {
	for {
		code, err := f.prompt.ReadCode(ctx)
		if err != nil {
			return VerifyResult{}, false, err
		}
		if code == "" {
			return VerifyResult{}, true, nil
		}
		f.ctrl.SetCode(code)

		res, err := f.backend.VerifyOTP(ctx, phone, code)
		if err == nil {
			f.ctrl.Succeeded(OpVerify)
			return res, false, nil
		}

		adv := f.ctrl.Failed(OpVerify, err)
		f.prompt.Notify(adv.Message)
		switch {
		case adv.Fatal:
			return VerifyResult{}, false, err
		case adv.Exhausted:
			return VerifyResult{}, false, errors.Join(ErrGaveUp, err)
		case adv.Resend:
			return VerifyResult{}, true, nil
		}
	}
}
