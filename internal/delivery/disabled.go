package delivery

import "context"

type disabledProvider struct {
	name   string
	reason string
}

// NewDisabled returns a Provider whose every send fails with a configuration failure.
func NewDisabled(name, reason string) Provider {
	return &disabledProvider{name: name, reason: reason}
}

func (p *disabledProvider) Name() string { return p.name }

func (p *disabledProvider) Send(_ context.Context, _ string, _ Message) Result {
	if p.reason == "" {
		return failed(FailureConfiguration, "%s", ErrNotConfigured.Error())
	}
	return failed(FailureConfiguration, "%s: %s", ErrNotConfigured.Error(), p.reason)
}
