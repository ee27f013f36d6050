package adapters

import (
	"context"

	"github.com/aixgo-dev/datapilot/capability"
)

// Disabled stands in for a capability that was not constructed at startup.
type Disabled struct {
	name   string
	reason string
}

// NewDisabled creates a placeholder for name.
func NewDisabled(name, reason string) *Disabled {
	return &Disabled{name: name, reason: reason}
}

// Name returns the capability name.
func (d *Disabled) Name() string { return d.name }

// Invoke always fails with *capability.UnavailableError.
func (d *Disabled) Invoke(context.Context, capability.Request) (*capability.Result, error) {
	return nil, &capability.UnavailableError{Capability: d.name, Reason: d.reason}
}
