package capability

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below.
var (
	ErrMissingState          = errors.New("missing session state")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrUpstream              = errors.New("upstream capability failure")
	ErrSchemaUnavailable     = errors.New("warehouse schema unavailable")
)

// MissingStateError is returned when a consumer requires a state key that is
// absent. It signals a sequencing bug and must not be swallowed.
type MissingStateError struct {
	Key      string
	Consumer string
}

func (e *MissingStateError) Error() string {
	if e.Consumer == "" {
		return fmt.Sprintf("missing session state %q", e.Key)
	}
	return fmt.Sprintf("%s requires session state %q", e.Consumer, e.Key)
}

func (e *MissingStateError) Is(target error) bool { return target == ErrMissingState }

// UnavailableError is returned when a capability was not constructed at
// startup. The router recovers it into a descriptive message.
type UnavailableError struct {
	Capability string
	Reason     string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("capability %s is not enabled", e.Capability)
	}
	return fmt.Sprintf("capability %s is not enabled: %s", e.Capability, e.Reason)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrCapabilityUnavailable }

// UpstreamFailure wraps an error returned by an external provider, including
// timeouts. Retryable failures may be attempted again by the caller.
type UpstreamFailure struct {
	Capability string
	Attempts   int
	Retryable  bool
	Err        error
}

func (e *UpstreamFailure) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("capability %s failed after %d attempts: %v", e.Capability, e.Attempts, e.Err)
	}
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *UpstreamFailure) Unwrap() error { return e.Err }

func (e *UpstreamFailure) Is(target error) bool { return target == ErrUpstream }

// SchemaUnavailableError is returned when warehouse introspection fails.
// The session proceeds without schema information.
type SchemaUnavailableError struct {
	Warehouse string
	Err       error
}

func (e *SchemaUnavailableError) Error() string {
	return fmt.Sprintf("schema for warehouse %s unavailable: %v", e.Warehouse, e.Err)
}

func (e *SchemaUnavailableError) Unwrap() error { return e.Err }

func (e *SchemaUnavailableError) Is(target error) bool { return target == ErrSchemaUnavailable }

// RetryableError is implemented by provider errors that know whether a
// retry can help.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err is worth retrying. Errors that do not
// describe themselves are treated as retryable.
func IsRetryable(err error) bool {
	var r RetryableError
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var up *UpstreamFailure
	if errors.As(err, &up) {
		return up.Retryable
	}
	return true
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
