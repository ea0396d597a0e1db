package driver

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by the cause of every invocation that was cut short
// by its own deadline or by the join barrier deadline.
var ErrTimeout = errors.New("timeout")

// errJoinTimeout cancels outstanding invocations when the barrier expires.
var errJoinTimeout = fmt.Errorf("join barrier expired: %w", ErrTimeout)

// ConfigurationError reports invalid batch parameters. No invocation is
// dispatched when Run returns one.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// DispatchFailure reports that the driver could not hand an invocation to a
// unit of execution. It is fatal to the batch.
type DispatchFailure struct {
	Index int
	Err   error
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("dispatch of invocation %d failed: %v", e.Index, e.Err)
}

func (e *DispatchFailure) Unwrap() error {
	return e.Err
}

// InvocationFailure is the cause recorded on a failed invocation. It is never
// returned from Run.
type InvocationFailure struct {
	Index   int
	Command Command
	Err     error
}

func (e *InvocationFailure) Error() string {
	return fmt.Sprintf("invocation %d (%s): %v", e.Index, e.Command, e.Err)
}

func (e *InvocationFailure) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
