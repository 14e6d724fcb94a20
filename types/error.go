package types

import (
	"time"

	"github.com/juju/errors"
)

var (
	_ error = &RetryError{}
	_ error = &FatalError{}
	_ error = &PauseError{}
	_ error = &SkipError{}
)

// NewRetryError asks the engine to run the task again after backoff,
// regardless of the retries configured on the task.
func NewRetryError(otherErr error, backoff time.Duration) error {
	return &RetryError{baseError: newBaseErr(otherErr), Backoff: backoff}
}

func NewRetryErrorf(backoff time.Duration, format string, args ...interface{}) error {
	return NewRetryError(errors.Errorf(format, args...), backoff)
}

// NewFatalError fails the task without any retry.
func NewFatalError(otherErr error) error {
	return &FatalError{baseError: newBaseErr(otherErr)}
}

func NewFatalErrorf(format string, args ...interface{}) error {
	return NewFatalError(errors.Errorf(format, args...))
}

// NewPauseError pauses the whole request, the task runs again once resumed.
func NewPauseError(otherErr error) error {
	return &PauseError{baseError: newBaseErr(otherErr)}
}

// NewSkipError marks the task skipped, downstream tasks follow their trigger rules.
func NewSkipError(otherErr error) error {
	return &SkipError{baseError: newBaseErr(otherErr)}
}

func NewSkipErrorf(format string, args ...interface{}) error {
	return NewSkipError(errors.Errorf(format, args...))
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	if e.BaseErr == nil {
		return "<nil>"
	}
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

type RetryError struct {
	*baseError
	Backoff time.Duration
}

type FatalError struct {
	*baseError
}

type PauseError struct {
	*baseError
}

type SkipError struct {
	*baseError
}
