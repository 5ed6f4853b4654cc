package testrunner

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, unresolvable runner libraries and
// unsupported project layouts.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// ExitStatusError carries the non-zero exit code of the test process, which
// becomes the exit code of op-testrunner.
type ExitStatusError struct {
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("test process exited with code %d", e.Code)
}

// ExitCode implements the cli.ExitCoder interface
func (e *ExitStatusError) ExitCode() int {
	return e.Code
}

// NewExitStatusError creates a new ExitStatusError
func NewExitStatusError(code int) *ExitStatusError {
	return &ExitStatusError{Code: code}
}

// AsExitStatusError returns the ExitStatusError err is or wraps, if any.
func AsExitStatusError(err error) (*ExitStatusError, bool) {
	var statusErr *ExitStatusError
	if err != nil && errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}
