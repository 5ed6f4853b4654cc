package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a repository that does not hold the requested file.
	ErrNotFound = errors.New("not found")
	// ErrOffline is returned for files missing locally while working offline.
	ErrOffline = errors.New("not available in the local repository and offline mode is enabled")
)

// DependencyResolutionError reports that a coordinate, or one of its transitive
// dependencies, could not be resolved.
type DependencyResolutionError struct {
	Coordinate Coordinate
	Causes     []error
}

func (e *DependencyResolutionError) Error() string {
	if len(e.Causes) == 0 || e.Causes[0] == nil {
		return fmt.Sprintf("failed to resolve %s", e.Coordinate)
	}
	return fmt.Sprintf("failed to resolve %s: %s", e.Coordinate, e.Causes[0].Error())
}

// Unwrap implements the multi-error form of errors.Unwrap
func (e *DependencyResolutionError) Unwrap() []error {
	return e.Causes
}

func newResolutionError(c Coordinate, causes ...error) *DependencyResolutionError {
	var nonNil []error
	for _, err := range causes {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	return &DependencyResolutionError{Coordinate: c, Causes: nonNil}
}

// IsDependencyResolutionError checks if the error is or wraps a DependencyResolutionError
func IsDependencyResolutionError(err error) bool {
	var resErr *DependencyResolutionError
	return err != nil && errors.As(err, &resErr)
}
