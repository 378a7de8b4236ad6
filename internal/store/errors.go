package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation names an ID that is not in
	// the current snapshot.
	ErrNotFound = errors.New("subscription not found")
	// ErrNotAuthenticated is returned when no user is signed in.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ValidationError reports malformed input. Nothing is written when it is
// returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteError wraps a failure of the persistence layer.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
