package pipeline

import (
	"errors"
	"fmt"
)

// TransientFetchError marks a download failure worth retrying once.
// Collaborators return it for timeouts, 5xx responses and truncated files.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure: %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err wraps a *TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// InferenceError reports a model failure for one orbit.
type InferenceError struct {
	Orbit string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for orbit %s: %v", e.Orbit, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ErrWindowOpen is returned by the night lights pipeline when its
// acquisition window has not closed yet.
var ErrWindowOpen = errors.New("pipeline: acquisition window still open")
