package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a pipeline, connector or version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique key collision on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoPendingChanges indicates deploy was requested without a staged draft.
	ErrNoPendingChanges = errors.New("connector has no pending changes")

	// ErrEmptyConfig indicates a staged or created config has no keys.
	ErrEmptyConfig = errors.New("configuration is empty")
)

// TransientError wraps a network or decode failure that callers absorb:
// the last-known view is kept and the failure is logged, never fatal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a swallowed-by-design failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CommandRejectedError carries the orchestration API's verbatim error
// message when it answers success=false. The message is operator-facing.
type CommandRejectedError struct {
	Command string
	Message string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Message)
}

// IsCommandRejected reports whether err is an explicit external rejection.
func IsCommandRejected(err error) bool {
	var cr *CommandRejectedError
	return errors.As(err, &cr)
}
