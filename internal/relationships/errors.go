package relationships

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition indicates the command is not valid for the current relationship.
	ErrPrecondition = errors.New("relationship precondition failed")
	// ErrMissingRequestID indicates the command needs a pending request id that is not known.
	ErrMissingRequestID = fmt.Errorf("%w: missing request id", ErrPrecondition)
	// ErrTimeout indicates the store did not answer within the mutation deadline.
	ErrTimeout = errors.New("relationship store timed out")
	// ErrUnknownCommand indicates the command name is not recognized.
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrPrecondition)
)

// ErrorKind classifies a failed mutation.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindTimeout      ErrorKind = "timeout"
	KindTransient    ErrorKind = "transient"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
)

// Retryable reports whether the same command may be issued again as is.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindTransient
}

// MutationError is returned by the coordinator when a command did not take effect.
// The pair's cached state has already been restored when it is returned.
type MutationError struct {
	Command Command
	Kind    ErrorKind
	Err     error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a mutation error, or an empty kind for other errors.
func KindOf(err error) ErrorKind {
	var mutErr *MutationError
	if errors.As(err, &mutErr) {
		return mutErr.Kind
	}
	return ""
}
