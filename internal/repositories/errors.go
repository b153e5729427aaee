package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint
	// or the record is no longer in the state the caller expected.
	ErrConflict = errors.New("record conflict")
	// ErrForbidden indicates the actor is not permitted to modify the record.
	ErrForbidden = errors.New("record not modifiable by actor")
)
