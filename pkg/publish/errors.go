package publish

import (
	"errors"
	"fmt"
)

// ErrNoWorkItem is returned when no work item header encloses the requested line.
var ErrNoWorkItem = errors.New("no work item found at the given line")

// ValidationError rejects a work item before anything is sent to the remote store.
type ValidationError struct {
	Msg string
	IDs []int
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports a referenced work item missing from the remote store.
type NotFoundError struct {
	Type string
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s #%d does not exist", e.Type, e.ID)
}

// RemoteError wraps a failed remote call with the operation that issued it.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *RemoteError) Unwrap() error { return e.Err }
