package service

import (
	"errors"
	"fmt"

	"github.com/nmoretto/shipdeck/internal/jobs"
)

// ErrorKind classifies service failures for the HTTP layer. Collaborator
// errors inside a running job are recorded per unit outcome and never
// surface through this type; JobFailed marks a job that ended in failure.
type ErrorKind int

const (
	ErrValidation ErrorKind = iota
	ErrUnauthorized
	ErrNotFound
	ErrConflict
	ErrCapacity
	ErrCollaborator
	ErrJobFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrValidation:
		return "Validation"
	case ErrUnauthorized:
		return "Unauthorized"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrCapacity:
		return "Capacity"
	case ErrCollaborator:
		return "Collaborator"
	case ErrJobFailed:
		return "JobFailed"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %v", e.Kind, e.Cause)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the taxonomy kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind, true
	}
	return 0, false
}

// fromRegistry maps registry sentinels into the taxonomy so the HTTP layer
// only ever switches on ErrorKind.
func fromRegistry(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrNotFound):
		return &Error{Kind: ErrNotFound, Cause: err}
	case errors.Is(err, jobs.ErrCapacityExceeded):
		return &Error{Kind: ErrCapacity, Cause: err}
	case errors.Is(err, jobs.ErrConflict):
		return &Error{Kind: ErrConflict, Cause: err}
	default:
		return &Error{Kind: ErrValidation, Cause: err}
	}
}
