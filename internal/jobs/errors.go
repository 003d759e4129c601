package jobs

import "errors"

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("job not found")

	// ErrCapacityExceeded is returned by Create when too many jobs are
	// already pending or processing.
	ErrCapacityExceeded = errors.New("job capacity exceeded")

	// ErrConflict is returned when a transition does not apply to the
	// record's current state, e.g. cancelling a job that already finished.
	ErrConflict = errors.New("job state conflict")
)
