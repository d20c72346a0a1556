package storage

import "errors"

var (
	// ErrDuplicateID is returned by Enqueue when a job with the same id exists.
	ErrDuplicateID = errors.New("job id already exists")
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrNotInDLQ is returned by RetryDLQ for a job that is not dead.
	ErrNotInDLQ = errors.New("job not in dead letter queue")
)
