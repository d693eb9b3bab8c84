package job

import "errors"

// Sentinel errors returned by Store implementations.
var (
	// ErrNoJob indicates no runnable job of the requested type exists.
	ErrNoJob = errors.New("no runnable job available")

	// ErrLockLost indicates the presented lock token no longer matches
	// the record, meaning the lock expired and the job was reclaimed.
	ErrLockLost = errors.New("job lock lost")

	// ErrNotFound indicates the job record does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidType indicates an unknown job type.
	ErrInvalidType = errors.New("invalid job type")

	// ErrInvalidAttempts indicates a non-positive max attempts value.
	ErrInvalidAttempts = errors.New("max attempts must be at least 1")
)
