package lock

import "errors"

var (
	// ErrVoteRejected is returned when at least one instance denied a
	// distributed write lock.
	ErrVoteRejected = errors.New("lock vote rejected")

	// ErrVoteTimeout is returned when not every instance answered the
	// prepare round in time.
	ErrVoteTimeout = errors.New("lock vote timed out")

	// ErrStopped is returned by a manager that has been stopped.
	ErrStopped = errors.New("lock manager stopped")
)
