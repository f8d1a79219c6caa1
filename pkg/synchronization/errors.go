package synchronization

import "errors"

var (
	// ErrMissingPrimaryKey is returned when differential synchronization
	// meets a table without a primary key.
	ErrMissingPrimaryKey = errors.New("table has no primary key")

	// ErrUnknownStrategy is returned for an unregistered strategy id.
	ErrUnknownStrategy = errors.New("unknown synchronization strategy")

	// ErrSequenceDivergence is returned when active members disagree on a
	// sequence value.
	ErrSequenceDivergence = errors.New("sequence values diverge across active members")

	// ErrMissingTable is returned when a source table does not exist on the
	// target.
	ErrMissingTable = errors.New("table missing on target")
)
