package cluster

import (
	"errors"
	"fmt"
)

// Topology errors
var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrDuplicateMember = errors.New("duplicate member id")
	ErrMemberActive    = errors.New("member is active")
	ErrMemberNotAlive  = errors.New("member is not alive")
	ErrClusterStopped  = errors.New("cluster stopped")
)

// Fan-out errors
var (
	// ErrMemberFailed marks a backend error from a member that is still alive.
	ErrMemberFailed = errors.New("member operation failed")

	// ErrNoActiveMembers means no member could serve the operation.
	ErrNoActiveMembers = errors.New("no members available")

	// ErrClusterEmpty means the active set is empty and the configuration
	// does not allow that.
	ErrClusterEmpty = errors.New("cluster has no active members")
)

// MemberError is a backend error attributed to one member.
type MemberError struct {
	MemberID string
	Err      error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("member %s: %v", e.MemberID, e.Err)
}

// Unwrap exposes both ErrMemberFailed and the backend error.
func (e *MemberError) Unwrap() []error {
	return []error{ErrMemberFailed, e.Err}
}
