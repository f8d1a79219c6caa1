package group

import "errors"

var (
	// ErrClosed is returned by operations on a network that has been closed.
	ErrClosed = errors.New("group network closed")

	// ErrSurveyIncomplete is returned with the partial replies of a survey
	// when some members did not answer before the deadline.
	ErrSurveyIncomplete = errors.New("survey incomplete")

	// ErrDuplicateInstance is returned when an instance id joins twice.
	ErrDuplicateInstance = errors.New("instance already joined")

	ErrMemberNotFound   = errors.New("member not found in membership")
	ErrCannotRemoveSelf = errors.New("cannot remove self from membership")
)
