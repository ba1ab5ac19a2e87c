package model

import (
	"errors"
	"strings"
)

// Session state conflicts. These are returned to the caller as-is.
var (
	ErrAlreadyCheckedIn  = errors.New("already checked in for this day")
	ErrNotCheckedIn      = errors.New("not checked in yet")
	ErrAlreadyCheckedOut = errors.New("already checked out for this day")
	ErrOpenBreak         = errors.New("a break is still open; end it before checking out")
	ErrNoOpenBreak       = errors.New("no open break to end")
	ErrInvalidState      = errors.New("transition not allowed from the current status")
)

// Service and store level errors.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrBusy             = errors.New("another operation for this user and day is in progress; retry")
	ErrSessionNotFound  = errors.New("attendance session not found")
	ErrDuplicateSession = errors.New("attendance session already exists for this user and day")
	ErrVersionConflict  = errors.New("attendance session was modified concurrently")
	ErrSnapshotNotFound = errors.New("mirror snapshot not found")
)

// IsStateConflict reports whether err is one of the named state machine rejections.
func IsStateConflict(err error) bool {
	for _, target := range []error{ErrAlreadyCheckedIn, ErrNotCheckedIn, ErrAlreadyCheckedOut, ErrOpenBreak, ErrNoOpenBreak, ErrInvalidState} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors collects field level problems. It matches ErrInvalidInput via errors.Is.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var msgs []string
	for _, err := range v {
		msgs = append(msgs, err.Field+": "+err.Message)
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrInvalidInput
}

func (v ValidationErrors) ToMap() map[string]string {
	result := make(map[string]string)
	for _, err := range v {
		result[err.Field] = err.Message
	}
	return result
}

// Invalid builds a single-field validation error.
func Invalid(field, message string) error {
	return ValidationErrors{{Field: field, Message: message}}
}
