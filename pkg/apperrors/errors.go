package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError is returned when an operation is not allowed from the
// revision's current status. To is empty for status-gated edits that do not
// change the status.
type TransitionError struct {
	Operation string
	From      string
	To        string
}

func (e *TransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("%s not allowed while revision is %s", e.Operation, e.From)
	}
	return fmt.Sprintf("%s: cannot move revision from %s to %s", e.Operation, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrForbidden
}

// PermissionError is returned when the actor lacks ownership or role.
type PermissionError struct {
	Operation string
	Reason    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrForbidden
}

// NewPermissionError creates a PermissionError.
func NewPermissionError(operation, reason string) error {
	return &PermissionError{Operation: operation, Reason: reason}
}

// LiveRevisionError is returned when an article already has a revision in a
// non-terminal status.
type LiveRevisionError struct {
	RevisionID uuid.UUID
	Status     string
}

func (e *LiveRevisionError) Error() string {
	return fmt.Sprintf("article already has a live revision %s (status: %s)", e.RevisionID, e.Status)
}

func (e *LiveRevisionError) Is(target error) bool {
	return target == ErrConflict
}

// SlugTakenError is returned when an insert loses a race for a unique slug.
// The slug was free when probed, so generating it again yields a new one.
type SlugTakenError struct {
	Slug string
}

func (e *SlugTakenError) Error() string {
	return fmt.Sprintf("slug %q is already taken", e.Slug)
}

func (e *SlugTakenError) Is(target error) bool {
	return target == ErrConflict
}

// IsRetryable marks the error for retry.DoIfRetryable.
func (e *SlugTakenError) IsRetryable() bool {
	return true
}
