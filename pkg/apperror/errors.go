// Package apperror defines the error taxonomy shared by the reconciliation
// and categorization packages. Every typed error unwraps to one of the
// sentinel values so callers can branch with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

// Error classes.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("illegal state transition")
	ErrAtomicity  = errors.New("atomic operation failed")
)

// ValidationError reports malformed input: a bad row, an invalid regex or a
// missing mapped column.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation creates a ValidationError.
func NewValidation(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ConflictError is returned when a pattern is already bound to another category.
type ConflictError struct {
	Pattern             string
	ExistingCategoryID  string
	RequestedCategoryID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pattern %q is bound to category %s, not %s",
		e.Pattern, e.ExistingCategoryID, e.RequestedCategoryID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError names the entity that could not be loaded.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound creates a NotFoundError.
func NewNotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// StateError is returned when an action is not allowed from the current status.
type StateError struct {
	Action string
	From   string
	Reason string
}

func (e *StateError) Error() string {
	switch {
	case e.Reason != "" && e.From != "":
		return fmt.Sprintf("cannot %s from status %s: %s", e.Action, e.From, e.Reason)
	case e.Reason != "":
		return fmt.Sprintf("cannot %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("cannot %s from status %s", e.Action, e.From)
}

func (e *StateError) Unwrap() error { return ErrState }

// AtomicityError wraps the failure that aborted an all-or-nothing operation.
// Nothing from the operation is visible after it is returned.
type AtomicityError struct {
	Op  string
	Err error
}

func (e *AtomicityError) Error() string {
	return fmt.Sprintf("%s rolled back: %v", e.Op, e.Err)
}

func (e *AtomicityError) Unwrap() []error { return []error{ErrAtomicity, e.Err} }

// IsRowLevel reports whether err is recovered per row by batch operations
// rather than aborting them.
func IsRowLevel(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict)
}
