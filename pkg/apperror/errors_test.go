package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		rowLevel bool
	}{
		{"validation", NewValidation("amount", "abc", "not a number"), ErrValidation, true},
		{"conflict", &ConflictError{Pattern: "tesco"}, ErrConflict, true},
		{"not found", NewNotFound("category", uuid.New()), ErrNotFound, false},
		{"state", &StateError{Action: "accept", From: "VERIFIED"}, ErrState, false},
		{"atomicity", &AtomicityError{Op: "commit", Err: errors.New("boom")}, ErrAtomicity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.rowLevel, IsRowLevel(wrapped))
		})
	}
}

func TestStateError_NamesBothStates(t *testing.T) {
	err := &StateError{Action: "accept", From: "VERIFIED"}
	assert.Equal(t, "cannot accept from status VERIFIED", err.Error())

	err = &StateError{Action: "verify", From: "POTENTIAL", Reason: "row changed concurrently"}
	assert.Equal(t, "cannot verify from status POTENTIAL: row changed concurrently", err.Error())
}

func TestAtomicityError_UnwrapsCause(t *testing.T) {
	err := &AtomicityError{Op: "commit", Err: context.Canceled}
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrAtomicity)

	var target *AtomicityError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &target))
	assert.Equal(t, "commit", target.Op)
}
