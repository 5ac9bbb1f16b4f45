package ride

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("ride not found")
	ErrConflict   = errors.New("ride state conflict")
	ErrValidation = errors.New("invalid ride input")
	// ErrForbidden means the actor is neither the rider nor the attached driver.
	ErrForbidden = errors.New("actor is not a participant of this ride")
)

var (
	ErrInvalidState  = fmt.Errorf("invalid state transition: %w", ErrConflict)
	ErrInvalidRecord = fmt.Errorf("contradictory ride record: %w", ErrConflict)
	ErrUnknownField  = fmt.Errorf("unknown ride field: %w", ErrValidation)
	ErrGuardedField  = fmt.Errorf("field is only written by transitions: %w", ErrConflict)
)
