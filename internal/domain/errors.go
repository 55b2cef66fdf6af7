package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Callers match with errors.Is.
var (
	ErrConflict          = errors.New("beam already exists")
	ErrNotFound          = errors.New("beam not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBadRequest        = errors.New("bad request")
	ErrUnavailable       = errors.New("backend unavailable")
	ErrConfiguration     = errors.New("configuration error")
	ErrPayloadTooLarge   = errors.New("payload too large")
)

// BadRequestf builds a validation error that wraps ErrBadRequest.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// InvalidTransition describes a rejected status change.
func InvalidTransition(id string, from, to Status) error {
	return fmt.Errorf("%w: beam %q is %s, cannot move to %s", ErrInvalidTransition, id, from, to)
}

// Unavailable marks err as a transient backend failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
