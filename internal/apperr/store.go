package apperr

import (
	"errors"

	"specsync/api/internal/store"
)

// FromStore converts a store error into the caller-facing kind: missing rows
// become NotFound for what, connection and deadline failures become
// Transient. Other errors are returned unchanged.
func FromStore(err error, what string) error {
	var appErr *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return NotFound(what)
	case store.IsTransient(err):
		return Transient(err)
	default:
		return err
	}
}
