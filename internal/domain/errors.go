package domain

import "errors"

var (
	// ErrNotFound signals a missing row (outbox entry, notification, device token).
	ErrNotFound = errors.New("not found")

	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("validation error")

	// ErrConflict signals a state transition that lost against a concurrent update.
	ErrConflict = errors.New("conflict")
)
