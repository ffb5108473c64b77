package override

import "errors"

// Domain errors for the override package.
var (
	// ErrInvalidStatus is returned when a status value is not "online" or "offline".
	ErrInvalidStatus = errors.New("override: invalid status")

	// ErrPersist is returned when the in-memory mutation succeeded but the
	// durable write failed. Callers log it; they must not surface it to
	// HTTP clients or roll back the change (availability over durability).
	ErrPersist = errors.New("override: persist failed")
)
