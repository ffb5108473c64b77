package lab

import "errors"

// Domain errors for the lab package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, lab.ErrInvalidID) {
//	    // reject the request as input-validation failure
//	}
var (
	// ErrInvalidID is returned when a raw identifier fails normalisation.
	ErrInvalidID = errors.New("lab: invalid identifier")

	// ErrNotRegistered is returned when a normalised identifier is not in
	// the registry.
	ErrNotRegistered = errors.New("lab: not registered")
)
