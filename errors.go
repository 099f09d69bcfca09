package baton

import "errors"

var (
	// Not found errors.
	ErrJobNotFound = errors.New("baton: job not found")

	// State errors.
	ErrJobNotDeadLettered = errors.New("baton: job is not dead-lettered")
	ErrInvalidState       = errors.New("baton: invalid state transition")

	// Store errors.
	ErrStoreClosed = errors.New("baton: store closed")
)
