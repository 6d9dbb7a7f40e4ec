package storage

import "errors"

// Storage errors. Swap records are never deleted; only their status moves.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleStatus is returned by Transition when the stored status is not
	// the expected one (another transition won).
	ErrStaleStatus = errors.New("stale status: swap already transitioned")
)
