package storage

import "errors"

// Registry storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	// Reads of an unknown id are a lookup failure, never a default value.
	ErrNotFound = errors.New("not found")

	// ErrNotActive is returned by a terminal transition attempted against a
	// record that already left the ACTIVE state. This is what makes
	// duplicate liquidation/execution calls fail cleanly instead of
	// double-applying effects.
	ErrNotActive = errors.New("record not active")

	// ErrUserCap is returned when an insertion would exceed the per-user
	// order cap. The registry rejects the insertion, it never evicts.
	ErrUserCap = errors.New("per-user order cap exceeded")

	// ErrLeaseExpired is returned for a record whose storage lease lapsed.
	// The record is eligible for host-side archival and needs
	// re-materialization before further access.
	ErrLeaseExpired = errors.New("storage lease expired")

	// ErrAlreadyInitialized is returned on a second initialization attempt.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
