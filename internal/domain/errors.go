package domain

import "errors"

// Error kinds for the guard engine. Every public operation either succeeds
// fully or fails with exactly one of these kinds; callers use errors.Is to
// distinguish retryable failures (ErrOracle) from permanent ones.
var (
	// ErrValidation indicates a rejected input: threshold at or below 100%,
	// amount below the minimum order size, trailing percent outside (0, 50],
	// or price levels ordered inconsistently with the current price.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates the caller's proof does not authorize the
	// operation, or the caller is not the record owner.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrState indicates an operation against a record in the wrong state:
	// unknown id, non-Active record, or double initialization.
	ErrState = errors.New("invalid state")

	// ErrOracle indicates missing or stale price data. Retryable.
	ErrOracle = errors.New("oracle failure")

	// ErrArithmetic indicates a computation that would divide by a
	// zero-valued denominator, e.g. a zero borrowed value.
	ErrArithmetic = errors.New("arithmetic failure")
)
