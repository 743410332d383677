// Package apperr defines the error taxonomy shared by the pool lifecycle,
// ledger, and dashboard components. Callers match with errors.Is; the API
// layer maps each class to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionFailed means the caller has no wallet on record.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConflict means a creation attempt collided with a verified-live
	// on-chain pool.
	ErrConflict = errors.New("pool already exists")

	// ErrVerificationUnavailable means a chain read failed and the
	// operation was aborted rather than guessing at on-chain state.
	ErrVerificationUnavailable = errors.New("chain verification unavailable")

	// ErrNoOnChainPool means the factory reports no pool for this creator.
	ErrNoOnChainPool = errors.New("no on-chain pool found")

	// ErrNotFound means the referenced pool row does not exist.
	ErrNotFound = errors.New("pool not found")

	// ErrForbidden means the caller does not own the pool for the
	// requested chain.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal means an unexpected store or arithmetic failure, such
	// as a ledger replay producing a negative balance.
	ErrInternal = errors.New("internal error")
)

// Wrap annotates a taxonomy error with call-site detail while keeping it
// matchable with errors.Is.
func Wrap(class error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{class}, args...)...)
}
