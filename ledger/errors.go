/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Other packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Idempotence errors - Duplicate external references (safe to retry)
  2. Balance errors - Redemption rejected, no state change
  3. Lookup errors - Referenced record absent
  4. Receipt lifecycle errors - Claim attempted on a terminal receipt

USAGE:
  if errors.Is(err, ledger.ErrDuplicateReference) {
      // Already recorded; re-fetch the existing transaction.
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateReference is returned when a transaction with the same
	// external reference already exists. This is expected for retries:
	// the caller can re-fetch the stored record and treat it as success.
	ErrDuplicateReference = errors.New("duplicate external reference")

	// ErrInsufficientBalance is returned when a debit exceeds the
	// customer's current balance. Nothing is appended.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned when a referenced business, receipt,
	// puzzle, or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned when claiming a receipt that has
	// already been claimed. Terminal for that receipt.
	ErrAlreadyClaimed = errors.New("receipt already claimed")

	// ErrExpired is returned when claiming a receipt past its expiry.
	ErrExpired = errors.New("receipt expired")

	// ErrMalformedPayload is returned when an untrusted claim payload
	// cannot be decoded or carries the wrong type tag. The caller can
	// recover by presenting a freshly issued payload.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrAlreadyOwned is returned when purchasing a puzzle the customer
	// already holds. Grants via reconciliation are idempotent instead.
	ErrAlreadyOwned = errors.New("puzzle already owned")

	// ErrInvalidAmount is returned for negative or otherwise nonsensical
	// amounts before anything touches the ledger.
	ErrInvalidAmount = errors.New("invalid amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how short a debit fell.
type InsufficientBalanceError struct {
	CustomerID CustomerID
	Available  int64
	Requested  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a rejected-but-harmless operation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrAlreadyOwned) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
