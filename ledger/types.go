/*
Package ledger provides the core loyalty-points engine.

PURPOSE:
  This package contains the types and services for tracking customer
  loyalty points. Points are never stored as a mutable counter: every
  balance is derived by replaying an append-only log of transactions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry recording an EARN or REDEEM
  - Kind: The two transaction kinds (EARN adds points, REDEEM removes)
  - Customer/Business/Transaction IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never updated or deleted
  2. Precision: USD amounts use decimal.Decimal, points are integers
  3. Idempotence: Every append carries an external reference; reusing
     a reference is rejected, which makes caller retries safe
  4. Derivation: Balance is a pure function of the transaction log

SEE ALSO:
  - balance.go: Balance calculation and credit/debit arbitration
  - store.go: Persistence interface
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type BusinessID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to a customer's point balance
// =============================================================================

type Kind string

const (
	KindEarn   Kind = "EARN"   // Points credited from a purchase
	KindRedeem Kind = "REDEEM" // Points spent on a discount or reward
)

// Transaction is an immutable ledger entry. Once appended it is never
// modified or deleted; corrections would be new entries, not edits.
type Transaction struct {
	ID         TransactionID
	CustomerID CustomerID
	BusinessID BusinessID
	Kind       Kind

	// USDAmount is the purchase (EARN) or discount (REDEEM) value.
	// Always non-negative.
	USDAmount decimal.Decimal

	// Points is the number of loyalty points moved. Always non-negative;
	// the Kind determines the sign when deriving a balance.
	Points int64

	// ExternalRef is an opaque reference supplied by the caller or by an
	// external signer. Unique across the ledger when present, which is
	// what makes retried appends idempotent.
	ExternalRef string

	Metadata  map[string]string
	CreatedAt time.Time
}

// Signed returns the point delta this transaction applies to a balance.
func (t Transaction) Signed() int64 {
	if t.Kind == KindRedeem {
		return -t.Points
	}
	return t.Points
}
