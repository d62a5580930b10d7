/*
store.go - Persistence interface for the transaction ledger

PURPOSE:
  Defines the interface between the balance logic and the database.
  The Store maintains append-only semantics: there is no Update and no
  Delete, only Append and reads.

IDEMPOTENCY:
  Appends with an external reference are rejected if the reference is
  already present. This lets callers retry safely: a duplicate rejection
  means the earlier attempt succeeded, and ByReference recovers it.

IMPLEMENTATIONS:
  - store/memory: In-memory maps for tests and development
  - store/sqlite: Production SQLite with a UNIQUE index on the reference

SEE ALSO:
  - balance.go: The only writer of this store
*/
package ledger

import "context"

// Store handles persistence of ledger transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateReference if
	// the transaction carries an external reference that already exists.
	// This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// ByCustomer returns all transactions for a customer in creation
	// order. Read-only.
	ByCustomer(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// ByReference returns the transaction carrying the given external
	// reference, or ErrNotFound. Used to recover the stored record after
	// a duplicate-reference rejection.
	ByReference(ctx context.Context, ref string) (Transaction, error)

	// RefExists checks whether an external reference is already present.
	RefExists(ctx context.Context, ref string) (bool, error)
}
