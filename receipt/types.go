/*
Package receipt manages single-use claim tokens.

PURPOSE:
  A receipt binds a purchase at a business to a future point credit for
  a customer. It is issued with an externally transportable payload (the
  contents of a QR code), and a claim against that payload produces
  exactly one EARN transaction on the ledger.

LIFECYCLE:
  ISSUED --claim--> CLAIMED        (at most once, ever)

  Expiry is evaluated lazily at claim time against the wall clock; an
  expired receipt keeps its ISSUED state and simply refuses claims.
  Receipts are never deleted - they remain for audit and history.

SEE ALSO:
  - payload.go: The opaque claim payload codec
  - registry.go: Issue and the claim state machine
*/
package receipt

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
)

type ID string

type State string

const (
	StateIssued  State = "ISSUED"
	StateClaimed State = "CLAIMED"
)

// Receipt is a single-use claim token.
type Receipt struct {
	ID          ID
	PurchaseRef string
	BusinessID  ledger.BusinessID
	CustomerID  ledger.CustomerID
	USDAmount   decimal.Decimal
	IssuedAt    time.Time
	ExpiresAt   time.Time
	State       State
	ClaimedAt   *time.Time
}

// Expired reports whether the receipt is past its expiry at the given
// instant. Expiry never mutates state; it only blocks claims.
func (r Receipt) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store persists receipts. Receipts are created once, transitioned to
// CLAIMED at most once, and never deleted.
type Store interface {
	// PutReceipt persists a newly issued receipt.
	PutReceipt(ctx context.Context, r Receipt) error

	// GetReceipt returns the receipt or ledger.ErrNotFound.
	GetReceipt(ctx context.Context, id ID) (Receipt, error)

	// MarkClaimed transitions ISSUED -> CLAIMED, recording the claim
	// time. Returns ledger.ErrAlreadyClaimed if the receipt is not in
	// state ISSUED.
	MarkClaimed(ctx context.Context, id ID, at time.Time) error

	// ReceiptsByCustomer returns the customer's receipts, newest first.
	ReceiptsByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]Receipt, error)

	// ReceiptsByBusiness returns a business's receipts, newest first.
	ReceiptsByBusiness(ctx context.Context, businessID ledger.BusinessID) ([]Receipt, error)
}
