/*
Package signer is the boundary to the external token-custody network.

The signer stamps transactions and ownership grants with a reference
string. It is treated as opaque: it may be slow or fail, and its outcome
never decides ledger correctness. When the external call errors or times
out, services fall back to a locally generated reference and carry on.
*/
package signer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/loyalty-engine/ledger"
)

// Signer returns an opaque reference for (customer, amount, purpose).
type Signer interface {
	Sign(ctx context.Context, customer ledger.CustomerID, amount int64, purpose string) (string, error)
}

// Local generates references locally and never fails. It is both the
// development signer and the fallback when an external signer errors.
type Local struct{}

func (Local) Sign(_ context.Context, _ ledger.CustomerID, _ int64, purpose string) (string, error) {
	return fmt.Sprintf("local-%s-%s", purpose, uuid.NewString()), nil
}

// SignOrFallback asks s for a reference and substitutes a local one on
// failure. The error, if any, is returned alongside so callers can log
// it; the reference is always usable.
func SignOrFallback(ctx context.Context, s Signer, customer ledger.CustomerID, amount int64, purpose string) (string, error) {
	if s == nil {
		ref, _ := Local{}.Sign(ctx, customer, amount, purpose)
		return ref, nil
	}
	ref, err := s.Sign(ctx, customer, amount, purpose)
	if err != nil {
		ref, _ = Local{}.Sign(ctx, customer, amount, purpose)
		return ref, err
	}
	return ref, nil
}
