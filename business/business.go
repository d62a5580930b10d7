/*
Package business is the boundary to the business registry.

Registration, profile management, and activation workflows live outside
this system; the core only consumes existence/activity checks, the
category (for achievement conditions), and the points-per-dollar rate
(for credit calculation).
*/
package business

import (
	"context"

	"github.com/warp/loyalty-engine/ledger"
)

// Business is the read-only view the core consumes.
type Business struct {
	ID                 ledger.BusinessID
	Name               string
	Category           string
	TokensPerUSD       int64
	MaxDiscountPercent int
	Active             bool
}

// Directory looks up businesses. Implementations: store/memory for
// tests, store/sqlite for production.
type Directory interface {
	// GetBusiness returns the business or ledger.ErrNotFound.
	GetBusiness(ctx context.Context, id ledger.BusinessID) (Business, error)

	// PutBusiness registers or replaces a business record. Used by
	// catalog loading, not exposed as a core operation.
	PutBusiness(ctx context.Context, b Business) error
}
