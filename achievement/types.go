/*
Package achievement evaluates customer progress against declared
achievement conditions.

PURPOSE:
  An achievement is a declarative condition over the customer's EARN
  history - transaction count, cumulative spend, distinct business
  categories, or any combination. Progress is a percentage in [0,100],
  recomputed on demand from the ledger alone. Because the ledger is
  append-only and amounts are non-negative, progress for a fixed
  customer+achievement never decreases.

CACHING:
  Last-known progress may be cached (ProgressStore) so evaluation can
  report the delta and identify newly crossed 100% thresholds. The
  cache is an optimization, never authoritative: dropping it loses
  nothing but the deltas.

SEE ALSO:
  - evaluator.go: The progress formulas
*/
package achievement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
)

type ID string

// Condition describes what a customer must do. Zero-valued fields are
// inactive; when several are set, all must be satisfied (compound
// progress is the minimum of the sub-progress values).
type Condition struct {
	// MinTransactions requires at least this many EARN transactions.
	MinTransactions int

	// MinSpentUSD requires at least this cumulative EARN spend.
	MinSpentUSD decimal.Decimal

	// Categories requires at least one EARN transaction at a business
	// in each listed category.
	Categories []string
}

// IsZero reports whether no sub-condition is set.
func (c Condition) IsZero() bool {
	return c.MinTransactions == 0 && c.MinSpentUSD.IsZero() && len(c.Categories) == 0
}

// Definition is read-only reference data describing one achievement.
type Definition struct {
	ID          ID
	Name        string
	Description string
	Condition   Condition

	// RewardPuzzleID links the collectible granted at 100%. Empty for
	// achievements that are badges only. Kept as a plain string so this
	// package stays independent of the collection layer that consumes it.
	RewardPuzzleID string

	Active bool
}

// DefinitionStore holds the declared achievements.
type DefinitionStore interface {
	// PutDefinition registers or replaces a definition (catalog loading).
	PutDefinition(ctx context.Context, def Definition) error

	// GetDefinition returns the definition or ledger.ErrNotFound.
	GetDefinition(ctx context.Context, id ID) (Definition, error)

	// ListActiveDefinitions returns every active definition.
	ListActiveDefinitions(ctx context.Context) ([]Definition, error)
}

// ProgressStore caches last-known progress per (customer, achievement).
type ProgressStore interface {
	// GetProgress returns the cached value, or 0 if none is recorded.
	GetProgress(ctx context.Context, customer ledger.CustomerID, id ID) (int, error)

	// PutProgress records the latest computed value.
	PutProgress(ctx context.Context, customer ledger.CustomerID, id ID, progress int) error
}
