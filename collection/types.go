/*
Package collection manages collectible puzzle rewards and their
ownership records.

PURPOSE:
  A puzzle is one fragment of a collectible picture, laid out on a grid
  with a rarity tier. Customers obtain puzzles two ways: an achievement
  reaching 100% unlocks its linked puzzle, or a priced puzzle is bought
  outright with points. Either way, ownership is recorded at most once
  per (customer, puzzle) pair - granting is idempotent.

SEE ALSO:
  - coordinator.go: Unlock reconciliation, purchase, collection status
*/
package collection

import (
	"context"
	"time"

	"github.com/warp/loyalty-engine/ledger"
)

type PuzzleID string
type OwnershipID string

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// ValidRarity reports whether r is one of the four tiers.
func ValidRarity(r Rarity) bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// Puzzle is read-only reference data describing one collectible.
type Puzzle struct {
	ID     PuzzleID
	Name   string
	GridX  int
	GridY  int
	Rarity Rarity

	// PriceTokens, when positive, allows buying this puzzle with
	// points. Zero means achievement-unlock only.
	PriceTokens int64

	Active bool
}

// Ownership records that a customer holds a puzzle. At most one per
// (customer, puzzle).
type Ownership struct {
	ID          OwnershipID
	CustomerID  ledger.CustomerID
	PuzzleID    PuzzleID
	GrantedAt   time.Time
	ExternalRef string
}

// PuzzleStore holds the puzzle catalog.
type PuzzleStore interface {
	// PutPuzzle registers or replaces a puzzle (catalog loading).
	PutPuzzle(ctx context.Context, p Puzzle) error

	// GetPuzzle returns the puzzle or ledger.ErrNotFound.
	GetPuzzle(ctx context.Context, id PuzzleID) (Puzzle, error)

	// ListActivePuzzles returns every active puzzle.
	ListActivePuzzles(ctx context.Context) ([]Puzzle, error)
}

// OwnershipStore records grants.
type OwnershipStore interface {
	// Grant records ownership. Granting an already-held puzzle returns
	// the existing record with created=false: a duplicate grant is a
	// no-op, never an error.
	Grant(ctx context.Context, o Ownership) (stored Ownership, created bool, err error)

	// Owns checks whether the customer holds the puzzle.
	Owns(ctx context.Context, customer ledger.CustomerID, puzzle PuzzleID) (bool, error)

	// OwnershipsByCustomer returns the customer's ownerships.
	OwnershipsByCustomer(ctx context.Context, customer ledger.CustomerID) ([]Ownership, error)
}
