/*
coordinator.go - Reward unlocking, purchase, and collection status

PURPOSE:
  Grants collectibles exactly once. Reconcile walks the customer's
  achievement progress and grants the puzzle linked to every completed
  achievement that is not yet owned. Purchase is the parallel path:
  debit the puzzle's point price, then grant. Both paths converge on
  the single idempotent OwnershipStore.Grant - there is no second
  "grant puzzle" code path anywhere.

CONCURRENCY:
  Reconcile and Purchase run inside the customer's critical section, so
  a check ("already owned?") and its grant are atomic with respect to
  other operations on the same customer. The ownership store's
  uniqueness constraint backs this up: even racing writers cannot
  produce two records for one (customer, puzzle) pair.
*/
package collection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/signer"
)

// Coordinator grants collectibles when achievements complete or points
// are spent on them.
type Coordinator struct {
	Puzzles    PuzzleStore
	Ownerships OwnershipStore
	Evaluator  *achievement.Evaluator
	Balance    *ledger.BalanceService
	Signer     signer.Signer

	// now is swappable for tests.
	now func() time.Time
}

func NewCoordinator(puzzles PuzzleStore, owns OwnershipStore, eval *achievement.Evaluator, bal *ledger.BalanceService, sig signer.Signer) *Coordinator {
	return &Coordinator{
		Puzzles:    puzzles,
		Ownerships: owns,
		Evaluator:  eval,
		Balance:    bal,
		Signer:     sig,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile grants the puzzle behind every achievement at 100% that the
// customer does not yet own, and returns the newly granted puzzle IDs.
// Safe to call any number of times; repeat and concurrent calls are
// no-ops for already granted puzzles.
func (c *Coordinator) Reconcile(ctx context.Context, customer ledger.CustomerID) ([]PuzzleID, error) {
	c.Balance.Locks.Lock(customer)
	defer c.Balance.Locks.Unlock(customer)

	evals, err := c.Evaluator.EvaluateAll(ctx, customer)
	if err != nil {
		return nil, err
	}

	var granted []PuzzleID
	for _, ev := range evals {
		if !ev.Completed() || ev.Definition.RewardPuzzleID == "" {
			continue
		}
		puzzleID := PuzzleID(ev.Definition.RewardPuzzleID)

		p, err := c.Puzzles.GetPuzzle(ctx, puzzleID)
		if err != nil {
			// A definition pointing at a missing puzzle is a catalog
			// bug; skip it rather than fail every other grant.
			log.Printf("collection: achievement %s links missing puzzle %s", ev.Definition.ID, puzzleID)
			continue
		}
		if !p.Active {
			continue
		}

		_, created, err := c.grant(ctx, customer, puzzleID)
		if err != nil {
			return granted, err
		}
		if created {
			granted = append(granted, puzzleID)
		}
	}
	return granted, nil
}

// Purchase buys a priced puzzle with points. The debit and the grant
// run in the customer's critical section; a failed debit grants
// nothing and surfaces to the caller.
func (c *Coordinator) Purchase(ctx context.Context, customer ledger.CustomerID, puzzleID PuzzleID) (Ownership, error) {
	c.Balance.Locks.Lock(customer)
	defer c.Balance.Locks.Unlock(customer)

	p, err := c.Puzzles.GetPuzzle(ctx, puzzleID)
	if err != nil {
		return Ownership{}, err
	}
	if !p.Active {
		return Ownership{}, fmt.Errorf("puzzle %s inactive: %w", puzzleID, ledger.ErrNotFound)
	}
	if p.PriceTokens <= 0 {
		return Ownership{}, fmt.Errorf("puzzle %s is not purchasable: %w", puzzleID, ledger.ErrNotFound)
	}

	owned, err := c.Ownerships.Owns(ctx, customer, puzzleID)
	if err != nil {
		return Ownership{}, err
	}
	if owned {
		return Ownership{}, fmt.Errorf("puzzle %s: %w", puzzleID, ledger.ErrAlreadyOwned)
	}

	_, err = c.Balance.DebitLocked(ctx, ledger.DebitRequest{
		Customer:    customer,
		Points:      p.PriceTokens,
		ExternalRef: purchaseRef(customer, puzzleID),
		Metadata:    map[string]string{"puzzle_id": string(puzzleID)},
	})
	// A duplicate reference means an earlier attempt already paid but
	// crashed before the grant. The grant below completes the retry.
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return Ownership{}, err
	}

	o, _, err := c.grant(ctx, customer, puzzleID)
	return o, err
}

// Status reports owned versus total active puzzles.
type Status struct {
	Owned                []Puzzle
	Missing              []Puzzle
	CompletionPercentage float64
	Complete             bool
}

// Status computes the customer's collection completion.
func (c *Coordinator) Status(ctx context.Context, customer ledger.CustomerID) (Status, error) {
	all, err := c.Puzzles.ListActivePuzzles(ctx)
	if err != nil {
		return Status{}, err
	}
	ownerships, err := c.Ownerships.OwnershipsByCustomer(ctx, customer)
	if err != nil {
		return Status{}, err
	}
	held := make(map[PuzzleID]bool, len(ownerships))
	for _, o := range ownerships {
		held[o.PuzzleID] = true
	}

	var st Status
	for _, p := range all {
		if held[p.ID] {
			st.Owned = append(st.Owned, p)
		} else {
			st.Missing = append(st.Missing, p)
		}
	}
	if len(all) > 0 {
		st.CompletionPercentage = 100 * float64(len(st.Owned)) / float64(len(all))
	}
	st.Complete = len(all) > 0 && len(st.Missing) == 0
	return st, nil
}

// purchaseRef builds the deterministic debit reference for a purchase.
// The length prefix keeps distinct (customer, puzzle) pairs from
// colliding even when IDs themselves contain separators.
func purchaseRef(customer ledger.CustomerID, puzzleID PuzzleID) string {
	return fmt.Sprintf("puzzle:%d:%s:%s", len(puzzleID), puzzleID, customer)
}

// grant is the single idempotent grant operation both paths use.
func (c *Coordinator) grant(ctx context.Context, customer ledger.CustomerID, puzzleID PuzzleID) (Ownership, bool, error) {
	ref, serr := signer.SignOrFallback(ctx, c.Signer, customer, 0, "grant")
	if serr != nil {
		log.Printf("collection: external signer failed for %s, using local reference: %v", customer, serr)
	}
	return c.Ownerships.Grant(ctx, Ownership{
		ID:          OwnershipID(uuid.NewString()),
		CustomerID:  customer,
		PuzzleID:    puzzleID,
		GrantedAt:   c.now(),
		ExternalRef: ref,
	})
}
