/*
registry.go - Receipt issue and the claim state machine

PURPOSE:
  Turns a purchase into a single-use claim token, and a claim into
  exactly one ledger credit.

EXACTLY-ONCE CREDIT:
  The claim sequence runs inside the customer's critical section and
  uses the receipt's own identity as the ledger external reference:

    1. Load receipt, validate claimant, state, and expiry
    2. Credit the ledger (reference = receipt ID)
    3. Mark the receipt CLAIMED

  If a claim is retried after a partial failure (credited but not yet
  marked), step 2 hits the duplicate-reference guard, the existing
  credit is recovered, and step 3 completes the transition. Either both
  effects happen or neither is observably complete; the ledger never
  carries two credits for one receipt.

REWARD FOLLOW-UP:
  After a successful credit the reward coordinator runs outside the
  critical section, best-effort. Its failure is logged and the credit
  already granted stands.
*/
package receipt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/signer"
)

// DefaultClaimWindow is how long a receipt stays claimable after issue.
const DefaultClaimWindow = 7 * 24 * time.Hour

// RewardReconciler grants any newly completed collectible rewards.
// Implemented by collection.Coordinator.
type RewardReconciler interface {
	Reconcile(ctx context.Context, customer ledger.CustomerID) ([]collection.PuzzleID, error)
}

// Registry manages the receipt lifecycle.
type Registry struct {
	Store      Store
	Balance    *ledger.BalanceService
	Businesses business.Directory
	Signer     signer.Signer
	Rewards    RewardReconciler

	// ClaimWindow overrides DefaultClaimWindow when positive.
	ClaimWindow time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

func NewRegistry(store Store, bal *ledger.BalanceService, dir business.Directory, sig signer.Signer, rewards RewardReconciler) *Registry {
	return &Registry{
		Store:      store,
		Balance:    bal,
		Businesses: dir,
		Signer:     sig,
		Rewards:    rewards,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ClaimResult is what a successful claim returns.
type ClaimResult struct {
	Receipt       Receipt
	Transaction   ledger.Transaction
	TokensEarned  int64
	NewlyUnlocked []collection.PuzzleID
}

// Issue creates a receipt in state ISSUED and returns it with its
// transportable payload. Fails with ledger.ErrNotFound if the business
// is absent or inactive.
func (g *Registry) Issue(ctx context.Context, purchaseRef string, businessID ledger.BusinessID, customerID ledger.CustomerID, usd decimal.Decimal) (Receipt, string, error) {
	if usd.IsNegative() {
		return Receipt{}, "", fmt.Errorf("issue for %s: %w", usd, ledger.ErrInvalidAmount)
	}
	b, err := g.Businesses.GetBusiness(ctx, businessID)
	if err != nil {
		return Receipt{}, "", err
	}
	if !b.Active {
		return Receipt{}, "", fmt.Errorf("business %s inactive: %w", businessID, ledger.ErrNotFound)
	}

	now := g.now()
	r := Receipt{
		ID:          ID(uuid.NewString()),
		PurchaseRef: purchaseRef,
		BusinessID:  businessID,
		CustomerID:  customerID,
		USDAmount:   usd,
		IssuedAt:    now,
		ExpiresAt:   now.Add(g.claimWindow()),
		State:       StateIssued,
	}
	if err := g.Store.PutReceipt(ctx, r); err != nil {
		return Receipt{}, "", err
	}
	return r, EncodePayload(r), nil
}

// Claim converts a payload into a ledger credit, exactly once.
func (g *Registry) Claim(ctx context.Context, payload string, claimant ledger.CustomerID) (ClaimResult, error) {
	p, err := DecodePayload(payload)
	if err != nil {
		return ClaimResult{}, err
	}

	g.Balance.Locks.Lock(claimant)
	result, err := g.claimLocked(ctx, ID(p.ReceiptID), claimant)
	g.Balance.Locks.Unlock(claimant)
	if err != nil {
		return ClaimResult{}, err
	}

	// Best-effort reward follow-up: a failure here never invalidates
	// the credit already recorded.
	if g.Rewards != nil {
		unlocked, rerr := g.Rewards.Reconcile(ctx, claimant)
		if rerr != nil {
			log.Printf("receipt: reward reconcile for %s failed: %v", claimant, rerr)
		} else {
			result.NewlyUnlocked = unlocked
		}
	}
	return result, nil
}

// claimLocked runs the state machine with the claimant's lock held.
func (g *Registry) claimLocked(ctx context.Context, id ID, claimant ledger.CustomerID) (ClaimResult, error) {
	r, err := g.Store.GetReceipt(ctx, id)
	if err != nil {
		return ClaimResult{}, err
	}
	// A receipt is only claimable by the customer it was issued to;
	// anyone else sees it as absent.
	if r.CustomerID != claimant {
		return ClaimResult{}, fmt.Errorf("receipt %s: %w", id, ledger.ErrNotFound)
	}
	if r.State == StateClaimed {
		return ClaimResult{}, fmt.Errorf("receipt %s: %w", id, ledger.ErrAlreadyClaimed)
	}
	now := g.now()
	if r.Expired(now) {
		return ClaimResult{}, fmt.Errorf("receipt %s expired at %s: %w", id, r.ExpiresAt.Format(time.RFC3339), ledger.ErrExpired)
	}

	b, err := g.Businesses.GetBusiness(ctx, r.BusinessID)
	if err != nil {
		return ClaimResult{}, err
	}

	tokens := r.USDAmount.Mul(decimal.NewFromInt(b.TokensPerUSD)).IntPart()
	sigRef, serr := signer.SignOrFallback(ctx, g.Signer, claimant, tokens, "earn")
	if serr != nil {
		log.Printf("receipt: external signer failed for %s, using local reference: %v", claimant, serr)
	}

	tx, err := g.Balance.CreditLocked(ctx, ledger.CreditRequest{
		Customer:     r.CustomerID,
		Business:     r.BusinessID,
		USDAmount:    r.USDAmount,
		TokensPerUSD: b.TokensPerUSD,
		ExternalRef:  string(r.ID),
		Metadata: map[string]string{
			"purchase_ref": r.PurchaseRef,
			"signature":    sigRef,
		},
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// A previous attempt credited the ledger but crashed before the
		// CLAIMED transition. Recover the stored credit and finish.
		tx, err = g.Balance.Store.ByReference(ctx, string(r.ID))
	}
	if err != nil {
		return ClaimResult{}, err
	}

	if err := g.Store.MarkClaimed(ctx, r.ID, now); err != nil {
		return ClaimResult{}, err
	}
	r.State = StateClaimed
	r.ClaimedAt = &now

	return ClaimResult{Receipt: r, Transaction: tx, TokensEarned: tx.Points}, nil
}

// ForCustomer returns the customer's receipts for history views.
func (g *Registry) ForCustomer(ctx context.Context, customerID ledger.CustomerID) ([]Receipt, error) {
	return g.Store.ReceiptsByCustomer(ctx, customerID)
}

// ForBusiness returns a business's issued receipts.
func (g *Registry) ForBusiness(ctx context.Context, businessID ledger.BusinessID) ([]Receipt, error) {
	return g.Store.ReceiptsByBusiness(ctx, businessID)
}

func (g *Registry) claimWindow() time.Duration {
	if g.ClaimWindow > 0 {
		return g.ClaimWindow
	}
	return DefaultClaimWindow
}
