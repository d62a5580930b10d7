/*
balance.go - Balance derivation and credit/debit arbitration

PURPOSE:
  Computes a customer's current point balance from the ledger and gates
  REDEEM appends against it. This is the central calculation that answers
  "how many points does this customer have?"

KEY INSIGHT:
  Balance is always derived by summing the transaction log. There is no
  cached counter that can drift: identical ledger contents always produce
  identical balances, regardless of call order or concurrency.

CONCURRENCY:
  The check-then-append sequence in Debit must be atomic per customer,
  or two concurrent debits could both pass the balance check and
  overdraw. Credit and Debit therefore run inside the customer's
  critical section (CustomerLocks). Collaborating services that need a
  wider critical section (receipt claims, reward purchases) share the
  same locks and call the *Locked variants.

SEE ALSO:
  - locks.go: Per-customer serialization
  - store.go: The append-only persistence interface
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE SERVICE
// =============================================================================

// BalanceService derives balances and arbitrates appends.
type BalanceService struct {
	Store Store
	Locks *CustomerLocks
}

func NewBalanceService(store Store, locks *CustomerLocks) *BalanceService {
	return &BalanceService{Store: store, Locks: locks}
}

// CreditRequest asks for an EARN append.
type CreditRequest struct {
	Customer     CustomerID
	Business     BusinessID
	USDAmount    decimal.Decimal
	TokensPerUSD int64
	ExternalRef  string
	Metadata     map[string]string
}

// DebitRequest asks for a REDEEM append.
type DebitRequest struct {
	Customer    CustomerID
	Business    BusinessID
	Points      int64
	ExternalRef string
	Metadata    map[string]string
}

// BalanceOf computes the current balance: sum of EARN points minus sum
// of REDEEM points over the customer's full ledger.
func (s *BalanceService) BalanceOf(ctx context.Context, customer CustomerID) (int64, error) {
	txs, err := s.Store.ByCustomer(ctx, customer)
	if err != nil {
		return 0, err
	}
	var balance int64
	for _, tx := range txs {
		balance += tx.Signed()
	}
	return balance, nil
}

// Credit appends an EARN transaction worth floor(usd * rate) points.
// Returns ErrDuplicateReference if the external reference was already
// used; callers treat that as a completed retry and re-fetch.
func (s *BalanceService) Credit(ctx context.Context, req CreditRequest) (Transaction, error) {
	s.Locks.Lock(req.Customer)
	defer s.Locks.Unlock(req.Customer)
	return s.CreditLocked(ctx, req)
}

// CreditLocked is Credit for callers already inside the customer's
// critical section.
func (s *BalanceService) CreditLocked(ctx context.Context, req CreditRequest) (Transaction, error) {
	if req.USDAmount.IsNegative() {
		return Transaction{}, fmt.Errorf("credit of %s: %w", req.USDAmount, ErrInvalidAmount)
	}
	if req.TokensPerUSD < 0 {
		return Transaction{}, fmt.Errorf("rate %d: %w", req.TokensPerUSD, ErrInvalidAmount)
	}

	points := req.USDAmount.Mul(decimal.NewFromInt(req.TokensPerUSD)).IntPart()

	tx := Transaction{
		ID:          TransactionID(uuid.NewString()),
		CustomerID:  req.Customer,
		BusinessID:  req.Business,
		Kind:        KindEarn,
		USDAmount:   req.USDAmount,
		Points:      points,
		ExternalRef: req.ExternalRef,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.Store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Debit appends a REDEEM transaction after checking the balance. The
// check and the append are atomic per customer: concurrent debits for
// the same customer cannot both succeed against a balance that is
// insufficient for their sum.
func (s *BalanceService) Debit(ctx context.Context, req DebitRequest) (Transaction, error) {
	s.Locks.Lock(req.Customer)
	defer s.Locks.Unlock(req.Customer)
	return s.DebitLocked(ctx, req)
}

// DebitLocked is Debit for callers already inside the customer's
// critical section.
func (s *BalanceService) DebitLocked(ctx context.Context, req DebitRequest) (Transaction, error) {
	if req.Points <= 0 {
		return Transaction{}, fmt.Errorf("debit of %d points: %w", req.Points, ErrInvalidAmount)
	}

	balance, err := s.BalanceOf(ctx, req.Customer)
	if err != nil {
		return Transaction{}, err
	}
	if req.Points > balance {
		return Transaction{}, &InsufficientBalanceError{
			CustomerID: req.Customer,
			Available:  balance,
			Requested:  req.Points,
		}
	}

	tx := Transaction{
		ID:          TransactionID(uuid.NewString()),
		CustomerID:  req.Customer,
		BusinessID:  req.Business,
		Kind:        KindRedeem,
		USDAmount:   DiscountAmount(req.Points),
		Points:      req.Points,
		ExternalRef: req.ExternalRef,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.Store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// =============================================================================
// DISCOUNT CONVERSION
// =============================================================================

// DiscountAmount converts redeemed points to a discount value in USD at
// the fixed rate of 100 points per dollar.
func DiscountAmount(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Div(decimal.NewFromInt(100))
}
