package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestBalanceService() (*ledger.BalanceService, *memory.Store) {
	store := memory.New()
	return ledger.NewBalanceService(store, ledger.NewCustomerLocks()), store
}

func creditReq(customer string, usd string, rate int64, ref string) ledger.CreditRequest {
	return ledger.CreditRequest{
		Customer:     ledger.CustomerID(customer),
		Business:     "b-espresso",
		USDAmount:    decimal.RequireFromString(usd),
		TokensPerUSD: rate,
		ExternalRef:  ref,
	}
}

// =============================================================================
// CONVERSION TESTS
// =============================================================================

func TestCredit_PointsAreFloorOfUSDTimesRate(t *testing.T) {
	// GIVEN: A business crediting 10 tokens per dollar
	// WHEN: A $15.50 purchase is credited ten times
	// THEN: Each credit is worth exactly 155 points

	svc, _ := newTestBalanceService()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tx, err := svc.Credit(ctx, creditReq("cust-1", "15.50", 10, fmt.Sprintf("ref-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, int64(155), tx.Points)
	}

	balance, err := svc.BalanceOf(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1550), balance)
}

func TestCredit_FractionalPointsTruncate(t *testing.T) {
	svc, _ := newTestBalanceService()

	// 10.99 * 10 = 109.9 -> 109 points
	tx, err := svc.Credit(context.Background(), creditReq("cust-1", "10.99", 10, "ref-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(109), tx.Points)
}

func TestCredit_NegativeAmountRejected(t *testing.T) {
	svc, _ := newTestBalanceService()

	_, err := svc.Credit(context.Background(), creditReq("cust-1", "-5.00", 10, "ref-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestDiscountAmount_HundredPointsPerDollar(t *testing.T) {
	assert.True(t, decimal.RequireFromString("1.5").Equal(ledger.DiscountAmount(150)))
	assert.True(t, decimal.RequireFromString("0.01").Equal(ledger.DiscountAmount(1)))
}

// =============================================================================
// DEBIT TESTS
// =============================================================================

func TestDebit_InsufficientBalanceRejected(t *testing.T) {
	// GIVEN: A customer with 100 points
	// WHEN: Debiting 150 points
	// THEN: The debit is rejected and the ledger is untouched

	svc, store := newTestBalanceService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, creditReq("cust-1", "10.00", 10, "ref-1"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, ledger.DebitRequest{
		Customer: "cust-1",
		Business: "b-espresso",
		Points:   150,
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Available)
	assert.Equal(t, int64(150), insufficient.Requested)

	txs, err := store.ByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "failed debit must not append")

	balance, err := svc.BalanceOf(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestDebit_ExactBalanceAllowed(t *testing.T) {
	svc, _ := newTestBalanceService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, creditReq("cust-1", "10.00", 10, "ref-1"))
	require.NoError(t, err)

	tx, err := svc.Debit(ctx, ledger.DebitRequest{Customer: "cust-1", Business: "b-espresso", Points: 100})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindRedeem, tx.Kind)

	balance, err := svc.BalanceOf(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestDebit_NonPositivePointsRejected(t *testing.T) {
	svc, _ := newTestBalanceService()

	_, err := svc.Debit(context.Background(), ledger.DebitRequest{Customer: "cust-1", Points: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// IDEMPOTENCE TESTS
// =============================================================================

func TestCredit_DuplicateReferenceRejected(t *testing.T) {
	// GIVEN: A credit recorded under reference "receipt-1"
	// WHEN: A second credit reuses the reference
	// THEN: The append is rejected and the stored entry is recoverable

	svc, store := newTestBalanceService()
	ctx := context.Background()

	first, err := svc.Credit(ctx, creditReq("cust-1", "15.50", 10, "receipt-1"))
	require.NoError(t, err)

	_, err = svc.Credit(ctx, creditReq("cust-1", "15.50", 10, "receipt-1"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)

	stored, err := store.ByReference(ctx, "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)

	balance, err := svc.BalanceOf(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(155), balance, "retry must not double-credit")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestBalance_ConcurrentCreditsAllLand(t *testing.T) {
	// GIVEN: 50 goroutines crediting the same customer
	// WHEN: All complete
	// THEN: The balance is exactly the sum of all credits

	svc, _ := newTestBalanceService()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Credit(ctx, creditReq("cust-1", "1.00", 10, fmt.Sprintf("ref-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := svc.BalanceOf(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n*10), balance)
}

func TestBalance_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	// GIVEN: A customer with 100 points
	// WHEN: 10 goroutines each try to debit 60 points
	// THEN: Exactly one succeeds; the rest see insufficient balance

	svc, _ := newTestBalanceService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, creditReq("cust-1", "10.00", 10, "seed"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, ledger.DebitRequest{
				Customer:    "cust-1",
				Business:    "b-espresso",
				Points:      60,
				ExternalRef: fmt.Sprintf("debit-%d", i),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			rejected++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, rejected)

	balance, err := svc.BalanceOf(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance, "balance must never go negative")
}

func TestBalance_IndependentCustomersDoNotInterfere(t *testing.T) {
	svc, _ := newTestBalanceService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for c := 0; c < 5; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			customer := fmt.Sprintf("cust-%d", c)
			for i := 0; i < 10; i++ {
				_, err := svc.Credit(ctx, creditReq(customer, "2.00", 10, fmt.Sprintf("%s-ref-%d", customer, i)))
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < 5; c++ {
		balance, err := svc.BalanceOf(ctx, ledger.CustomerID(fmt.Sprintf("cust-%d", c)))
		require.NoError(t, err)
		assert.Equal(t, int64(200), balance)
	}
}
