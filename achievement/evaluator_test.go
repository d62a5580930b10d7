package achievement_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEvaluator(t *testing.T) (*achievement.Evaluator, *ledger.BalanceService, *memory.Store) {
	store := memory.New()
	eval := achievement.NewEvaluator(store, store, store, store)
	balance := ledger.NewBalanceService(store, ledger.NewCustomerLocks())

	ctx := context.Background()
	for _, b := range []business.Business{
		{ID: "b-coffee", Name: "Daily Grind", Category: "coffee", TokensPerUSD: 10, Active: true},
		{ID: "b-bakery", Name: "Morning Crumb", Category: "bakery", TokensPerUSD: 10, Active: true},
		{ID: "b-books", Name: "Spine & Leaf", Category: "books", TokensPerUSD: 5, Active: true},
	} {
		require.NoError(t, store.PutBusiness(ctx, b))
	}
	return eval, balance, store
}

func earn(t *testing.T, bal *ledger.BalanceService, customer, biz, usd, ref string) {
	t.Helper()
	_, err := bal.Credit(context.Background(), ledger.CreditRequest{
		Customer:     ledger.CustomerID(customer),
		Business:     ledger.BusinessID(biz),
		USDAmount:    decimal.RequireFromString(usd),
		TokensPerUSD: 10,
		ExternalRef:  ref,
	})
	require.NoError(t, err)
}

// =============================================================================
// COUNT CONDITION
// =============================================================================

func TestEvaluateOne_TransactionCount(t *testing.T) {
	// GIVEN: An achievement requiring 3 EARN transactions
	// WHEN: Progress is evaluated at 0, 1, and 3 transactions
	// THEN: Progress reads 0, 33, and 100

	eval, bal, _ := newTestEvaluator(t)
	ctx := context.Background()
	def := achievement.Definition{
		ID:        "a-count",
		Name:      "Regular",
		Condition: achievement.Condition{MinTransactions: 3},
		Active:    true,
	}

	progress, err := eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 0, progress)

	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-1")
	progress, err = eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 33, progress)

	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-2")
	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-3")
	progress, err = eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 100, progress)
}

func TestEvaluateOne_CountCapsAtHundred(t *testing.T) {
	eval, bal, _ := newTestEvaluator(t)
	def := achievement.Definition{
		ID:        "a-one",
		Condition: achievement.Condition{MinTransactions: 1},
		Active:    true,
	}

	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-1")
	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-2")

	progress, err := eval.EvaluateOne(context.Background(), "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 100, progress)
}

func TestEvaluateOne_RedeemsDoNotCount(t *testing.T) {
	eval, bal, _ := newTestEvaluator(t)
	ctx := context.Background()
	def := achievement.Definition{
		ID:        "a-count",
		Condition: achievement.Condition{MinTransactions: 2},
		Active:    true,
	}

	earn(t, bal, "cust-1", "b-coffee", "10.00", "ref-1")
	_, err := bal.Debit(ctx, ledger.DebitRequest{Customer: "cust-1", Business: "b-coffee", Points: 50})
	require.NoError(t, err)

	progress, err := eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 50, progress, "only EARN entries advance progress")
}

// =============================================================================
// SPEND CONDITION
// =============================================================================

func TestEvaluateOne_CumulativeSpend(t *testing.T) {
	eval, bal, _ := newTestEvaluator(t)
	ctx := context.Background()
	def := achievement.Definition{
		ID:        "a-spend",
		Condition: achievement.Condition{MinSpentUSD: decimal.RequireFromString("100")},
		Active:    true,
	}

	earn(t, bal, "cust-1", "b-coffee", "25.50", "ref-1")
	progress, err := eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 25, progress)

	earn(t, bal, "cust-1", "b-coffee", "74.50", "ref-2")
	progress, err = eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 100, progress)
}

func TestEvaluateOne_ZeroThresholdYieldsZero(t *testing.T) {
	eval, bal, _ := newTestEvaluator(t)
	earn(t, bal, "cust-1", "b-coffee", "10.00", "ref-1")

	progress, err := eval.EvaluateOne(context.Background(), "cust-1", achievement.Definition{
		ID:        "a-bad",
		Condition: achievement.Condition{MinTransactions: -1},
		Active:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, progress)
}

// =============================================================================
// CATEGORY CONDITION
// =============================================================================

func TestEvaluateOne_DistinctCategories(t *testing.T) {
	// GIVEN: An achievement requiring coffee, bakery, and books purchases
	// WHEN: The customer visits two of the three, one of them repeatedly
	// THEN: Progress is 66; the third category completes it

	eval, bal, _ := newTestEvaluator(t)
	ctx := context.Background()
	def := achievement.Definition{
		ID:        "a-explorer",
		Condition: achievement.Condition{Categories: []string{"coffee", "bakery", "books"}},
		Active:    true,
	}

	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-1")
	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-2")
	earn(t, bal, "cust-1", "b-bakery", "6.00", "ref-3")

	progress, err := eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 66, progress, "repeat visits count a category once")

	earn(t, bal, "cust-1", "b-books", "12.00", "ref-4")
	progress, err = eval.EvaluateOne(ctx, "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 100, progress)
}

// =============================================================================
// COMPOUND CONDITION
// =============================================================================

func TestEvaluateOne_CompoundTakesMinimum(t *testing.T) {
	eval, bal, _ := newTestEvaluator(t)
	def := achievement.Definition{
		ID: "a-compound",
		Condition: achievement.Condition{
			MinTransactions: 2,
			MinSpentUSD:     decimal.RequireFromString("100"),
		},
		Active: true,
	}

	// 2 of 2 transactions (100%) but only $20 of $100 (20%)
	earn(t, bal, "cust-1", "b-coffee", "10.00", "ref-1")
	earn(t, bal, "cust-1", "b-coffee", "10.00", "ref-2")

	progress, err := eval.EvaluateOne(context.Background(), "cust-1", def)
	require.NoError(t, err)
	assert.Equal(t, 20, progress)
}

// =============================================================================
// EVALUATE ALL / DELTA TESTS
// =============================================================================

func TestEvaluateAll_ReportsDeltasAndUpdatesCache(t *testing.T) {
	eval, bal, store := newTestEvaluator(t)
	ctx := context.Background()

	require.NoError(t, store.PutDefinition(ctx, achievement.Definition{
		ID:        "a-count",
		Name:      "Regular",
		Condition: achievement.Condition{MinTransactions: 2},
		Active:    true,
	}))

	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-1")

	evals, err := eval.EvaluateAll(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, 50, evals[0].Progress)
	assert.Equal(t, 50, evals[0].Delta)
	assert.False(t, evals[0].Completed())

	earn(t, bal, "cust-1", "b-coffee", "4.00", "ref-2")

	evals, err = eval.EvaluateAll(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 100, evals[0].Progress)
	assert.Equal(t, 50, evals[0].Delta)
	assert.True(t, evals[0].NewlyCompleted())

	// A third evaluation with no new activity reports no delta.
	evals, err = eval.EvaluateAll(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 100, evals[0].Progress)
	assert.Equal(t, 0, evals[0].Delta)
	assert.True(t, evals[0].Completed())
	assert.False(t, evals[0].NewlyCompleted())
}

func TestEvaluateAll_InactiveDefinitionsSkipped(t *testing.T) {
	eval, _, store := newTestEvaluator(t)
	ctx := context.Background()

	require.NoError(t, store.PutDefinition(ctx, achievement.Definition{
		ID:        "a-retired",
		Condition: achievement.Condition{MinTransactions: 1},
		Active:    false,
	}))

	evals, err := eval.EvaluateAll(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, evals)
}

func TestProgress_MonotoneAcrossActivity(t *testing.T) {
	// GIVEN: Any achievement over an append-only EARN history
	// WHEN: Transactions accumulate one by one
	// THEN: Progress never decreases

	eval, bal, _ := newTestEvaluator(t)
	ctx := context.Background()
	def := achievement.Definition{
		ID: "a-mixed",
		Condition: achievement.Condition{
			MinTransactions: 5,
			MinSpentUSD:     decimal.RequireFromString("50"),
			Categories:      []string{"coffee", "bakery"},
		},
		Active: true,
	}

	shops := []string{"b-coffee", "b-bakery", "b-coffee", "b-books", "b-bakery", "b-coffee"}
	last := 0
	for i, shop := range shops {
		earn(t, bal, "cust-1", shop, "11.00", fmt.Sprintf("ref-%d", i))
		progress, err := eval.EvaluateOne(ctx, "cust-1", def)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, progress, last, "progress must not regress")
		last = progress
	}
	assert.Equal(t, 100, last)
}
