package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/receipt"
	"github.com/warp/loyalty-engine/signer"
	"github.com/warp/loyalty-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	store := memory.New()
	locks := ledger.NewCustomerLocks()
	balance := ledger.NewBalanceService(store, locks)
	sig := signer.Local{}
	eval := achievement.NewEvaluator(store, store, store, store)
	coord := collection.NewCoordinator(store, store, eval, balance, sig)
	registry := receipt.NewRegistry(store, balance, store, sig, coord)

	require.NoError(t, factory.DefaultCatalog().Seed(context.Background(), store, store, store))

	handler := api.NewHandler(store, balance, registry, eval, coord, store)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func issueAndClaim(t *testing.T, srv *httptest.Server, customer, usd string) map[string]any {
	t.Helper()

	resp, issued := doJSON(t, srv, http.MethodPost, "/api/receipts", api.IssueReceiptRequest{
		PurchaseRef: "pos-1",
		BusinessID:  "b-espresso",
		CustomerID:  customer,
		USDAmount:   usd,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, claimed := doJSON(t, srv, http.MethodPost, "/api/receipts/claim", api.ClaimReceiptRequest{
		Payload:    issued["payload"].(string),
		CustomerID: customer,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return claimed
}

// =============================================================================
// RECEIPT FLOW
// =============================================================================

func TestAPI_IssueAndClaimFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	claimed := issueAndClaim(t, srv, "cust-1", "15.50")
	assert.Equal(t, float64(155), claimed["tokens_earned"])

	resp, balance := doJSON(t, srv, http.MethodGet, "/api/customers/cust-1/balance", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(155), balance["balance"])
}

func TestAPI_DoubleClaimConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, issued := doJSON(t, srv, http.MethodPost, "/api/receipts", api.IssueReceiptRequest{
		PurchaseRef: "pos-1", BusinessID: "b-espresso", CustomerID: "cust-1", USDAmount: "15.50",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	claim := api.ClaimReceiptRequest{Payload: issued["payload"].(string), CustomerID: "cust-1"}

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/receipts/claim", claim)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/receipts/claim", claim)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_MalformedPayloadIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/receipts/claim", api.ClaimReceiptRequest{
		Payload: "garbage", CustomerID: "cust-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_IssueForUnknownBusinessIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/receipts", api.IssueReceiptRequest{
		PurchaseRef: "pos-1", BusinessID: "b-nope", CustomerID: "cust-1", USDAmount: "5.00",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// DEBIT
// =============================================================================

func TestAPI_DebitInsufficientBalanceIsUnprocessable(t *testing.T) {
	srv, _ := newTestServer(t)

	issueAndClaim(t, srv, "cust-1", "10.00") // 100 points

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/points/debit", api.DebitRequest{
		CustomerID: "cust-1", BusinessID: "b-espresso", Points: 150,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_DebitReportsDiscount(t *testing.T) {
	srv, _ := newTestServer(t)

	issueAndClaim(t, srv, "cust-1", "20.00") // 200 points

	resp, body := doJSON(t, srv, http.MethodPost, "/api/points/debit", api.DebitRequest{
		CustomerID: "cust-1", BusinessID: "b-espresso", Points: 150,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1.50", body["discount_usd"])
	assert.Equal(t, float64(50), body["remaining_balance"])

	_, balance := doJSON(t, srv, http.MethodGet, "/api/customers/cust-1/balance", nil)
	assert.Equal(t, float64(50), balance["balance"])
}

func TestAPI_DebitOverDiscountCapRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	issueAndClaim(t, srv, "cust-1", "20.00")

	// b-espresso caps discounts at 50 percent.
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/points/debit", api.DebitRequest{
		CustomerID: "cust-1", BusinessID: "b-espresso", Points: 10, DiscountPercent: 80,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ACHIEVEMENTS AND COLLECTION
// =============================================================================

func TestAPI_ClaimUnlocksFirstPurchaseReward(t *testing.T) {
	srv, _ := newTestServer(t)

	claimed := issueAndClaim(t, srv, "cust-1", "4.00")

	unlocked, ok := claimed["newly_unlocked"].([]any)
	require.True(t, ok, "first claim should unlock the first-purchase reward")
	assert.Contains(t, unlocked, "p-first-sip")

	resp, coll := doJSON(t, srv, http.MethodGet, "/api/customers/cust-1/collection", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	owned := coll["owned"].([]any)
	require.Len(t, owned, 1)
}

func TestAPI_AchievementProgressVisible(t *testing.T) {
	srv, _ := newTestServer(t)

	issueAndClaim(t, srv, "cust-1", "4.00")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/customers/cust-1/achievements", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dtos []api.AchievementDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dtos))
	require.NotEmpty(t, dtos)

	byID := make(map[string]api.AchievementDTO)
	for _, d := range dtos {
		byID[d.ID] = d
	}
	assert.True(t, byID["a-first-purchase"].Completed)
	assert.Equal(t, 10, byID["a-regular"].Progress)
}

func TestAPI_AchievementDeltaReported(t *testing.T) {
	srv, store := newTestServer(t)

	// Credit directly so no reconcile has primed the progress cache.
	balance := ledger.NewBalanceService(store, ledger.NewCustomerLocks())
	_, err := balance.Credit(context.Background(), ledger.CreditRequest{
		Customer:     "cust-1",
		Business:     "b-espresso",
		USDAmount:    decimal.RequireFromString("4.00"),
		TokensPerUSD: 10,
		ExternalRef:  "seed-delta-1",
	})
	require.NoError(t, err)

	fetch := func() map[string]api.AchievementDTO {
		t.Helper()
		resp, err := srv.Client().Get(srv.URL + "/api/customers/cust-1/achievements")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var dtos []api.AchievementDTO
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&dtos))
		byID := make(map[string]api.AchievementDTO)
		for _, d := range dtos {
			byID[d.ID] = d
		}
		return byID
	}

	// First read sees the full movement since the cache was empty.
	first := fetch()
	assert.Equal(t, 10, first["a-regular"].Progress)
	assert.Equal(t, 10, first["a-regular"].Delta)

	// Nothing changed, so the next read reports no movement.
	second := fetch()
	assert.Equal(t, 10, second["a-regular"].Progress)
	assert.Equal(t, 0, second["a-regular"].Delta)
}

func TestAPI_PurchasePuzzle(t *testing.T) {
	srv, store := newTestServer(t)

	// Seed enough points directly: 10 claims of $10.
	balance := ledger.NewBalanceService(store, ledger.NewCustomerLocks())
	for i := 0; i < 10; i++ {
		_, err := balance.Credit(context.Background(), ledger.CreditRequest{
			Customer:     "cust-1",
			Business:     "b-espresso",
			USDAmount:    decimal.RequireFromString("10.00"),
			TokensPerUSD: 10,
			ExternalRef:  fmt.Sprintf("seed-%d", i),
		})
		require.NoError(t, err)
	}

	resp, owned := doJSON(t, srv, http.MethodPost, "/api/puzzles/p-golden-bean/purchase", api.PurchasePuzzleRequest{
		CustomerID: "cust-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "p-golden-bean", owned["puzzle_id"])

	// Buying it again conflicts.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/puzzles/p-golden-bean/purchase", api.PurchasePuzzleRequest{
		CustomerID: "cust-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ListPuzzles(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/puzzles", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dtos []api.PuzzleDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dtos))
	assert.Len(t, dtos, 4)
}

// =============================================================================
// ERROR SANITY
// =============================================================================

func TestAPI_ErrorBodyShape(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/receipts/claim", api.ClaimReceiptRequest{
		Payload: "garbage", CustomerID: "cust-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	// Business rule: a zero-balance customer reads as balance 0, not 404.
	resp, balance := doJSON(t, srv, http.MethodGet, "/api/customers/cust-unseen/balance", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), balance["balance"])
}
