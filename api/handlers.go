/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Receipts:
    POST   /api/receipts              Issue a claim token for a purchase
    POST   /api/receipts/claim        Redeem a claim token for points

  Points:
    POST   /api/points/debit          Spend points as a discount

  Customers:
    GET    /api/customers/{id}/balance       Current point balance
    GET    /api/customers/{id}/transactions  Ledger history
    GET    /api/customers/{id}/receipts      Receipt history
    GET    /api/customers/{id}/achievements  Achievement progress
    GET    /api/customers/{id}/collection    Puzzle collection status

  Puzzles:
    GET    /api/puzzles                      Active puzzle catalog
    POST   /api/puzzles/{id}/purchase        Buy a puzzle with points

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (balance service, registry, coordinator)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed payloads
  - 404: Resource not found
  - 409: Conflict (already claimed, expired, already owned, duplicate ref)
  - 422: Insufficient balance
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The customer ID in the
  request body is trusted. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/receipt"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     ledger.Store
	Balance    *ledger.BalanceService
	Receipts   *receipt.Registry
	Evaluator  *achievement.Evaluator
	Collection *collection.Coordinator
	Businesses business.Directory
}

// NewHandler creates a new handler over the given services.
func NewHandler(store ledger.Store, bal *ledger.BalanceService, reg *receipt.Registry, eval *achievement.Evaluator, coord *collection.Coordinator, dir business.Directory) *Handler {
	return &Handler{
		Ledger:     store,
		Balance:    bal,
		Receipts:   reg,
		Evaluator:  eval,
		Collection: coord,
		Businesses: dir,
	}
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// IssueReceipt creates a claim token for a purchase.
func (h *Handler) IssueReceipt(w http.ResponseWriter, r *http.Request) {
	var req IssueReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BusinessID == "" || req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "business_id and customer_id are required", nil)
		return
	}

	usd, err := decimal.NewFromString(req.USDAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid usd_amount", err)
		return
	}

	rec, payload, err := h.Receipts.Issue(r.Context(), req.PurchaseRef,
		ledger.BusinessID(req.BusinessID), ledger.CustomerID(req.CustomerID), usd)
	if err != nil {
		writeDomainError(w, "Failed to issue receipt", err)
		return
	}

	writeJSON(w, http.StatusCreated, IssueReceiptResponse{
		Receipt: toReceiptDTO(rec),
		Payload: payload,
	})
}

// ClaimReceipt redeems a claim token for points.
func (h *Handler) ClaimReceipt(w http.ResponseWriter, r *http.Request) {
	var req ClaimReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}

	result, err := h.Receipts.Claim(r.Context(), req.Payload, ledger.CustomerID(req.CustomerID))
	if err != nil {
		writeDomainError(w, "Failed to claim receipt", err)
		return
	}

	resp := ClaimReceiptResponse{
		Receipt:      toReceiptDTO(result.Receipt),
		Transaction:  toTransactionDTO(result.Transaction),
		TokensEarned: result.TokensEarned,
	}
	for _, id := range result.NewlyUnlocked {
		resp.NewlyUnlocked = append(resp.NewlyUnlocked, string(id))
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// Debit spends points as a discount at a business. The requested
// discount percentage is checked against the business's cap before the
// ledger is touched.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	var req DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" || req.BusinessID == "" {
		writeError(w, http.StatusBadRequest, "customer_id and business_id are required", nil)
		return
	}

	b, err := h.Businesses.GetBusiness(r.Context(), ledger.BusinessID(req.BusinessID))
	if err != nil {
		writeDomainError(w, "Failed to look up business", err)
		return
	}
	if !b.Active {
		writeError(w, http.StatusNotFound, "Business not found", nil)
		return
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > b.MaxDiscountPercent {
		writeError(w, http.StatusBadRequest, "Requested discount exceeds the business's maximum", nil)
		return
	}

	tx, err := h.Balance.Debit(r.Context(), ledger.DebitRequest{
		Customer:    ledger.CustomerID(req.CustomerID),
		Business:    b.ID,
		Points:      req.Points,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		writeDomainError(w, "Failed to debit points", err)
		return
	}

	remaining, err := h.Balance.BalanceOf(r.Context(), tx.CustomerID)
	if err != nil {
		writeDomainError(w, "Failed to read balance", err)
		return
	}

	writeJSON(w, http.StatusOK, DebitResponse{
		Transaction:      toTransactionDTO(tx),
		DiscountUSD:      ledger.DiscountAmount(tx.Points).StringFixed(2),
		RemainingBalance: remaining,
	})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// GetBalance returns the customer's derived point balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	balance, err := h.Balance.BalanceOf(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		CustomerID: string(customerID),
		Balance:    balance,
	})
}

// GetTransactions returns the customer's ledger history.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	txs, err := h.Ledger.ByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReceipts returns the customer's receipts.
func (h *Handler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	receipts, err := h.Receipts.ForCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load receipts", err)
		return
	}

	dtos := make([]ReceiptDTO, len(receipts))
	for i, rec := range receipts {
		dtos[i] = toReceiptDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAchievements returns the customer's progress toward every active
// achievement.
func (h *Handler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	evals, err := h.Evaluator.EvaluateAll(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to evaluate achievements", err)
		return
	}

	dtos := make([]AchievementDTO, len(evals))
	for i, ev := range evals {
		dtos[i] = AchievementDTO{
			ID:             string(ev.Definition.ID),
			Name:           ev.Definition.Name,
			Description:    ev.Definition.Description,
			Progress:       ev.Progress,
			Delta:          ev.Delta,
			Completed:      ev.Completed(),
			RewardPuzzleID: ev.Definition.RewardPuzzleID,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCollection returns the customer's puzzle collection status.
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	st, err := h.Collection.Status(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load collection", err)
		return
	}

	dto := CollectionDTO{
		Owned:                make([]PuzzleDTO, 0, len(st.Owned)),
		Missing:              make([]PuzzleDTO, 0, len(st.Missing)),
		CompletionPercentage: st.CompletionPercentage,
		Complete:             st.Complete,
	}
	for _, p := range st.Owned {
		dto.Owned = append(dto.Owned, toPuzzleDTO(p))
	}
	for _, p := range st.Missing {
		dto.Missing = append(dto.Missing, toPuzzleDTO(p))
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PUZZLE HANDLERS
// =============================================================================

// ListPuzzles returns the active puzzle catalog.
func (h *Handler) ListPuzzles(w http.ResponseWriter, r *http.Request) {
	puzzles, err := h.Collection.Puzzles.ListActivePuzzles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list puzzles", err)
		return
	}

	dtos := make([]PuzzleDTO, len(puzzles))
	for i, p := range puzzles {
		dtos[i] = toPuzzleDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PurchasePuzzle buys a puzzle with points.
func (h *Handler) PurchasePuzzle(w http.ResponseWriter, r *http.Request) {
	puzzleID := collection.PuzzleID(chi.URLParam(r, "id"))

	var req PurchasePuzzleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}

	o, err := h.Collection.Purchase(r.Context(), ledger.CustomerID(req.CustomerID), puzzleID)
	if err != nil {
		writeDomainError(w, "Failed to purchase puzzle", err)
		return
	}

	writeJSON(w, http.StatusCreated, OwnershipDTO{
		ID:         string(o.ID),
		CustomerID: string(o.CustomerID),
		PuzzleID:   string(o.PuzzleID),
		GrantedAt:  o.GrantedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// SERIALIZATION HELPERS
// =============================================================================

func toReceiptDTO(rec receipt.Receipt) ReceiptDTO {
	dto := ReceiptDTO{
		ID:          string(rec.ID),
		PurchaseRef: rec.PurchaseRef,
		BusinessID:  string(rec.BusinessID),
		CustomerID:  string(rec.CustomerID),
		USDAmount:   rec.USDAmount.StringFixed(2),
		IssuedAt:    rec.IssuedAt.Format(time.RFC3339),
		ExpiresAt:   rec.ExpiresAt.Format(time.RFC3339),
		State:       string(rec.State),
	}
	if rec.ClaimedAt != nil {
		dto.ClaimedAt = rec.ClaimedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		CustomerID:  string(tx.CustomerID),
		BusinessID:  string(tx.BusinessID),
		Kind:        string(tx.Kind),
		USDAmount:   tx.USDAmount.StringFixed(2),
		Points:      tx.Points,
		ExternalRef: tx.ExternalRef,
		Metadata:    tx.Metadata,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toPuzzleDTO(p collection.Puzzle) PuzzleDTO {
	return PuzzleDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		GridX:       p.GridX,
		GridY:       p.GridY,
		Rarity:      string(p.Rarity),
		PriceTokens: p.PriceTokens,
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrMalformedPayload), errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrExpired),
		errors.Is(err, ledger.ErrAlreadyOwned),
		errors.Is(err, ledger.ErrDuplicateReference):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
