/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON wire format. Domain types never serialize directly;
  every response goes through a DTO so the wire format can evolve
  independently of internal structs.

CONVENTIONS:
  - Money fields are decimal strings ("15.50"), never floats
  - Timestamps are RFC3339
  - Points are plain integers

SEE ALSO:
  - handlers.go: Handlers that populate these
*/
package api

// =============================================================================
// REQUESTS
// =============================================================================

// IssueReceiptRequest creates a claim token for a purchase.
type IssueReceiptRequest struct {
	PurchaseRef string `json:"purchase_ref"`
	BusinessID  string `json:"business_id"`
	CustomerID  string `json:"customer_id"`
	USDAmount   string `json:"usd_amount"`
}

// ClaimReceiptRequest redeems a claim token for points.
type ClaimReceiptRequest struct {
	Payload    string `json:"payload"`
	CustomerID string `json:"customer_id"`
}

// DebitRequest spends points as a discount at a business.
type DebitRequest struct {
	CustomerID      string `json:"customer_id"`
	BusinessID      string `json:"business_id"`
	Points          int64  `json:"points"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
	ExternalRef     string `json:"external_ref,omitempty"`
}

// PurchasePuzzleRequest buys a puzzle with points.
type PurchasePuzzleRequest struct {
	CustomerID string `json:"customer_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ReceiptDTO is the wire form of a receipt.
type ReceiptDTO struct {
	ID          string `json:"id"`
	PurchaseRef string `json:"purchase_ref"`
	BusinessID  string `json:"business_id"`
	CustomerID  string `json:"customer_id"`
	USDAmount   string `json:"usd_amount"`
	IssuedAt    string `json:"issued_at"`
	ExpiresAt   string `json:"expires_at"`
	State       string `json:"state"`
	ClaimedAt   string `json:"claimed_at,omitempty"`
}

// IssueReceiptResponse carries the receipt plus its transportable payload.
type IssueReceiptResponse struct {
	Receipt ReceiptDTO `json:"receipt"`
	Payload string     `json:"payload"`
}

// TransactionDTO is the wire form of a ledger entry.
type TransactionDTO struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	BusinessID  string            `json:"business_id"`
	Kind        string            `json:"kind"`
	USDAmount   string            `json:"usd_amount"`
	Points      int64             `json:"points"`
	ExternalRef string            `json:"external_ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// ClaimReceiptResponse reports the outcome of a successful claim.
type ClaimReceiptResponse struct {
	Receipt       ReceiptDTO     `json:"receipt"`
	Transaction   TransactionDTO `json:"transaction"`
	TokensEarned  int64          `json:"tokens_earned"`
	NewlyUnlocked []string       `json:"newly_unlocked,omitempty"`
}

// BalanceDTO is the derived balance for a customer.
type BalanceDTO struct {
	CustomerID string `json:"customer_id"`
	Balance    int64  `json:"balance"`
}

// DebitResponse carries the REDEEM entry, its discount value, and the
// balance left after the debit.
type DebitResponse struct {
	Transaction      TransactionDTO `json:"transaction"`
	DiscountUSD      string         `json:"discount_usd"`
	RemainingBalance int64          `json:"remaining_balance"`
}

// AchievementDTO reports progress toward one achievement.
type AchievementDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Progress       int    `json:"progress"`
	Delta          int    `json:"delta"`
	Completed      bool   `json:"completed"`
	RewardPuzzleID string `json:"reward_puzzle_id,omitempty"`
}

// PuzzleDTO is the wire form of a collectible puzzle.
type PuzzleDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GridX       int    `json:"grid_x"`
	GridY       int    `json:"grid_y"`
	Rarity      string `json:"rarity"`
	PriceTokens int64  `json:"price_tokens"`
}

// CollectionDTO reports owned versus missing puzzles.
type CollectionDTO struct {
	Owned                []PuzzleDTO `json:"owned"`
	Missing              []PuzzleDTO `json:"missing"`
	CompletionPercentage float64     `json:"completion_percentage"`
	Complete             bool        `json:"complete"`
}

// OwnershipDTO is the wire form of a granted puzzle.
type OwnershipDTO struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	PuzzleID   string `json:"puzzle_id"`
	GrantedAt  string `json:"granted_at"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
