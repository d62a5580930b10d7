/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON catalog definitions into business, achievement, and
  puzzle records. This enables program configuration without code
  changes - operations staff can define the reward catalog in JSON,
  and the factory validates it and seeds the stores.

WHY JSON?
  - Non-developers can modify the catalog
  - Easy integration with admin UI
  - Version control for catalog definitions
  - Database storage of catalog configs

JSON SCHEMA:
  {
    "businesses": [
      {"id": "b-espresso", "name": "Daily Grind", "category": "coffee",
       "tokens_per_usd": 10, "max_discount_percent": 50}
    ],
    "achievements": [
      {"id": "a-regular", "name": "Regular", "min_transactions": 10,
       "reward_puzzle_id": "p-espresso-day"}
    ],
    "puzzles": [
      {"id": "p-espresso-day", "name": "Espresso Day", "grid_x": 3,
       "grid_y": 3, "rarity": "rare", "price_tokens": 100}
    ]
  }

KEY FEATURES:
  - Validates JSON structure (duplicate IDs, unknown rarities,
    negative thresholds, dangling reward references)
  - Sets sensible defaults (tokens_per_usd, grid dimensions, active)
  - Seeds all three stores in one call

USAGE:
  catalog, err := factory.ParseCatalog(jsonBytes)
  if err != nil {
      log.Fatal(err)
  }
  if err := catalog.Seed(ctx, store, store, store); err != nil {
      log.Fatal(err)
  }

SEE ALSO:
  - achievement/types.go: Definition type
  - collection/types.go: Puzzle type
  - business/business.go: Business type
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of the full reward catalog.
type CatalogJSON struct {
	Businesses   []BusinessJSON    `json:"businesses"`
	Achievements []AchievementJSON `json:"achievements"`
	Puzzles      []PuzzleJSON      `json:"puzzles"`
}

// BusinessJSON represents a participating business.
type BusinessJSON struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category,omitempty"`
	TokensPerUSD       int64  `json:"tokens_per_usd,omitempty"`
	MaxDiscountPercent int    `json:"max_discount_percent,omitempty"`
	Active             *bool  `json:"active,omitempty"`
}

// AchievementJSON represents an achievement definition.
type AchievementJSON struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	MinTransactions int      `json:"min_transactions,omitempty"`
	MinSpentUSD     string   `json:"min_spent_usd,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	RewardPuzzleID  string   `json:"reward_puzzle_id,omitempty"`
	Active          *bool    `json:"active,omitempty"`
}

// PuzzleJSON represents a collectible puzzle.
type PuzzleJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GridX       int    `json:"grid_x,omitempty"`
	GridY       int    `json:"grid_y,omitempty"`
	Rarity      string `json:"rarity"`
	PriceTokens int64  `json:"price_tokens,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a validated, parsed catalog ready to seed stores.
type Catalog struct {
	Businesses   []business.Business
	Achievements []achievement.Definition
	Puzzles      []collection.Puzzle
}

// ParseCatalog parses and validates a JSON catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromJSON(cj)
}

// LoadCatalog reads and parses a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// FromJSON converts CatalogJSON into validated domain records.
func FromJSON(cj CatalogJSON) (*Catalog, error) {
	c := &Catalog{}
	seen := make(map[string]bool)

	puzzleIDs := make(map[string]bool)
	for _, pj := range cj.Puzzles {
		p, err := parsePuzzle(pj)
		if err != nil {
			return nil, err
		}
		if seen["puzzle:"+pj.ID] {
			return nil, fmt.Errorf("duplicate puzzle id: %s", pj.ID)
		}
		seen["puzzle:"+pj.ID] = true
		puzzleIDs[pj.ID] = true
		c.Puzzles = append(c.Puzzles, p)
	}

	for _, bj := range cj.Businesses {
		b, err := parseBusiness(bj)
		if err != nil {
			return nil, err
		}
		if seen["business:"+bj.ID] {
			return nil, fmt.Errorf("duplicate business id: %s", bj.ID)
		}
		seen["business:"+bj.ID] = true
		c.Businesses = append(c.Businesses, b)
	}

	for _, aj := range cj.Achievements {
		def, err := parseAchievement(aj)
		if err != nil {
			return nil, err
		}
		if seen["achievement:"+aj.ID] {
			return nil, fmt.Errorf("duplicate achievement id: %s", aj.ID)
		}
		seen["achievement:"+aj.ID] = true
		if aj.RewardPuzzleID != "" && !puzzleIDs[aj.RewardPuzzleID] {
			return nil, fmt.Errorf("achievement %s rewards unknown puzzle: %s", aj.ID, aj.RewardPuzzleID)
		}
		c.Achievements = append(c.Achievements, def)
	}

	return c, nil
}

// Seed writes the catalog into the given stores.
func (c *Catalog) Seed(ctx context.Context, businesses business.Directory, defs achievement.DefinitionStore, puzzles collection.PuzzleStore) error {
	for _, b := range c.Businesses {
		if err := businesses.PutBusiness(ctx, b); err != nil {
			return fmt.Errorf("failed to seed business %s: %w", b.ID, err)
		}
	}
	for _, p := range c.Puzzles {
		if err := puzzles.PutPuzzle(ctx, p); err != nil {
			return fmt.Errorf("failed to seed puzzle %s: %w", p.ID, err)
		}
	}
	for _, def := range c.Achievements {
		if err := defs.PutDefinition(ctx, def); err != nil {
			return fmt.Errorf("failed to seed achievement %s: %w", def.ID, err)
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseBusiness(bj BusinessJSON) (business.Business, error) {
	if bj.ID == "" {
		return business.Business{}, fmt.Errorf("business missing id")
	}
	if bj.TokensPerUSD < 0 {
		return business.Business{}, fmt.Errorf("business %s: negative tokens_per_usd", bj.ID)
	}
	if bj.MaxDiscountPercent < 0 || bj.MaxDiscountPercent > 100 {
		return business.Business{}, fmt.Errorf("business %s: max_discount_percent out of range", bj.ID)
	}

	b := business.Business{
		ID:                 ledger.BusinessID(bj.ID),
		Name:               bj.Name,
		Category:           bj.Category,
		TokensPerUSD:       bj.TokensPerUSD,
		MaxDiscountPercent: bj.MaxDiscountPercent,
		Active:             activeDefault(bj.Active),
	}
	if b.TokensPerUSD == 0 {
		b.TokensPerUSD = 10
	}
	if b.MaxDiscountPercent == 0 {
		b.MaxDiscountPercent = 50
	}
	return b, nil
}

func parseAchievement(aj AchievementJSON) (achievement.Definition, error) {
	if aj.ID == "" {
		return achievement.Definition{}, fmt.Errorf("achievement missing id")
	}
	if aj.MinTransactions < 0 {
		return achievement.Definition{}, fmt.Errorf("achievement %s: negative min_transactions", aj.ID)
	}

	minSpent := decimal.Zero
	if aj.MinSpentUSD != "" {
		var err error
		minSpent, err = decimal.NewFromString(aj.MinSpentUSD)
		if err != nil {
			return achievement.Definition{}, fmt.Errorf("achievement %s: invalid min_spent_usd: %w", aj.ID, err)
		}
		if minSpent.IsNegative() {
			return achievement.Definition{}, fmt.Errorf("achievement %s: negative min_spent_usd", aj.ID)
		}
	}

	def := achievement.Definition{
		ID:          achievement.ID(aj.ID),
		Name:        aj.Name,
		Description: aj.Description,
		Condition: achievement.Condition{
			MinTransactions: aj.MinTransactions,
			MinSpentUSD:     minSpent,
			Categories:      aj.Categories,
		},
		RewardPuzzleID: aj.RewardPuzzleID,
		Active:         activeDefault(aj.Active),
	}
	if def.Condition.IsZero() {
		return achievement.Definition{}, fmt.Errorf("achievement %s: no unlock condition", aj.ID)
	}
	return def, nil
}

func parsePuzzle(pj PuzzleJSON) (collection.Puzzle, error) {
	if pj.ID == "" {
		return collection.Puzzle{}, fmt.Errorf("puzzle missing id")
	}
	if !collection.ValidRarity(collection.Rarity(pj.Rarity)) {
		return collection.Puzzle{}, fmt.Errorf("puzzle %s: unknown rarity: %s", pj.ID, pj.Rarity)
	}
	if pj.PriceTokens < 0 {
		return collection.Puzzle{}, fmt.Errorf("puzzle %s: negative price_tokens", pj.ID)
	}

	p := collection.Puzzle{
		ID:          collection.PuzzleID(pj.ID),
		Name:        pj.Name,
		GridX:       pj.GridX,
		GridY:       pj.GridY,
		Rarity:      collection.Rarity(pj.Rarity),
		PriceTokens: pj.PriceTokens,
		Active:      activeDefault(pj.Active),
	}
	if p.GridX <= 0 {
		p.GridX = 3
	}
	if p.GridY <= 0 {
		p.GridY = 3
	}
	return p, nil
}

func activeDefault(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultCatalog returns a small built-in catalog used when no catalog
// file is configured. Prices follow the standard rarity ladder:
// common 50, rare 100, epic 200, legendary 500.
func DefaultCatalog() *Catalog {
	c, err := FromJSON(CatalogJSON{
		Businesses: []BusinessJSON{
			{ID: "b-espresso", Name: "Daily Grind Espresso", Category: "coffee", TokensPerUSD: 10, MaxDiscountPercent: 50},
			{ID: "b-bakery", Name: "Morning Crumb Bakery", Category: "bakery", TokensPerUSD: 10, MaxDiscountPercent: 30},
			{ID: "b-books", Name: "Spine & Leaf Books", Category: "books", TokensPerUSD: 5, MaxDiscountPercent: 25},
		},
		Puzzles: []PuzzleJSON{
			{ID: "p-espresso-day", Name: "Espresso Day", GridX: 3, GridY: 3, Rarity: "rare", PriceTokens: 100},
			{ID: "p-first-sip", Name: "First Sip", GridX: 3, GridY: 3, Rarity: "common", PriceTokens: 50},
			{ID: "p-golden-bean", Name: "Golden Bean", GridX: 3, GridY: 3, Rarity: "legendary", PriceTokens: 500},
			{ID: "p-city-roast", Name: "City Roast", GridX: 3, GridY: 3, Rarity: "epic", PriceTokens: 200},
		},
		Achievements: []AchievementJSON{
			{ID: "a-first-purchase", Name: "First Purchase", Description: "Make your first purchase",
				MinTransactions: 1, RewardPuzzleID: "p-first-sip"},
			{ID: "a-regular", Name: "Regular", Description: "Make ten purchases",
				MinTransactions: 10, RewardPuzzleID: "p-espresso-day"},
			{ID: "a-big-spender", Name: "Big Spender", Description: "Spend one hundred dollars",
				MinSpentUSD: "100", RewardPuzzleID: "p-city-roast"},
			{ID: "a-explorer", Name: "Explorer", Description: "Visit all three kinds of shops",
				Categories: []string{"coffee", "bakery", "books"}, RewardPuzzleID: "p-golden-bean"},
		},
	})
	if err != nil {
		// Built-in catalog is fixed; a parse failure here is a programming error.
		panic(err)
	}
	return c
}
