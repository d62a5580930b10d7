package factory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/store/memory"
)

func TestParseCatalog_ValidCatalog(t *testing.T) {
	data := []byte(`{
		"businesses": [
			{"id": "b-espresso", "name": "Daily Grind", "category": "coffee", "tokens_per_usd": 10, "max_discount_percent": 50}
		],
		"puzzles": [
			{"id": "p-espresso-day", "name": "Espresso Day", "grid_x": 3, "grid_y": 3, "rarity": "rare", "price_tokens": 100}
		],
		"achievements": [
			{"id": "a-regular", "name": "Regular", "min_transactions": 10, "reward_puzzle_id": "p-espresso-day"}
		]
	}`)

	c, err := factory.ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, c.Businesses, 1)
	require.Len(t, c.Puzzles, 1)
	require.Len(t, c.Achievements, 1)
	assert.Equal(t, collection.RarityRare, c.Puzzles[0].Rarity)
	assert.Equal(t, 10, c.Achievements[0].Condition.MinTransactions)
	assert.True(t, c.Businesses[0].Active, "active defaults to true")
}

func TestParseCatalog_Defaults(t *testing.T) {
	c, err := factory.FromJSON(factory.CatalogJSON{
		Businesses: []factory.BusinessJSON{{ID: "b-1", Name: "Shop"}},
		Puzzles:    []factory.PuzzleJSON{{ID: "p-1", Name: "Puzzle", Rarity: "common"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Businesses[0].TokensPerUSD)
	assert.Equal(t, 50, c.Businesses[0].MaxDiscountPercent)
	assert.Equal(t, 3, c.Puzzles[0].GridX)
	assert.Equal(t, 3, c.Puzzles[0].GridY)
}

func TestParseCatalog_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"unknown rarity", `{"puzzles": [{"id": "p-1", "rarity": "mythic"}]}`},
		{"negative price", `{"puzzles": [{"id": "p-1", "rarity": "common", "price_tokens": -5}]}`},
		{"duplicate puzzle id", `{"puzzles": [
			{"id": "p-1", "rarity": "common"}, {"id": "p-1", "rarity": "rare"}]}`},
		{"negative threshold", `{"achievements": [{"id": "a-1", "min_transactions": -1, "min_spent_usd": "10"}]}`},
		{"bad spend decimal", `{"achievements": [{"id": "a-1", "min_spent_usd": "ten"}]}`},
		{"no condition", `{"achievements": [{"id": "a-1", "name": "Empty"}]}`},
		{"dangling reward", `{"achievements": [{"id": "a-1", "min_transactions": 1, "reward_puzzle_id": "p-nope"}]}`},
		{"discount over 100", `{"businesses": [{"id": "b-1", "max_discount_percent": 150}]}`},
		{"missing id", `{"businesses": [{"name": "Anonymous"}]}`},
		{"not json", `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := factory.ParseCatalog([]byte(tc.json))
			assert.Error(t, err)
		})
	}
}

func TestSeed_PopulatesStores(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	catalog := factory.DefaultCatalog()
	require.NoError(t, catalog.Seed(ctx, store, store, store))

	puzzles, err := store.ListActivePuzzles(ctx)
	require.NoError(t, err)
	assert.Len(t, puzzles, len(catalog.Puzzles))

	defs, err := store.ListActiveDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(catalog.Achievements))

	b, err := store.GetBusiness(ctx, "b-espresso")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.TokensPerUSD)
}

func TestDefaultCatalog_RarityPriceLadder(t *testing.T) {
	prices := map[collection.Rarity]int64{
		collection.RarityCommon:    50,
		collection.RarityRare:      100,
		collection.RarityEpic:      200,
		collection.RarityLegendary: 500,
	}

	for _, p := range factory.DefaultCatalog().Puzzles {
		assert.Equal(t, prices[p.Rarity], p.PriceTokens, "puzzle %s", p.ID)
	}
}
