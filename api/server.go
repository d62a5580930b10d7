/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/receipts/*       Receipt issue and claim
  /api/points/*         Point spending
  /api/customers/*      Balance, history, achievements, collection
  /api/puzzles/*        Puzzle catalog and purchase

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Receipt routes
		r.Route("/receipts", func(r chi.Router) {
			r.Post("/", h.IssueReceipt)
			r.Post("/claim", h.ClaimReceipt)
		})

		// Point routes
		r.Route("/points", func(r chi.Router) {
			r.Post("/debit", h.Debit)
		})

		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/receipts", h.GetReceipts)
			r.Get("/{id}/achievements", h.GetAchievements)
			r.Get("/{id}/collection", h.GetCollection)
		})

		// Puzzle routes
		r.Route("/puzzles", func(r chi.Router) {
			r.Get("/", h.ListPuzzles)
			r.Post("/{id}/purchase", h.PurchasePuzzle)
		})
	})

	return r
}
