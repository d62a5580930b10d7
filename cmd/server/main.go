/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Seed the reward catalog (file or built-in default)
  4. Wire services (balance, receipts, achievements, collection)
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: loyalty.db)
            Use ":memory:" for in-memory database
  -catalog  Path to a JSON catalog file (default: built-in catalog)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with in-memory database and a custom catalog
  ./server -db=":memory:" -catalog="./catalog.json"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/receipt"
	"github.com/warp/loyalty-engine/signer"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "loyalty.db", "SQLite database path")
	catalogPath := flag.String("catalog", "", "JSON catalog file (empty = built-in catalog)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed the reward catalog
	catalog := factory.DefaultCatalog()
	if *catalogPath != "" {
		catalog, err = factory.LoadCatalog(*catalogPath)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
	}
	if err := catalog.Seed(context.Background(), store, store, store); err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}

	// Wire services
	locks := ledger.NewCustomerLocks()
	balance := ledger.NewBalanceService(store, locks)
	sig := signer.Local{}
	evaluator := achievement.NewEvaluator(store, store, store, store)
	coordinator := collection.NewCoordinator(store, store, evaluator, balance, sig)
	registry := receipt.NewRegistry(store, balance, store, sig, coordinator)

	// Initialize handler and router
	handler := api.NewHandler(store, balance, registry, evaluator, coordinator, store)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
