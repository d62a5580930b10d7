/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.Store, receipt.Store,
  achievement.DefinitionStore, achievement.ProgressStore,
  collection.PuzzleStore, collection.OwnershipStore, business.Directory)
  using SQLite. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The transactions table is append-only:
  - No UPDATE statements on transactions
  - No DELETE statements on transactions
  - Balances are computed by replaying rows, never stored

KEY TABLES:
  transactions:         Immutable ledger of all point movements
  receipts:             Claim tokens with ISSUED/CLAIMED state
  achievements:         Achievement definitions with unlock conditions
  achievement_progress: Last reported progress per customer+achievement
  puzzles:              Collectible puzzle catalog
  ownerships:           Customer puzzle grants (one per customer+puzzle)
  businesses:           Participating business directory

UNIQUENESS:
  Two constraints carry correctness guarantees:
  - transactions.external_ref UNIQUE: at most one credit per receipt,
    at most one debit per purchase reference
  - ownerships(customer_id, puzzle_id) UNIQUE: at most one grant per pair

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Ledger interface definition
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/receipt"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time interface checks.
var (
	_ ledger.Store                = (*Store)(nil)
	_ receipt.Store               = (*Store)(nil)
	_ achievement.DefinitionStore = (*Store)(nil)
	_ achievement.ProgressStore   = (*Store)(nil)
	_ collection.PuzzleStore      = (*Store)(nil)
	_ collection.OwnershipStore   = (*Store)(nil)
	_ business.Directory          = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		usd_amount TEXT NOT NULL,
		points INTEGER NOT NULL,
		external_ref TEXT UNIQUE,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance calculation and history (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_customer_kind
		ON transactions(customer_id, kind);
	CREATE INDEX IF NOT EXISTS idx_transactions_external_ref
		ON transactions(external_ref) WHERE external_ref IS NOT NULL;

	-- Receipts (claim tokens)
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		purchase_ref TEXT NOT NULL,
		business_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		usd_amount TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'ISSUED',
		claimed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_customer
		ON receipts(customer_id, issued_at DESC);
	CREATE INDEX IF NOT EXISTS idx_receipts_business
		ON receipts(business_id, issued_at DESC);

	-- Achievement definitions
	CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		min_transactions INTEGER DEFAULT 0,
		min_spent_usd TEXT DEFAULT '0',
		categories_json TEXT,
		reward_puzzle_id TEXT,
		active BOOLEAN DEFAULT TRUE
	);

	-- Achievement progress cache (last reported value per customer)
	CREATE TABLE IF NOT EXISTS achievement_progress (
		customer_id TEXT NOT NULL,
		achievement_id TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (customer_id, achievement_id)
	);

	-- Puzzle catalog
	CREATE TABLE IF NOT EXISTS puzzles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grid_x INTEGER NOT NULL,
		grid_y INTEGER NOT NULL,
		rarity TEXT NOT NULL,
		price_tokens INTEGER DEFAULT 0,
		active BOOLEAN DEFAULT TRUE
	);

	-- Ownerships (one grant per customer+puzzle)
	CREATE TABLE IF NOT EXISTS ownerships (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		puzzle_id TEXT NOT NULL,
		granted_at TEXT NOT NULL,
		external_ref TEXT,
		UNIQUE (customer_id, puzzle_id)
	);

	CREATE INDEX IF NOT EXISTS idx_ownerships_customer
		ON ownerships(customer_id);

	-- Business directory
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT,
		tokens_per_usd INTEGER NOT NULL DEFAULT 10,
		max_discount_percent INTEGER NOT NULL DEFAULT 50,
		active BOOLEAN DEFAULT TRUE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append adds a transaction to the ledger. A reused external reference
// maps the unique constraint violation to ErrDuplicateReference.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions
		(id, customer_id, business_id, kind, usd_amount, points, external_ref, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.BusinessID,
		tx.Kind,
		tx.USDAmount.String(),
		tx.Points,
		nullString(tx.ExternalRef),
		string(metadataJSON),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// ByCustomer returns all transactions for a customer in insertion order.
func (s *Store) ByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, business_id, kind, usd_amount, points, external_ref, metadata_json, created_at
		FROM transactions
		WHERE customer_id = ?
		ORDER BY created_at ASC, id ASC
	`

	return s.queryTransactions(ctx, query, customerID)
}

// ByReference returns the transaction recorded under an external reference.
func (s *Store) ByReference(ctx context.Context, ref string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, business_id, kind, usd_amount, points, external_ref, metadata_json, created_at
		FROM transactions
		WHERE external_ref = ?
	`

	txs, err := s.queryTransactions(ctx, query, ref)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(txs) == 0 {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return txs[0], nil
}

// RefExists checks if an external reference has been used.
func (s *Store) RefExists(ctx context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE external_ref = ?",
		ref,
	).Scan(&count)

	return count > 0, err
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx           ledger.Transaction
		usdAmount    string
		externalRef  sql.NullString
		metadataJSON sql.NullString
		createdAt    string
	)

	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &tx.BusinessID, &tx.Kind,
		&usdAmount, &tx.Points, &externalRef, &metadataJSON, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.USDAmount, _ = decimal.NewFromString(usdAmount)
	tx.ExternalRef = externalRef.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
	}

	return tx, nil
}

// =============================================================================
// RECEIPT STORE (receipt.Store interface)
// =============================================================================

// PutReceipt inserts or replaces a receipt record.
func (s *Store) PutReceipt(ctx context.Context, r receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO receipts (id, purchase_ref, business_id, customer_id, usd_amount, issued_at, expires_at, state, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			claimed_at = excluded.claimed_at
	`

	var claimedAt *string
	if r.ClaimedAt != nil {
		t := r.ClaimedAt.UTC().Format(time.RFC3339)
		claimedAt = &t
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.PurchaseRef, r.BusinessID, r.CustomerID,
		r.USDAmount.String(),
		r.IssuedAt.UTC().Format(time.RFC3339),
		r.ExpiresAt.UTC().Format(time.RFC3339),
		r.State,
		claimedAt,
	)
	return err
}

// GetReceipt retrieves a receipt by ID.
func (s *Store) GetReceipt(ctx context.Context, id receipt.ID) (receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, purchase_ref, business_id, customer_id, usd_amount, issued_at, expires_at, state, claimed_at
		FROM receipts WHERE id = ?
	`

	rs, err := s.queryReceipts(ctx, query, id)
	if err != nil {
		return receipt.Receipt{}, err
	}
	if len(rs) == 0 {
		return receipt.Receipt{}, ledger.ErrNotFound
	}
	return rs[0], nil
}

// MarkClaimed transitions a receipt from ISSUED to CLAIMED. The WHERE
// clause makes the transition a compare-and-set: a receipt already
// claimed (or in any other state) is left untouched.
func (s *Store) MarkClaimed(ctx context.Context, id receipt.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE receipts SET state = ?, claimed_at = ? WHERE id = ? AND state = ?",
		receipt.StateClaimed, at.UTC().Format(time.RFC3339), id, receipt.StateIssued,
	)
	if err != nil {
		return fmt.Errorf("failed to mark receipt claimed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish missing from already-claimed.
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM receipts WHERE id = ?", id).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ledger.ErrNotFound
		}
		return ledger.ErrAlreadyClaimed
	}
	return nil
}

// ReceiptsByCustomer returns a customer's receipts, newest first.
func (s *Store) ReceiptsByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, purchase_ref, business_id, customer_id, usd_amount, issued_at, expires_at, state, claimed_at
		FROM receipts
		WHERE customer_id = ?
		ORDER BY issued_at DESC
	`

	return s.queryReceipts(ctx, query, customerID)
}

// ReceiptsByBusiness returns a business's issued receipts, newest first.
func (s *Store) ReceiptsByBusiness(ctx context.Context, businessID ledger.BusinessID) ([]receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, purchase_ref, business_id, customer_id, usd_amount, issued_at, expires_at, state, claimed_at
		FROM receipts
		WHERE business_id = ?
		ORDER BY issued_at DESC
	`

	return s.queryReceipts(ctx, query, businessID)
}

func (s *Store) queryReceipts(ctx context.Context, query string, args ...any) ([]receipt.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []receipt.Receipt
	for rows.Next() {
		var (
			r         receipt.Receipt
			usdAmount string
			issuedAt  string
			expiresAt string
			claimedAt sql.NullString
		)

		if err := rows.Scan(
			&r.ID, &r.PurchaseRef, &r.BusinessID, &r.CustomerID,
			&usdAmount, &issuedAt, &expiresAt, &r.State, &claimedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}

		r.USDAmount, _ = decimal.NewFromString(usdAmount)
		r.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)
		r.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		if claimedAt.Valid {
			t, _ := time.Parse(time.RFC3339, claimedAt.String)
			r.ClaimedAt = &t
		}

		receipts = append(receipts, r)
	}

	return receipts, rows.Err()
}

// =============================================================================
// ACHIEVEMENT STORES (achievement.DefinitionStore, achievement.ProgressStore)
// =============================================================================

// PutDefinition inserts or updates an achievement definition.
func (s *Store) PutDefinition(ctx context.Context, def achievement.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categoriesJSON, _ := json.Marshal(def.Condition.Categories)

	query := `
		INSERT INTO achievements (id, name, description, min_transactions, min_spent_usd, categories_json, reward_puzzle_id, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			min_transactions = excluded.min_transactions,
			min_spent_usd = excluded.min_spent_usd,
			categories_json = excluded.categories_json,
			reward_puzzle_id = excluded.reward_puzzle_id,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		def.ID, def.Name, def.Description,
		def.Condition.MinTransactions,
		def.Condition.MinSpentUSD.String(),
		string(categoriesJSON),
		def.RewardPuzzleID,
		def.Active,
	)
	return err
}

// GetDefinition retrieves an achievement definition by ID.
func (s *Store) GetDefinition(ctx context.Context, id achievement.ID) (achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, min_transactions, min_spent_usd, categories_json, reward_puzzle_id, active
		FROM achievements WHERE id = ?
	`

	defs, err := s.queryDefinitions(ctx, query, id)
	if err != nil {
		return achievement.Definition{}, err
	}
	if len(defs) == 0 {
		return achievement.Definition{}, ledger.ErrNotFound
	}
	return defs[0], nil
}

// ListActiveDefinitions returns all active achievement definitions.
func (s *Store) ListActiveDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, min_transactions, min_spent_usd, categories_json, reward_puzzle_id, active
		FROM achievements
		WHERE active = TRUE
		ORDER BY id ASC
	`

	return s.queryDefinitions(ctx, query)
}

func (s *Store) queryDefinitions(ctx context.Context, query string, args ...any) ([]achievement.Definition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query achievements: %w", err)
	}
	defer rows.Close()

	var defs []achievement.Definition
	for rows.Next() {
		var (
			def            achievement.Definition
			description    sql.NullString
			minSpent       string
			categoriesJSON sql.NullString
			rewardPuzzle   sql.NullString
		)

		if err := rows.Scan(
			&def.ID, &def.Name, &description,
			&def.Condition.MinTransactions, &minSpent, &categoriesJSON,
			&rewardPuzzle, &def.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}

		def.Description = description.String
		def.Condition.MinSpentUSD, _ = decimal.NewFromString(minSpent)
		if categoriesJSON.Valid && categoriesJSON.String != "" {
			json.Unmarshal([]byte(categoriesJSON.String), &def.Condition.Categories)
		}
		def.RewardPuzzleID = rewardPuzzle.String

		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// GetProgress returns the last reported progress for a customer+achievement.
// A pair never evaluated reads as 0.
func (s *Store) GetProgress(ctx context.Context, customer ledger.CustomerID, id achievement.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var progress int
	err := s.db.QueryRowContext(ctx,
		"SELECT progress FROM achievement_progress WHERE customer_id = ? AND achievement_id = ?",
		customer, id,
	).Scan(&progress)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return progress, nil
}

// PutProgress records the progress for a customer+achievement.
func (s *Store) PutProgress(ctx context.Context, customer ledger.CustomerID, id achievement.ID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO achievement_progress (customer_id, achievement_id, progress, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(customer_id, achievement_id) DO UPDATE SET
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		customer, id, progress, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// COLLECTION STORES (collection.PuzzleStore, collection.OwnershipStore)
// =============================================================================

// PutPuzzle inserts or updates a puzzle record.
func (s *Store) PutPuzzle(ctx context.Context, p collection.Puzzle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO puzzles (id, name, grid_x, grid_y, rarity, price_tokens, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			grid_x = excluded.grid_x,
			grid_y = excluded.grid_y,
			rarity = excluded.rarity,
			price_tokens = excluded.price_tokens,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.GridX, p.GridY, p.Rarity, p.PriceTokens, p.Active,
	)
	return err
}

// GetPuzzle retrieves a puzzle by ID.
func (s *Store) GetPuzzle(ctx context.Context, id collection.PuzzleID) (collection.Puzzle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p collection.Puzzle
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, grid_x, grid_y, rarity, price_tokens, active FROM puzzles WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &p.GridX, &p.GridY, &p.Rarity, &p.PriceTokens, &p.Active)

	if err == sql.ErrNoRows {
		return collection.Puzzle{}, ledger.ErrNotFound
	}
	if err != nil {
		return collection.Puzzle{}, err
	}
	return p, nil
}

// ListActivePuzzles returns all active puzzles.
func (s *Store) ListActivePuzzles(ctx context.Context) ([]collection.Puzzle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, grid_x, grid_y, rarity, price_tokens, active FROM puzzles WHERE active = TRUE ORDER BY id ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var puzzles []collection.Puzzle
	for rows.Next() {
		var p collection.Puzzle
		if err := rows.Scan(&p.ID, &p.Name, &p.GridX, &p.GridY, &p.Rarity, &p.PriceTokens, &p.Active); err != nil {
			return nil, err
		}
		puzzles = append(puzzles, p)
	}
	return puzzles, rows.Err()
}

// Grant records an ownership. A duplicate (customer, puzzle) pair hits
// the unique index; the existing record is returned with created=false.
func (s *Store) Grant(ctx context.Context, o collection.Ownership) (collection.Ownership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ownerships (id, customer_id, puzzle_id, granted_at, external_ref)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.CustomerID, o.PuzzleID,
		o.GrantedAt.UTC().Format(time.RFC3339),
		nullString(o.ExternalRef),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			existing, getErr := s.ownershipLocked(ctx, o.CustomerID, o.PuzzleID)
			if getErr != nil {
				return collection.Ownership{}, false, getErr
			}
			return existing, false, nil
		}
		return collection.Ownership{}, false, fmt.Errorf("failed to grant ownership: %w", err)
	}

	return o, true, nil
}

// Owns checks whether a customer owns a puzzle.
func (s *Store) Owns(ctx context.Context, customer ledger.CustomerID, puzzle collection.PuzzleID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ownerships WHERE customer_id = ? AND puzzle_id = ?",
		customer, puzzle,
	).Scan(&count)

	return count > 0, err
}

// OwnershipsByCustomer returns a customer's grants ordered by puzzle ID.
func (s *Store) OwnershipsByCustomer(ctx context.Context, customer ledger.CustomerID) ([]collection.Ownership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, puzzle_id, granted_at, external_ref
		FROM ownerships
		WHERE customer_id = ?
		ORDER BY puzzle_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, customer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ownerships []collection.Ownership
	for rows.Next() {
		o, err := scanOwnership(rows)
		if err != nil {
			return nil, err
		}
		ownerships = append(ownerships, o)
	}
	return ownerships, rows.Err()
}

func (s *Store) ownershipLocked(ctx context.Context, customer ledger.CustomerID, puzzle collection.PuzzleID) (collection.Ownership, error) {
	var (
		o           collection.Ownership
		grantedAt   string
		externalRef sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, customer_id, puzzle_id, granted_at, external_ref FROM ownerships WHERE customer_id = ? AND puzzle_id = ?",
		customer, puzzle,
	).Scan(&o.ID, &o.CustomerID, &o.PuzzleID, &grantedAt, &externalRef)

	if err == sql.ErrNoRows {
		return collection.Ownership{}, ledger.ErrNotFound
	}
	if err != nil {
		return collection.Ownership{}, err
	}

	o.GrantedAt, _ = time.Parse(time.RFC3339, grantedAt)
	o.ExternalRef = externalRef.String
	return o, nil
}

func scanOwnership(rows *sql.Rows) (collection.Ownership, error) {
	var (
		o           collection.Ownership
		grantedAt   string
		externalRef sql.NullString
	)

	if err := rows.Scan(&o.ID, &o.CustomerID, &o.PuzzleID, &grantedAt, &externalRef); err != nil {
		return o, fmt.Errorf("failed to scan ownership: %w", err)
	}

	o.GrantedAt, _ = time.Parse(time.RFC3339, grantedAt)
	o.ExternalRef = externalRef.String
	return o, nil
}

// =============================================================================
// BUSINESS DIRECTORY (business.Directory interface)
// =============================================================================

// PutBusiness inserts or updates a business record.
func (s *Store) PutBusiness(ctx context.Context, b business.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO businesses (id, name, category, tokens_per_usd, max_discount_percent, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			tokens_per_usd = excluded.tokens_per_usd,
			max_discount_percent = excluded.max_discount_percent,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Name, b.Category, b.TokensPerUSD, b.MaxDiscountPercent, b.Active,
	)
	return err
}

// GetBusiness retrieves a business by ID.
func (s *Store) GetBusiness(ctx context.Context, id ledger.BusinessID) (business.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b        business.Business
		category sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, category, tokens_per_usd, max_discount_percent, active FROM businesses WHERE id = ?",
		id,
	).Scan(&b.ID, &b.Name, &category, &b.TokensPerUSD, &b.MaxDiscountPercent, &b.Active)

	if err == sql.ErrNoRows {
		return business.Business{}, ledger.ErrNotFound
	}
	if err != nil {
		return business.Business{}, err
	}

	b.Category = category.String
	return b, nil
}

// ListBusinesses returns all businesses (for admin views).
func (s *Store) ListBusinesses(ctx context.Context) ([]business.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, category, tokens_per_usd, max_discount_percent, active FROM businesses ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var businesses []business.Business
	for rows.Next() {
		var (
			b        business.Business
			category sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Name, &category, &b.TokensPerUSD, &b.MaxDiscountPercent, &b.Active); err != nil {
			return nil, err
		}
		b.Category = category.String
		businesses = append(businesses, b)
	}
	return businesses, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "receipts", "achievement_progress", "achievements", "ownerships", "puzzles", "businesses"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
