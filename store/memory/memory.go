/*
Package memory provides an in-memory implementation of every storage
interface (ledger, receipts, achievements, puzzles, ownerships,
businesses). Used by tests and development; the SQLite store carries
the same semantics into production, including every uniqueness
guarantee (external reference, one ownership per customer+puzzle).
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/achievement"
	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/collection"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/receipt"
)

type ownershipKey struct {
	Customer ledger.CustomerID
	Puzzle   collection.PuzzleID
}

type progressKey struct {
	Customer    ledger.CustomerID
	Achievement achievement.ID
}

// Store holds everything in maps guarded by a single RWMutex. Good
// enough for tests; the per-customer atomicity guarantee lives above
// the store either way.
type Store struct {
	mu sync.RWMutex

	transactions map[ledger.CustomerID][]ledger.Transaction
	byRef        map[string]ledger.Transaction

	receipts map[receipt.ID]receipt.Receipt

	definitions map[achievement.ID]achievement.Definition
	progress    map[progressKey]int

	puzzles    map[collection.PuzzleID]collection.Puzzle
	ownerships map[ownershipKey]collection.Ownership

	businesses map[ledger.BusinessID]business.Business
}

func New() *Store {
	return &Store{
		transactions: make(map[ledger.CustomerID][]ledger.Transaction),
		byRef:        make(map[string]ledger.Transaction),
		receipts:     make(map[receipt.ID]receipt.Receipt),
		definitions:  make(map[achievement.ID]achievement.Definition),
		progress:     make(map[progressKey]int),
		puzzles:      make(map[collection.PuzzleID]collection.Puzzle),
		ownerships:   make(map[ownershipKey]collection.Ownership),
		businesses:   make(map[ledger.BusinessID]business.Business),
	}
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

// =============================================================================
// LEDGER STORE (ledger.Store)
// =============================================================================

// Append adds a transaction. Append-only; rejects reused references.
func (m *Store) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Detach from the caller's map so later mutations cannot reach
	// into the stored entry.
	if tx.Metadata != nil {
		meta := make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			meta[k] = v
		}
		tx.Metadata = meta
	}

	if tx.ExternalRef != "" {
		if _, dup := m.byRef[tx.ExternalRef]; dup {
			return ledger.ErrDuplicateReference
		}
		m.byRef[tx.ExternalRef] = tx
	}
	m.transactions[tx.CustomerID] = append(m.transactions[tx.CustomerID], tx)
	return nil
}

func (m *Store) ByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.transactions[customerID]
	result := make([]ledger.Transaction, len(txs))
	copy(result, txs)
	return result, nil
}

func (m *Store) ByReference(_ context.Context, ref string) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byRef[ref]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (m *Store) RefExists(_ context.Context, ref string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byRef[ref]
	return ok, nil
}

// =============================================================================
// RECEIPT STORE (receipt.Store)
// =============================================================================

func (m *Store) PutReceipt(_ context.Context, r receipt.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[r.ID] = r
	return nil
}

func (m *Store) GetReceipt(_ context.Context, id receipt.ID) (receipt.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.receipts[id]
	if !ok {
		return receipt.Receipt{}, ledger.ErrNotFound
	}
	return r, nil
}

func (m *Store) MarkClaimed(_ context.Context, id receipt.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.receipts[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if r.State != receipt.StateIssued {
		return ledger.ErrAlreadyClaimed
	}
	r.State = receipt.StateClaimed
	r.ClaimedAt = &at
	m.receipts[id] = r
	return nil
}

func (m *Store) ReceiptsByCustomer(_ context.Context, customerID ledger.CustomerID) ([]receipt.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []receipt.Receipt
	for _, r := range m.receipts {
		if r.CustomerID == customerID {
			result = append(result, r)
		}
	}
	sortReceipts(result)
	return result, nil
}

func (m *Store) ReceiptsByBusiness(_ context.Context, businessID ledger.BusinessID) ([]receipt.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []receipt.Receipt
	for _, r := range m.receipts {
		if r.BusinessID == businessID {
			result = append(result, r)
		}
	}
	sortReceipts(result)
	return result, nil
}

// sortReceipts orders newest first for history views.
func sortReceipts(rs []receipt.Receipt) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].IssuedAt.After(rs[j].IssuedAt) })
}

// =============================================================================
// ACHIEVEMENT STORES (achievement.DefinitionStore, achievement.ProgressStore)
// =============================================================================

func (m *Store) PutDefinition(_ context.Context, def achievement.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
	return nil
}

func (m *Store) GetDefinition(_ context.Context, id achievement.ID) (achievement.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.definitions[id]
	if !ok {
		return achievement.Definition{}, ledger.ErrNotFound
	}
	return def, nil
}

func (m *Store) ListActiveDefinitions(_ context.Context) ([]achievement.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []achievement.Definition
	for _, def := range m.definitions {
		if def.Active {
			result = append(result, def)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Store) GetProgress(_ context.Context, customer ledger.CustomerID, id achievement.ID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress[progressKey{Customer: customer, Achievement: id}], nil
}

func (m *Store) PutProgress(_ context.Context, customer ledger.CustomerID, id achievement.ID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[progressKey{Customer: customer, Achievement: id}] = progress
	return nil
}

// =============================================================================
// COLLECTION STORES (collection.PuzzleStore, collection.OwnershipStore)
// =============================================================================

func (m *Store) PutPuzzle(_ context.Context, p collection.Puzzle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puzzles[p.ID] = p
	return nil
}

func (m *Store) GetPuzzle(_ context.Context, id collection.PuzzleID) (collection.Puzzle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.puzzles[id]
	if !ok {
		return collection.Puzzle{}, ledger.ErrNotFound
	}
	return p, nil
}

func (m *Store) ListActivePuzzles(_ context.Context) ([]collection.Puzzle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []collection.Puzzle
	for _, p := range m.puzzles {
		if p.Active {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Grant records ownership; a duplicate (customer, puzzle) pair returns
// the existing record unchanged.
func (m *Store) Grant(_ context.Context, o collection.Ownership) (collection.Ownership, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := ownershipKey{Customer: o.CustomerID, Puzzle: o.PuzzleID}
	if existing, ok := m.ownerships[k]; ok {
		return existing, false, nil
	}
	m.ownerships[k] = o
	return o, true, nil
}

func (m *Store) Owns(_ context.Context, customer ledger.CustomerID, puzzle collection.PuzzleID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ownerships[ownershipKey{Customer: customer, Puzzle: puzzle}]
	return ok, nil
}

func (m *Store) OwnershipsByCustomer(_ context.Context, customer ledger.CustomerID) ([]collection.Ownership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []collection.Ownership
	for k, o := range m.ownerships {
		if k.Customer == customer {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PuzzleID < result[j].PuzzleID })
	return result, nil
}

// =============================================================================
// BUSINESS DIRECTORY (business.Directory)
// =============================================================================

func (m *Store) PutBusiness(_ context.Context, b business.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.ID] = b
	return nil
}

func (m *Store) GetBusiness(_ context.Context, id ledger.BusinessID) (business.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.businesses[id]
	if !ok {
		return business.Business{}, ledger.ErrNotFound
	}
	return b, nil
}
