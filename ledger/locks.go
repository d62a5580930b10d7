package ledger

import "sync"

// =============================================================================
// CUSTOMER LOCKS - Per-customer critical sections
// =============================================================================

// CustomerLocks serializes balance-affecting operations per customer.
// Anything that reads the ledger and then decides to append (debit against
// a balance, claim of a receipt, grant of a reward) must run inside the
// customer's critical section; operations on different customers proceed
// in parallel.
type CustomerLocks struct {
	mu    sync.Mutex
	locks map[CustomerID]*sync.Mutex
}

func NewCustomerLocks() *CustomerLocks {
	return &CustomerLocks{locks: make(map[CustomerID]*sync.Mutex)}
}

// Lock acquires the lock for a customer, creating it on first use.
// Lock entries are never removed; the set of active customers is small
// relative to the ledger itself.
func (c *CustomerLocks) Lock(id CustomerID) {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	c.mu.Unlock()
	l.Lock()
}

func (c *CustomerLocks) Unlock(id CustomerID) {
	c.mu.Lock()
	l := c.locks[id]
	c.mu.Unlock()
	l.Unlock()
}
