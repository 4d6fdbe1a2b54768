package txstate

import (
	"sync"

	"commitwatch/pkg/domain"
)

// Table maps connections to their accumulators. The mutex only protects the
// map; accumulators themselves belong to a single connection.
type Table struct {
	mu   sync.Mutex
	accs map[domain.ConnID]*Accumulator
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{accs: make(map[domain.ConnID]*Accumulator)}
}

// For returns the accumulator of conn, creating it on first use.
func (t *Table) For(conn domain.ConnID) *Accumulator {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.accs[conn]
	if !ok {
		acc = newAccumulator(conn)
		t.accs[conn] = acc
	}
	return acc
}

// Peek returns the accumulator of conn without creating one.
func (t *Table) Peek(conn domain.ConnID) (*Accumulator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.accs[conn]
	return acc, ok
}

// Release forgets conn. Pending changes are discarded.
func (t *Table) Release(conn domain.ConnID) {
	t.mu.Lock()
	acc, ok := t.accs[conn]
	delete(t.accs, conn)
	t.mu.Unlock()
	if ok {
		acc.Discard()
	}
}

// Len returns the number of tracked connections.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.accs)
}
