package core

import (
	"errors"
	"sync"
)

// ErrLedgerClosed is returned when a query is appended after the ledger has
// been frozen. This indicates a capability outlived its turn and is a
// programming defect to surface, never to silently drop.
var ErrLedgerClosed = errors.New("ledger is closed for appends")

// Ledger is the turn-scoped, append-only record of every structured query
// generated during a turn. It is safe for concurrent appends from multiple
// in-flight capabilities; arrival order is the single total order, regardless
// of caller-declared sequence numbers.
//
// A ledger is created by the turn coordinator, handed to capabilities for the
// turn's duration only, frozen before ranking and discarded afterwards. It is
// never shared across turns.
type Ledger struct {
	mu      sync.Mutex
	entries []StructuredQuery
	frozen  bool
}

// NewLedger creates an empty, open ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: []StructuredQuery{}}
}

// Append records a query, assigning its global Position by arrival order.
// The stored entry (with Position set) is returned. Appending to a frozen
// ledger fails with ErrLedgerClosed.
func (l *Ledger) Append(q StructuredQuery) (StructuredQuery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return StructuredQuery{}, ErrLedgerClosed
	}
	q.Position = len(l.entries)
	l.entries = append(l.entries, q)
	return q, nil
}

// Snapshot returns an immutable copy of the current entries. Taking a
// snapshot does not block further appends.
func (l *Ledger) Snapshot() []StructuredQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked()
}

// Freeze closes the ledger for appends and returns the final snapshot. All
// ranking operates on this one fixed snapshot. Freeze is idempotent.
func (l *Ledger) Freeze() []StructuredQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen = true
	return l.copyLocked()
}

// Frozen reports whether the ledger has been closed for appends.
func (l *Ledger) Frozen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}

// Len returns the current number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// QueriesWithData returns the subset of entries whose execution returned
// non-empty results, preserving arrival order. The format/analysis stage
// consumes this filtered view while the ranker always sees the full snapshot.
func (l *Ledger) QueriesWithData() []StructuredQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StructuredQuery, 0, len(l.entries))
	for _, q := range l.entries {
		if q.ReturnedData {
			out = append(out, q)
		}
	}
	return out
}

func (l *Ledger) copyLocked() []StructuredQuery {
	out := make([]StructuredQuery, len(l.entries))
	copy(out, l.entries)
	return out
}
