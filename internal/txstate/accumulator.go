// Package txstate keeps, per database connection, the set of records that
// changed during the connection's open transaction.
package txstate

import (
	"context"

	"commitwatch/internal/tracking"
	"commitwatch/pkg/domain"
)

// Dispatcher consumes a drained change set.
type Dispatcher interface {
	Dispatch(ctx context.Context, set *domain.ChangeSet) error
}

// Accumulator is the change set of one connection's current transaction.
// It is only touched by the goroutine driving that connection.
type Accumulator struct {
	conn    domain.ConnID
	records []tracking.Trackable
	index   map[tracking.Trackable]struct{}
}

func newAccumulator(conn domain.ConnID) *Accumulator {
	return &Accumulator{conn: conn, index: make(map[tracking.Trackable]struct{})}
}

// Conn returns the connection the accumulator belongs to.
func (a *Accumulator) Conn() domain.ConnID { return a.conn }

// Register adds rec to the change set. Registering the same instance twice
// is a no-op; two instances loaded from the same row are kept separately.
func (a *Accumulator) Register(rec tracking.Trackable) {
	if _, ok := a.index[rec]; ok {
		return
	}
	a.index[rec] = struct{}{}
	a.records = append(a.records, rec)
}

// Len returns the number of changed records.
func (a *Accumulator) Len() int { return len(a.records) }

// Records returns the changed records in registration order.
func (a *Accumulator) Records() []tracking.Trackable {
	return append([]tracking.Trackable(nil), a.records...)
}

// Drain resolves every changed record, merges the results additively, clears
// each record's tracker and empties the set. Draining an empty accumulator
// returns an empty change set.
func (a *Accumulator) Drain() *domain.ChangeSet {
	merged := domain.NewChangeSet()
	if len(a.records) == 0 {
		return merged
	}
	records := a.records
	a.reset()
	for _, rec := range records {
		t := rec.Tracker()
		merged.Merge(t.Resolve(rec))
		t.Clear()
	}
	return merged
}

// DrainAndDispatchOnce drains the set and hands the result to d. When the set
// is already empty nothing is dispatched, which makes repeated commit
// callbacks for the same transaction harmless. Mutations made by handlers
// land in a fresh change set.
func (a *Accumulator) DrainAndDispatchOnce(ctx context.Context, d Dispatcher) (records int, err error) {
	records = len(a.records)
	if records == 0 {
		return 0, nil
	}
	set := a.Drain()
	if set.Empty() {
		return records, nil
	}
	return records, d.Dispatch(ctx, set)
}

// Discard clears every changed record's tracker and empties the set without
// dispatching. It returns the number of discarded records.
func (a *Accumulator) Discard() int {
	n := len(a.records)
	for _, rec := range a.records {
		rec.Tracker().Clear()
	}
	a.reset()
	return n
}

func (a *Accumulator) reset() {
	a.records = nil
	a.index = make(map[tracking.Trackable]struct{})
}
