package dispatch

import (
	"time"

	"commitwatch/pkg/domain"
)

// Scope is the per-node, per-dispatch-cycle context handlers run in. It is
// created before the first handler call of a node and discarded after the
// last one, so nothing stored in it survives into the next commit.
type Scope struct {
	node    string
	cycle   string
	state   any
	opened  time.Time
	changes []domain.Change
	closed  bool
}

func openScope(node, cycle string, state any, now time.Time) *Scope {
	return &Scope{node: node, cycle: cycle, state: state, opened: now}
}

// Node returns the id of the node being dispatched.
func (s *Scope) Node() string { return s.node }

// Cycle returns the id of the dispatch cycle.
func (s *Scope) Cycle() string { return s.cycle }

// State returns the value produced by the node's state factory.
func (s *Scope) State() any { return s.state }

// Opened returns when the scope was opened.
func (s *Scope) Opened() time.Time { return s.opened }

// Changes returns the changes delivered so far in this scope.
func (s *Scope) Changes() []domain.Change {
	return append([]domain.Change(nil), s.changes...)
}

// Closed reports whether the dispatch cycle for this scope has finished.
func (s *Scope) Closed() bool { return s.closed }

func (s *Scope) deliver(change domain.Change) {
	s.changes = append(s.changes, change)
}

func (s *Scope) close() { s.closed = true }
