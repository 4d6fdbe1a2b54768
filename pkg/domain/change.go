package domain

import "fmt"

// ChangeKind enumerates the net change types delivered to handlers.
type ChangeKind uint8

const (
	// Insert reports a record created during the transaction.
	Insert ChangeKind = iota + 1
	// Update reports attribute changes on an existing record.
	Update
	// Delete reports a record destroyed during the transaction.
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// ParseChangeKind maps insert|update|delete to a ChangeKind.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "insert":
		return Insert, nil
	case "update":
		return Update, nil
	case "delete":
		return Delete, nil
	}
	return 0, fmt.Errorf("unknown change kind %q", s)
}

// AttributeChange is a single attribute write reported by the persistence
// host before the row is updated. Before is the value prior to this write.
type AttributeChange struct {
	Name   string
	Before any
	After  any
}

// AttributeDiff is the collapsed before/after pair of one attribute across a
// whole transaction.
type AttributeDiff struct {
	Before any
	After  any
}

// Diff maps attribute names to their collapsed change.
type Diff map[string]AttributeDiff

// Change is the net effect of a transaction on one record, as seen by one node.
// Diff is empty for inserts, deletes and nodes that do not track attributes.
type Change struct {
	Kind   ChangeKind
	Record Record
	Diff   Diff
}

// ChangeSet groups resolved changes per node id, preserving the order in which
// nodes first appeared and the order of changes within each node.
type ChangeSet struct {
	order   []string
	changes map[string][]Change
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{changes: make(map[string][]Change)}
}

// Add appends a change for the node.
func (s *ChangeSet) Add(node string, change Change) {
	if s.changes == nil {
		s.changes = make(map[string][]Change)
	}
	if _, ok := s.changes[node]; !ok {
		s.order = append(s.order, node)
	}
	s.changes[node] = append(s.changes[node], change)
}

// Merge appends every change of other. Changes for a node already present are
// concatenated, never replaced.
func (s *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	for _, node := range other.order {
		for _, change := range other.changes[node] {
			s.Add(node, change)
		}
	}
}

// Nodes returns the node ids in first-appearance order.
func (s *ChangeSet) Nodes() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// For returns the changes recorded for node.
func (s *ChangeSet) For(node string) []Change {
	if s == nil {
		return nil
	}
	return append([]Change(nil), s.changes[node]...)
}

// Len returns the total number of changes across all nodes.
func (s *ChangeSet) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, changes := range s.changes {
		n += len(changes)
	}
	return n
}

// Empty reports whether the set holds no changes.
func (s *ChangeSet) Empty() bool { return s.Len() == 0 }
