package dispatch

import (
	"context"

	"commitwatch/pkg/domain"
)

// HandlerFunc receives one net change. The scope is shared by every handler
// call of the same node within one dispatch cycle.
type HandlerFunc func(ctx context.Context, scope *Scope, change domain.Change) error

// WrapFunc surrounds a node's handler calls for one dispatch cycle. It must
// call run exactly once to deliver the changes.
type WrapFunc func(ctx context.Context, scope *Scope, run func(context.Context) error) error

// Handler binds a HandlerFunc to the class it was registered for.
type Handler struct {
	Class *domain.Class
	// Only restricts the handler to the listed kinds; empty accepts all.
	Only []domain.ChangeKind
	Fn   HandlerFunc
}

// Accepts reports whether the handler wants changes of the given kind.
func (h *Handler) Accepts(kind domain.ChangeKind) bool {
	if len(h.Only) == 0 {
		return true
	}
	for _, k := range h.Only {
		if k == kind {
			return true
		}
	}
	return false
}

// Node is the view of a subscriber node the dispatcher needs.
type Node interface {
	ID() string
	// HandlerFor resolves the handler for class, falling back through its
	// ancestors. A missing handler is a domain.ConfigurationError.
	HandlerFor(class *domain.Class) (*Handler, error)
	// NewState returns the per-dispatch state for a fresh scope; may be nil.
	NewState() any
	// Wrapper returns the node's wrap hook or nil.
	Wrapper() WrapFunc
}

// Lookup resolves node ids to nodes.
type Lookup interface {
	Lookup(id string) (Node, error)
}
