package registry

import (
	"fmt"
	"sync"

	"commitwatch/internal/dispatch"
	"commitwatch/pkg/domain"
)

const (
	// None declares a presence-only dependency: the node hears about inserts
	// and deletes of the class but not attribute updates.
	None = ":none"
	// Any declares a dependency on every attribute of the class without
	// receiving per-attribute diffs.
	Any = ":any"
)

type dependency struct {
	class *domain.Class
	attrs []string
}

// HandlerOption customises a handler registration.
type HandlerOption func(*dispatch.Handler)

// Only restricts a handler to the given change kinds.
func Only(kinds ...domain.ChangeKind) HandlerOption {
	return func(h *dispatch.Handler) {
		h.Only = append(h.Only, kinds...)
	}
}

// Node is a named subscription: the classes and attributes it depends on and
// the handlers that receive net changes for them. Build it with NewNode and
// the chained setters, then hand it to Registry.Register. A node must not be
// modified after registration.
type Node struct {
	id       string
	deps     []dependency
	handlers map[*domain.Class]*dispatch.Handler
	state    func() any
	wrap     dispatch.WrapFunc
	errs     []error

	mu       sync.RWMutex
	resolved map[*domain.Class]*dispatch.Handler
}

// NewNode starts the definition of a node.
func NewNode(id string) *Node {
	return &Node{
		id:       id,
		handlers: make(map[*domain.Class]*dispatch.Handler),
		resolved: make(map[*domain.Class]*dispatch.Handler),
	}
}

// DependsOn declares the attributes of class the node watches. Repeated calls
// for the same class extend the attribute list. Use None or Any as the sole
// attribute for presence-only or any-attribute tracking.
func (n *Node) DependsOn(class *domain.Class, attrs ...string) *Node {
	if class == nil {
		n.fail("", "dependency on nil class")
		return n
	}
	if len(attrs) == 0 {
		n.fail(class.Name(), "must depend on some attributes; use registry.None or registry.Any")
		return n
	}
	for i := range n.deps {
		if n.deps[i].class == class {
			n.deps[i].attrs = append(n.deps[i].attrs, attrs...)
			return n
		}
	}
	n.deps = append(n.deps, dependency{class: class, attrs: append([]string(nil), attrs...)})
	return n
}

// Handle registers fn for class. At most one handler per class is allowed.
func (n *Node) Handle(class *domain.Class, fn dispatch.HandlerFunc, opts ...HandlerOption) *Node {
	switch {
	case class == nil:
		n.fail("", "handler for nil class")
		return n
	case fn == nil:
		n.fail(class.Name(), "nil handler func")
		return n
	}
	if _, exists := n.handlers[class]; exists {
		n.fail(class.Name(), "already defined handler")
		return n
	}
	h := &dispatch.Handler{Class: class, Fn: fn}
	for _, opt := range opts {
		opt(h)
	}
	n.handlers[class] = h
	return n
}

// WithState sets the factory for per-dispatch state. It is called once per
// node per dispatch cycle and the result is exposed through Scope.State.
func (n *Node) WithState(factory func() any) *Node {
	n.state = factory
	return n
}

// Wrap installs a hook run around the node's handlers in each dispatch cycle.
func (n *Node) Wrap(fn dispatch.WrapFunc) *Node {
	n.wrap = fn
	return n
}

// ID returns the node identity.
func (n *Node) ID() string { return n.id }

// NewState returns fresh per-dispatch state, or nil without a factory.
func (n *Node) NewState() any {
	if n.state == nil {
		return nil
	}
	return n.state()
}

// Wrapper returns the wrap hook, nil when none was installed.
func (n *Node) Wrapper() dispatch.WrapFunc { return n.wrap }

// Classes returns the classes the node depends on in declaration order.
func (n *Node) Classes() []*domain.Class {
	out := make([]*domain.Class, 0, len(n.deps))
	for _, d := range n.deps {
		out = append(out, d.class)
	}
	return out
}

// Attributes returns the declared attributes for class.
func (n *Node) Attributes(class *domain.Class) []string {
	for _, d := range n.deps {
		if d.class == class {
			return append([]string(nil), d.attrs...)
		}
	}
	return nil
}

// HandlerFor returns the handler for class, walking up the class hierarchy
// when no handler is registered for the exact class. Results are cached per
// concrete class.
func (n *Node) HandlerFor(class *domain.Class) (*dispatch.Handler, error) {
	n.mu.RLock()
	h, ok := n.resolved[class]
	n.mu.RUnlock()
	if ok {
		return h, nil
	}
	h = n.lookupHandler(class)
	if h == nil {
		return nil, domain.ConfigurationError{
			Node:   n.id,
			Class:  class.Name(),
			Reason: "no handler registered for class or any of its ancestors",
		}
	}
	n.mu.Lock()
	n.resolved[class] = h
	n.mu.Unlock()
	return h, nil
}

func (n *Node) lookupHandler(class *domain.Class) *dispatch.Handler {
	for _, c := range class.Ancestors() {
		if h, ok := n.handlers[c]; ok {
			return h
		}
	}
	return nil
}

func (n *Node) fail(class, reason string) {
	n.errs = append(n.errs, domain.ConfigurationError{Node: n.id, Class: class, Reason: reason})
}

func (n *Node) validate() error {
	if n.id == "" {
		return domain.ConfigurationError{Reason: "node id must not be empty"}
	}
	if len(n.errs) > 0 {
		return n.errs[0]
	}
	for _, d := range n.deps {
		if len(d.attrs) > 1 {
			for _, a := range d.attrs {
				if a == None || a == Any {
					return domain.ConfigurationError{
						Node:   n.id,
						Class:  d.class.Name(),
						Reason: fmt.Sprintf("%s cannot be combined with other attributes", a),
					}
				}
			}
		}
	}
	return nil
}

// preresolve fills the handler cache for every declared class so that
// dispatch on those classes never walks the hierarchy.
func (n *Node) preresolve() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, d := range n.deps {
		if h := n.lookupHandler(d.class); h != nil {
			n.resolved[d.class] = h
		}
	}
	for class, h := range n.handlers {
		n.resolved[class] = h
	}
}
