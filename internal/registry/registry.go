// Package registry holds the subscription table: which nodes watch which
// entity classes and attributes, and the handlers they run. It is written
// during a single configuration phase and read concurrently afterwards.
package registry

import (
	"sync"

	"commitwatch/internal/dispatch"
	"commitwatch/pkg/domain"
)

// Registry owns the registered nodes and the per-class tracking sets.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	order   []string
	classes map[*domain.Class]*Subscriptions
	// effective caches the tracking sets merged across a class's ancestors.
	effective map[*domain.Class]*Subscriptions
	sealed    bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		nodes:     make(map[string]*Node),
		classes:   make(map[*domain.Class]*Subscriptions),
		effective: make(map[*domain.Class]*Subscriptions),
	}
}

// Register validates node and compiles its dependencies into the tracking
// sets of each class it depends on.
func (r *Registry) Register(node *Node) error {
	if node == nil {
		return domain.ConfigurationError{Reason: "nil node"}
	}
	if err := node.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return domain.ConfigurationError{Node: node.id, Reason: "registry is sealed; register nodes before the engine starts"}
	}
	if _, exists := r.nodes[node.id]; exists {
		return domain.ConfigurationError{Node: node.id, Reason: "node already defined"}
	}
	for _, dep := range node.deps {
		subs, ok := r.classes[dep.class]
		if !ok {
			subs = newSubscriptions()
			r.classes[dep.class] = subs
		}
		switch {
		case len(dep.attrs) == 1 && dep.attrs[0] == None:
			subs.trackPresence(node.id)
		case len(dep.attrs) == 1 && dep.attrs[0] == Any:
			subs.trackAny(node.id)
		default:
			for _, attr := range dep.attrs {
				subs.trackAttr(attr, node.id)
			}
		}
	}
	node.preresolve()
	r.nodes[node.id] = node
	r.order = append(r.order, node.id)
	r.effective = make(map[*domain.Class]*Subscriptions)
	return nil
}

// MustRegister registers node and panics on configuration errors. Intended
// for package-level setup.
func (r *Registry) MustRegister(node *Node) {
	if err := r.Register(node); err != nil {
		panic(err)
	}
}

// Seal ends the configuration phase. Later Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Find returns the node registered under id.
func (r *Registry) Find(id string) (*Node, error) {
	r.mu.RLock()
	node, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NoSuchNodeError{Node: id}
	}
	return node, nil
}

// Lookup implements dispatch.Lookup.
func (r *Registry) Lookup(id string) (dispatch.Node, error) {
	node, err := r.Find(id)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Nodes returns registered node ids in registration order.
func (r *Registry) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Subscriptions returns the tracking sets that apply to instances of class,
// including those declared on its ancestors. The result is nil when no node
// tracks the class.
func (r *Registry) Subscriptions(class *domain.Class) *Subscriptions {
	r.mu.RLock()
	subs, ok := r.effective[class]
	r.mu.RUnlock()
	if ok {
		return subs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.effective[class]; ok {
		return subs
	}
	var merged *Subscriptions
	ancestors := class.Ancestors()
	for i := len(ancestors) - 1; i >= 0; i-- {
		own, ok := r.classes[ancestors[i]]
		if !ok {
			continue
		}
		if merged == nil {
			merged = newSubscriptions()
		}
		merged.merge(own)
	}
	r.effective[class] = merged
	return merged
}

// Check reports every dependency whose class has no resolvable handler on
// its node. Such a node would fail at dispatch time with a
// ConfigurationError; Check surfaces the problem before any commit.
func (r *Registry) Check() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var problems []error
	for _, id := range r.order {
		node := r.nodes[id]
		for _, class := range node.Classes() {
			if _, err := node.HandlerFor(class); err != nil {
				problems = append(problems, err)
			}
		}
	}
	return problems
}
