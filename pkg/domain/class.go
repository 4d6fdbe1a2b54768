package domain

// Class identifies an entity class tracked by the engine. Classes form a
// single-inheritance chain through Parent; handler lookup walks that chain
// when a node has no handler for the exact class.
type Class struct {
	name   string
	parent *Class
}

// NewClass constructs a class. Parent may be nil for a root class.
func NewClass(name string, parent *Class) *Class {
	return &Class{name: name, parent: parent}
}

// Name returns the class name.
func (c *Class) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Parent returns the superclass or nil for a root class.
func (c *Class) Parent() *Class {
	if c == nil {
		return nil
	}
	return c.parent
}

// Ancestors returns the class followed by each of its superclasses, nearest first.
func (c *Class) Ancestors() []*Class {
	var out []*Class
	for cur := c; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

// IsA reports whether c is other or inherits from it.
func (c *Class) IsA(other *Class) bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

func (c *Class) String() string { return c.Name() }
