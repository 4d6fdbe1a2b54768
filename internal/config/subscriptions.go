package config

import (
	"errors"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"commitwatch/internal/dispatch"
	"commitwatch/internal/registry"
	"commitwatch/pkg/domain"
)

// SubscriptionFile is a declarative subscription table:
//
//	[[class]]
//	name = "Comment"
//	parent = "Record"
//
//	[[node]]
//	id = "post_comment_count"
//	[[node.depends]]
//	class = "Comment"
//	attrs = [":none"]
//	[[node.handler]]
//	class = "Comment"
//	only = ["insert", "delete"]
type SubscriptionFile struct {
	Classes []ClassSpec `toml:"class"`
	Nodes   []NodeSpec  `toml:"node"`
}

// ClassSpec declares an entity class and its optional parent.
type ClassSpec struct {
	Name   string `toml:"name"`
	Parent string `toml:"parent"`
}

// NodeSpec declares one node.
type NodeSpec struct {
	ID       string        `toml:"id"`
	Depends  []DependSpec  `toml:"depends"`
	Handlers []HandlerSpec `toml:"handler"`
}

// DependSpec declares the watched attributes of a class.
type DependSpec struct {
	Class string   `toml:"class"`
	Attrs []string `toml:"attrs"`
}

// HandlerSpec declares a handler slot for a class.
type HandlerSpec struct {
	Class string   `toml:"class"`
	Only  []string `toml:"only"`
}

// LoadSubscriptions reads and decodes a subscription table.
func LoadSubscriptions(path string) (*SubscriptionFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	return ParseSubscriptions(b)
}

// ParseSubscriptions decodes a subscription table.
func ParseSubscriptions(data []byte) (*SubscriptionFile, error) {
	var f SubscriptionFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	return &f, nil
}

// ClassMap resolves the declared classes. Parents must be declared in the
// same file; classes referenced only by nodes are created as roots.
func (f *SubscriptionFile) ClassMap() (map[string]*domain.Class, error) {
	specs := make(map[string]ClassSpec, len(f.Classes))
	for _, c := range f.Classes {
		if c.Name == "" {
			return nil, errors.New("class with empty name")
		}
		if _, dup := specs[c.Name]; dup {
			return nil, fmt.Errorf("class %s declared twice", c.Name)
		}
		specs[c.Name] = c
	}
	classes := make(map[string]*domain.Class, len(specs))
	var build func(name string, seen map[string]bool) (*domain.Class, error)
	build = func(name string, seen map[string]bool) (*domain.Class, error) {
		if c, ok := classes[name]; ok {
			return c, nil
		}
		if seen[name] {
			return nil, fmt.Errorf("class %s: inheritance cycle", name)
		}
		seen[name] = true
		var parent *domain.Class
		if p := specs[name].Parent; p != "" {
			if _, ok := specs[p]; !ok {
				return nil, fmt.Errorf("class %s: unknown parent %s", name, p)
			}
			var err error
			if parent, err = build(p, seen); err != nil {
				return nil, err
			}
		}
		c := domain.NewClass(name, parent)
		classes[name] = c
		return c, nil
	}
	for _, c := range f.Classes {
		if _, err := build(c.Name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	for _, n := range f.Nodes {
		for _, d := range n.Depends {
			if _, ok := classes[d.Class]; !ok && d.Class != "" {
				classes[d.Class] = domain.NewClass(d.Class, nil)
			}
		}
		for _, h := range n.Handlers {
			if _, ok := classes[h.Class]; !ok && h.Class != "" {
				classes[h.Class] = domain.NewClass(h.Class, nil)
			}
		}
	}
	return classes, nil
}

// Build registers every declared node in a fresh registry. handler supplies
// the function bound to each handler slot. All registration errors are
// joined; nodes that fail are left out of the registry.
func (f *SubscriptionFile) Build(handler func(node string, class *domain.Class) dispatch.HandlerFunc) (*registry.Registry, map[string]*domain.Class, error) {
	classes, err := f.ClassMap()
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New()
	var errs []error
	for _, spec := range f.Nodes {
		node := registry.NewNode(spec.ID)
		for _, d := range spec.Depends {
			node.DependsOn(classes[d.Class], d.Attrs...)
		}
		invalid := false
		for _, h := range spec.Handlers {
			kinds := make([]domain.ChangeKind, 0, len(h.Only))
			for _, k := range h.Only {
				kind, err := domain.ParseChangeKind(k)
				if err != nil {
					errs = append(errs, fmt.Errorf("node %s: %w", spec.ID, err))
					invalid = true
					continue
				}
				kinds = append(kinds, kind)
			}
			class := classes[h.Class]
			var fn dispatch.HandlerFunc
			if class != nil {
				fn = handler(spec.ID, class)
			}
			var opts []registry.HandlerOption
			if len(kinds) > 0 {
				opts = append(opts, registry.Only(kinds...))
			}
			node.Handle(class, fn, opts...)
		}
		// A handler with a partly unreadable filter would hear more kinds
		// than declared.
		if invalid {
			continue
		}
		if err := reg.Register(node); err != nil {
			errs = append(errs, err)
		}
	}
	return reg, classes, errors.Join(errs...)
}
