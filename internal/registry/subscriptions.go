package registry

// Subscriptions are the compiled tracking sets of one entity class: nodes per
// watched attribute, presence-only nodes and any-attribute nodes. Node ids
// keep registration order.
type Subscriptions struct {
	attrOrder []string
	attrs     map[string][]string
	presence  []string
	any       []string
}

func newSubscriptions() *Subscriptions {
	return &Subscriptions{attrs: make(map[string][]string)}
}

func (s *Subscriptions) trackAttr(attr, node string) {
	nodes, ok := s.attrs[attr]
	if !ok {
		s.attrOrder = append(s.attrOrder, attr)
	}
	s.attrs[attr] = appendUnique(nodes, node)
}

func (s *Subscriptions) trackPresence(node string) { s.presence = appendUnique(s.presence, node) }

func (s *Subscriptions) trackAny(node string) { s.any = appendUnique(s.any, node) }

func (s *Subscriptions) merge(other *Subscriptions) {
	for _, attr := range other.attrOrder {
		for _, node := range other.attrs[attr] {
			s.trackAttr(attr, node)
		}
	}
	for _, node := range other.presence {
		s.trackPresence(node)
	}
	for _, node := range other.any {
		s.trackAny(node)
	}
}

// NodesFor returns the nodes watching attr specifically.
func (s *Subscriptions) NodesFor(attr string) []string {
	if s == nil {
		return nil
	}
	return s.attrs[attr]
}

// Attributes returns every specifically watched attribute.
func (s *Subscriptions) Attributes() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.attrOrder...)
}

// PresenceOnly returns the nodes tracking only inserts and deletes.
func (s *Subscriptions) PresenceOnly() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.presence...)
}

// AnyAttribute returns the nodes tracking any attribute change.
func (s *Subscriptions) AnyAttribute() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.any...)
}

// All returns every node subscribed through any of the three sets.
func (s *Subscriptions) All() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, attr := range s.attrOrder {
		for _, node := range s.attrs[attr] {
			out = appendUnique(out, node)
		}
	}
	for _, node := range s.presence {
		out = appendUnique(out, node)
	}
	for _, node := range s.any {
		out = appendUnique(out, node)
	}
	return out
}

// Empty reports whether no node tracks the class.
func (s *Subscriptions) Empty() bool {
	return s == nil || (len(s.attrOrder) == 0 && len(s.presence) == 0 && len(s.any) == 0)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
