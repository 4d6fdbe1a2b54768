// Package tracking records what happens to one record during a transaction
// and resolves it into the net change each subscribed node should see.
package tracking

import "commitwatch/pkg/domain"

// Trackable is implemented by persistent entities that carry a Tracker.
// Implementations must be pointer types: accumulators key records by identity.
type Trackable interface {
	domain.Record
	Tracker() *Tracker
}

// Subscriptions is the per-class view of the subscription table the tracker
// consults on every mutation.
type Subscriptions interface {
	All() []string
	NodesFor(attr string) []string
	AnyAttribute() []string
}

// Registrar receives records that gained pending changes.
type Registrar interface {
	Register(rec Trackable)
}

type presenceEvent struct {
	kind domain.ChangeKind
	node string
}

type dirtyEntry struct {
	before   any
	nodes    []string
	anyNodes []string
}

// Tracker accumulates the presence log and dirty-attribute map of a single
// record instance for the currently open transaction. The zero value is ready
// to use. A Tracker is owned by the transaction that mutates its record and
// is not safe for concurrent use.
type Tracker struct {
	presence   []presenceEvent
	dirty      map[string]*dirtyEntry
	dirtyOrder []string
}

// OnCreate logs an insert for every node subscribed to the record's class.
func (t *Tracker) OnCreate(rec Trackable, subs Subscriptions, reg Registrar) {
	t.logPresence(domain.Insert, rec, subs, reg)
}

// OnDestroy logs a delete for every subscribed node. Records that were never
// persisted are ignored.
func (t *Tracker) OnDestroy(rec Trackable, subs Subscriptions, reg Registrar) {
	if !rec.Persisted() {
		return
	}
	t.logPresence(domain.Delete, rec, subs, reg)
}

func (t *Tracker) logPresence(kind domain.ChangeKind, rec Trackable, subs Subscriptions, reg Registrar) {
	if subs == nil {
		return
	}
	nodes := subs.All()
	for _, node := range nodes {
		t.presence = append(t.presence, presenceEvent{kind: kind, node: node})
	}
	if len(nodes) > 0 && reg != nil {
		reg.Register(rec)
	}
}

// OnUpdate records the attribute writes some node cares about. The before
// value of the first write in a transaction is kept so repeated updates
// collapse into one before/after pair.
func (t *Tracker) OnUpdate(rec Trackable, changes []domain.AttributeChange, subs Subscriptions, reg Registrar) {
	if subs == nil || len(changes) == 0 {
		return
	}
	stored := false
	anyNodes := subs.AnyAttribute()
	for _, change := range changes {
		if nodes := subs.NodesFor(change.Name); len(nodes) > 0 {
			t.storeDirty(change.Name, change.Before, nodes, false)
			stored = true
		}
		if len(anyNodes) > 0 {
			t.storeDirty(change.Name, change.Before, anyNodes, true)
			stored = true
		}
	}
	if stored && reg != nil {
		reg.Register(rec)
	}
}

func (t *Tracker) storeDirty(attr string, before any, nodes []string, anyAttr bool) {
	if t.dirty == nil {
		t.dirty = make(map[string]*dirtyEntry)
	}
	entry, ok := t.dirty[attr]
	if !ok {
		entry = &dirtyEntry{before: before}
		t.dirty[attr] = entry
		t.dirtyOrder = append(t.dirtyOrder, attr)
	}
	for _, node := range nodes {
		if anyAttr {
			entry.anyNodes = appendUnique(entry.anyNodes, node)
		} else {
			entry.nodes = appendUnique(entry.nodes, node)
		}
	}
}

// Pending reports whether anything was recorded since the last Clear.
func (t *Tracker) Pending() bool {
	return len(t.presence) > 0 || len(t.dirtyOrder) > 0
}

// Clear discards the presence log and dirty map.
func (t *Tracker) Clear() {
	t.presence = nil
	t.dirty = nil
	t.dirtyOrder = nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
