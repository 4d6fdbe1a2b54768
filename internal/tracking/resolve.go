package tracking

import "commitwatch/pkg/domain"

// Resolve computes the net changes rec's history amounts to, per node.
//
// Presence dominates: once the record was inserted or deleted in this
// transaction no update diffs are emitted. Insert together with delete is a
// complete no-op. Otherwise each node receives at most one update whose diff
// pairs the first captured before value with the record's current value;
// any-attribute nodes receive an empty diff.
func (t *Tracker) Resolve(rec domain.Record) *domain.ChangeSet {
	set := domain.NewChangeSet()

	var inserted, deleted bool
	for _, ev := range t.presence {
		switch ev.kind {
		case domain.Insert:
			inserted = true
		case domain.Delete:
			deleted = true
		}
	}

	if !inserted && !deleted {
		t.resolveUpdates(rec, set)
	}
	if !(inserted && deleted) {
		for _, ev := range t.presence {
			set.Add(ev.node, domain.Change{Kind: ev.kind, Record: rec, Diff: domain.Diff{}})
		}
	}
	return set
}

func (t *Tracker) resolveUpdates(rec domain.Record, set *domain.ChangeSet) {
	var order []string
	diffs := make(map[string]domain.Diff)
	anyOnly := make(map[string]bool)
	touch := func(node string) {
		if _, ok := diffs[node]; !ok {
			diffs[node] = domain.Diff{}
			order = append(order, node)
		}
	}

	for _, attr := range t.dirtyOrder {
		entry := t.dirty[attr]
		for _, node := range entry.nodes {
			touch(node)
			diffs[node][attr] = domain.AttributeDiff{Before: entry.before, After: rec.Attr(attr)}
		}
		for _, node := range entry.anyNodes {
			touch(node)
			anyOnly[node] = true
		}
	}

	for _, node := range order {
		diff := diffs[node]
		if anyOnly[node] {
			diff = domain.Diff{}
		}
		set.Add(node, domain.Change{Kind: domain.Update, Record: rec, Diff: diff})
	}
}
