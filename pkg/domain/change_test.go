package domain

import (
	"errors"
	"fmt"
	"testing"
)

type stubRecord struct{ id string }

func (r *stubRecord) Class() *Class   { return nil }
func (r *stubRecord) ID() string      { return r.id }
func (r *stubRecord) Persisted() bool { return true }
func (r *stubRecord) Attr(string) any { return nil }

func TestChangeSetMergeConcatenates(t *testing.T) {
	a, b := &stubRecord{id: "a"}, &stubRecord{id: "b"}
	left := NewChangeSet()
	left.Add("n1", Change{Kind: Insert, Record: a})
	right := NewChangeSet()
	right.Add("n2", Change{Kind: Delete, Record: b})
	right.Add("n1", Change{Kind: Insert, Record: a})
	left.Merge(right)
	left.Merge(nil)

	if got := left.Nodes(); len(got) != 2 || got[0] != "n1" || got[1] != "n2" {
		t.Fatalf("unexpected node order %v", got)
	}
	if len(left.For("n1")) != 2 {
		t.Fatalf("merge must not deduplicate, got %d", len(left.For("n1")))
	}
	if left.Len() != 3 || left.Empty() {
		t.Fatalf("unexpected len %d", left.Len())
	}
	var nilSet *ChangeSet
	if !nilSet.Empty() || nilSet.Nodes() != nil || nilSet.For("x") != nil {
		t.Fatalf("nil change set must read as empty")
	}
	var zero ChangeSet
	zero.Add("n", Change{Kind: Update, Record: a})
	if zero.Len() != 1 {
		t.Fatalf("zero value must accept adds")
	}
}

func TestChangeKindRoundTrip(t *testing.T) {
	for _, k := range []ChangeKind{Insert, Update, Delete} {
		parsed, err := ParseChangeKind(k.String())
		if err != nil || parsed != k {
			t.Fatalf("round trip %v: %v %v", k, parsed, err)
		}
	}
	if _, err := ParseChangeKind("upsert"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestClassHierarchy(t *testing.T) {
	base := NewClass("Record", nil)
	comment := NewClass("Comment", base)
	reply := NewClass("Reply", comment)
	anc := reply.Ancestors()
	if len(anc) != 3 || anc[0] != reply || anc[2] != base {
		t.Fatalf("unexpected ancestors %v", anc)
	}
	if !reply.IsA(base) || base.IsA(reply) {
		t.Fatalf("unexpected IsA")
	}
	var nilClass *Class
	if nilClass.Name() != "" || nilClass.Parent() != nil || len(nilClass.Ancestors()) != 0 {
		t.Fatalf("nil class must be inert")
	}
	if reply.String() != "Reply" || reply.Parent() != comment {
		t.Fatalf("unexpected accessors")
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	cfg := fmt.Errorf("wrap: %w", ConfigurationError{Node: "n", Class: "C", Reason: "broken"})
	if !errors.Is(cfg, ErrConfiguration) || errors.Is(cfg, ErrNoSuchNode) {
		t.Fatalf("unexpected sentinel match for %v", cfg)
	}
	var ce ConfigurationError
	if !errors.As(cfg, &ce) || ce.Node != "n" || ce.Error() != "node n, class C: broken" {
		t.Fatalf("unexpected configuration error %+v", ce)
	}
	if !errors.Is(NoSuchNodeError{Node: "x"}, ErrNoSuchNode) {
		t.Fatalf("expected no such node match")
	}
	if !errors.Is(RecursionLimitError{Depth: 3}, ErrRecursionLimit) {
		t.Fatalf("expected recursion limit match")
	}
}
