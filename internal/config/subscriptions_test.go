package config

import (
	"context"
	"errors"
	"strings"
	"testing"

	"commitwatch/internal/dispatch"
	"commitwatch/pkg/domain"
)

const table = `
[[class]]
name = "Record"

[[class]]
name = "Comment"
parent = "Record"

[[class]]
name = "Reply"
parent = "Comment"

[[node]]
id = "post_comment_count"
[[node.depends]]
class = "Comment"
attrs = [":none"]
[[node.handler]]
class = "Comment"
only = ["insert", "delete"]

[[node]]
id = "search_index"
[[node.depends]]
class = "Comment"
attrs = ["body", "title"]
[[node.handler]]
class = "Record"
`

func noop(string, *domain.Class) dispatch.HandlerFunc {
	return func(context.Context, *dispatch.Scope, domain.Change) error { return nil }
}

func TestBuildRegistersNodes(t *testing.T) {
	f, err := ParseSubscriptions([]byte(table))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, classes, err := f.Build(noop)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := reg.Nodes(); len(got) != 2 || got[0] != "post_comment_count" {
		t.Fatalf("unexpected nodes %v", got)
	}
	reply := classes["Reply"]
	if reply == nil || !reply.IsA(classes["Record"]) {
		t.Fatalf("expected Reply to descend from Record")
	}
	subs := reg.Subscriptions(reply)
	if len(subs.PresenceOnly()) != 1 || len(subs.NodesFor("body")) != 1 {
		t.Fatalf("expected inherited subscriptions, got %+v", subs)
	}
	node, err := reg.Find("post_comment_count")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	h, err := node.HandlerFor(classes["Comment"])
	if err != nil || h.Accepts(domain.Update) || !h.Accepts(domain.Insert) {
		t.Fatalf("unexpected handler %+v %v", h, err)
	}
	if problems := reg.Check(); len(problems) != 0 {
		t.Fatalf("unexpected problems %v", problems)
	}
}

func TestBuildReportsConfigurationErrors(t *testing.T) {
	f, err := ParseSubscriptions([]byte(`
[[node]]
id = "dup"
[[node.depends]]
class = "Post"
attrs = [":none", "title"]

[[node]]
id = "kinds"
[[node.depends]]
class = "Post"
attrs = [":any"]
[[node.handler]]
class = "Post"
only = ["upsert"]

[[node]]
id = "orphan"
[[node.depends]]
class = "Post"
attrs = ["title"]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, _, err := f.Build(noop)
	if err == nil || !errors.Is(err, domain.ErrConfiguration) || !strings.Contains(err.Error(), "upsert") {
		t.Fatalf("expected joined configuration errors, got %v", err)
	}
	problems := reg.Check()
	if len(problems) != 1 || !strings.Contains(problems[0].Error(), "orphan") {
		t.Fatalf("expected orphan to lack a handler, got %v", problems)
	}
	if _, err := reg.Find("kinds"); !errors.Is(err, domain.ErrNoSuchNode) {
		t.Fatalf("node with an unknown only kind must not be registered, got %v", err)
	}
}

func TestBuildSkipsNodeWithPartlyUnknownOnly(t *testing.T) {
	f, err := ParseSubscriptions([]byte(`
[[node]]
id = "mixed"
[[node.depends]]
class = "Post"
attrs = ["title"]
[[node.handler]]
class = "Post"
only = ["insert", "upsert"]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, _, err := f.Build(noop)
	if err == nil || !strings.Contains(err.Error(), "upsert") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if nodes := reg.Nodes(); len(nodes) != 0 {
		t.Fatalf("expected no registered nodes, got %v", nodes)
	}
}

func TestClassMapRejectsBadHierarchy(t *testing.T) {
	cases := map[string]string{
		"cycle":   "[[class]]\nname = \"A\"\nparent = \"B\"\n[[class]]\nname = \"B\"\nparent = \"A\"\n",
		"unknown": "[[class]]\nname = \"A\"\nparent = \"Z\"\n",
		"dup":     "[[class]]\nname = \"A\"\n[[class]]\nname = \"A\"\n",
	}
	for name, body := range cases {
		f, err := ParseSubscriptions([]byte(body))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if _, err := f.ClassMap(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
