package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"commitwatch/internal/blob/core"
)

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		if _, err := s.Put(ctx, k, bytes.NewReader([]byte(k)), core.PutOptions{Metadata: map[string]string{"k": k}}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	infos, err := s.List(ctx, "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "b/1" || infos[1].Key != "b/2" {
		t.Fatalf("unexpected listing %+v", infos)
	}
	infos[0].Metadata["k"] = "mutated"
	again, _ := s.List(ctx, "b/1")
	if again[0].Metadata["k"] != "b/1" {
		t.Fatalf("listing must return metadata copies")
	}
	if ok, _ := s.Delete(ctx, "a/1"); !ok {
		t.Fatalf("expected delete hit")
	}
	if ok, _ := s.Delete(ctx, "a/1"); ok {
		t.Fatalf("expected delete miss")
	}
}

func TestStoreKeepsKeysOrderedWithContentETags(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"c", "a", "b"} {
		if _, err := s.Put(ctx, k, bytes.NewReader([]byte("same")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if _, err := s.Put(ctx, "b", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	if _, err := s.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	infos, _ := s.List(ctx, "")
	if len(infos) != 3 || infos[0].Key != "a" || infos[2].Key != "c" {
		t.Fatalf("unexpected order %+v", infos)
	}
	if infos[0].ETag == "" || infos[0].ETag != infos[1].ETag {
		t.Fatalf("expected identical content to share an etag: %+v", infos)
	}
	if _, err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 blobs, got %d", s.Len())
	}
	if _, _, err := s.Get(ctx, "b"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
