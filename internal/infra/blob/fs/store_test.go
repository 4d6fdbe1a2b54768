package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"commitwatch/internal/blob/core"
)

func TestStorePutGetListDelete(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "journal")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Root() != root || s.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected store identity")
	}
	info, err := s.Put(ctx, "cycles/c1/audit.json", bytes.NewReader([]byte(`{"ok":true}`)), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"node": "audit"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 11 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "cycles/c1/audit.json", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "cycles/c1/audit.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"ok":true}` || got.Metadata["node"] != "audit" || got.ContentType != "application/json" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	if _, err := s.Put(ctx, "cycles/c2/audit.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	infos, err := s.List(ctx, "cycles/c1/")
	if err != nil || len(infos) != 1 || infos[0].Key != "cycles/c1/audit.json" {
		t.Fatalf("unexpected listing %+v %v", infos, err)
	}
	if ok, err := s.Delete(ctx, "cycles/c1/audit.json"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "cycles/c1/audit.json"); ok {
		t.Fatalf("expected delete miss")
	}
	if _, _, err := s.Get(ctx, "cycles/c1/audit.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".meta", "cycles", "c1", "audit.json.json")); !os.IsNotExist(err) {
		t.Fatalf("expected sidecar removed, got %v", err)
	}
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", "/abs", "../up", "a/../../b", ".meta", ".meta/x.json"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	if k, err := sanitizeKey("a//b/c.json"); err != nil || k != "a/b/c.json" {
		t.Fatalf("unexpected clean key %q %v", k, err)
	}
}
