package core

import (
	"context"
	"path/filepath"
	"testing"

	"commitwatch/internal/config"
	"commitwatch/internal/infra/persistence/memory"
	"commitwatch/internal/infra/persistence/sqlite"
	"commitwatch/internal/registry"
)

func TestOpenStoreMemoryDefault(t *testing.T) {
	engine := NewEngine(registry.New())
	store, err := engine.OpenStore(context.Background(), config.StorageConfig{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenStoreSQLiteDispatchesAndPersists(t *testing.T) {
	c := &collector{}
	reg := registry.New()
	reg.MustRegister(registry.NewNode("titles").DependsOn(postClass, "title").Handle(postClass, c.handler("titles")))
	engine := NewEngine(reg)
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := engine.OpenStore(ctx, config.StorageConfig{Driver: config.StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sq, ok := store.(*sqlite.Store)
	if !ok || sq.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, store)
	}
	if err := store.Open().Create(ctx, newPost("p1", "hello")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if kinds(c.take()) != "titles:insert" {
		t.Fatalf("sqlite-backed commits must dispatch")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := engine.OpenStore(ctx, config.StorageConfig{Driver: config.StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Count(postClass) != 1 {
		t.Fatalf("expected persisted post")
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	engine := NewEngine(registry.New())
	if _, err := engine.OpenStore(context.Background(), config.StorageConfig{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
