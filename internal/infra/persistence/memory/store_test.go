package memory

import (
	"context"
	"errors"
	"testing"

	"commitwatch/internal/tracking"
	"commitwatch/pkg/domain"
)

var widget = domain.NewClass("Widget", nil)

type hookCall struct {
	name    string
	conn    domain.ConnID
	id      string
	changes []domain.AttributeChange
}

type recordingHooks struct {
	calls     []hookCall
	commitErr error
}

func (h *recordingHooks) BeforeCreate(conn domain.ConnID, rec tracking.Trackable) {
	h.calls = append(h.calls, hookCall{name: "create", conn: conn, id: rec.ID()})
}

func (h *recordingHooks) BeforeUpdate(conn domain.ConnID, rec tracking.Trackable, changes []domain.AttributeChange) {
	h.calls = append(h.calls, hookCall{name: "update", conn: conn, id: rec.ID(), changes: changes})
}

func (h *recordingHooks) BeforeDestroy(conn domain.ConnID, rec tracking.Trackable) {
	h.calls = append(h.calls, hookCall{name: "destroy", conn: conn, id: rec.ID()})
}

func (h *recordingHooks) AfterCommit(_ context.Context, conn domain.ConnID) error {
	h.calls = append(h.calls, hookCall{name: "commit", conn: conn})
	return h.commitErr
}

func (h *recordingHooks) AfterRollback(conn domain.ConnID) {
	h.calls = append(h.calls, hookCall{name: "rollback", conn: conn})
}

func (h *recordingHooks) Release(conn domain.ConnID) {
	h.calls = append(h.calls, hookCall{name: "release", conn: conn})
}

func (h *recordingHooks) names() []string {
	out := make([]string, len(h.calls))
	for i, c := range h.calls {
		out[i] = c.name
	}
	return out
}

func equalNames(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestStoreCreateUpdateDestroyRaisesHooks(t *testing.T) {
	hooks := &recordingHooks{}
	store := NewStore(hooks)
	conn := store.Open()
	ctx := context.Background()

	w := NewEntity(widget, map[string]any{"name": "gear", "size": 3})
	if err := conn.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.ID() == "" || !w.Persisted() {
		t.Fatalf("expected generated id and persisted entity, got %q %v", w.ID(), w.Persisted())
	}
	if err := conn.Update(ctx, w, map[string]any{"size": 4}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := conn.Destroy(ctx, w); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	want := []string{"create", "commit", "update", "commit", "destroy", "commit"}
	if got := hooks.names(); !equalNames(got, want) {
		t.Fatalf("unexpected hook sequence %v", got)
	}
	upd := hooks.calls[2]
	if len(upd.changes) != 1 || upd.changes[0].Name != "size" || upd.changes[0].Before != 3 || upd.changes[0].After != 4 {
		t.Fatalf("unexpected update changes %+v", upd.changes)
	}
	for _, c := range hooks.calls {
		if c.conn != conn.ID() {
			t.Fatalf("hook %s raised for conn %s", c.name, c.conn)
		}
	}
	if store.Count(widget) != 0 {
		t.Fatalf("expected destroyed row to be gone")
	}
	if !w.Destroyed() {
		t.Fatalf("expected destroyed flag")
	}
}

func TestStoreSaveWithoutChangesIsNoop(t *testing.T) {
	hooks := &recordingHooks{}
	store := NewStore(hooks)
	conn := store.Open()
	ctx := context.Background()
	w := NewEntity(widget, map[string]any{"name": "gear"})
	if err := conn.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	w.Set("name", "gear")
	if err := conn.Save(ctx, w); err != nil {
		t.Fatalf("save: %v", err)
	}
	want := []string{"create", "commit", "commit"}
	if got := hooks.names(); !equalNames(got, want) {
		t.Fatalf("unexpected hook sequence %v", got)
	}
}

func TestStoreSaveWritesOnlyChangedColumns(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	a, b := store.Open(), store.Open()
	stale := NewEntity(widget, map[string]any{"id": "w1", "name": "gear", "count": 0})
	if err := a.Create(ctx, stale); err != nil {
		t.Fatalf("create: %v", err)
	}
	fresh, err := b.Find(widget, "w1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := b.Update(ctx, fresh, map[string]any{"count": 2}); err != nil {
		t.Fatalf("update count: %v", err)
	}
	if err := a.Update(ctx, stale, map[string]any{"name": "cog"}); err != nil {
		t.Fatalf("update name: %v", err)
	}
	got, err := a.Find(widget, "w1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Attr("name") != "cog" || got.Attr("count") != 2 {
		t.Fatalf("expected name=cog count=2, got %v", got.Attrs())
	}

	err = a.RunInTransaction(ctx, func(tx *Tx) error {
		if err := tx.Update(got, map[string]any{"name": "axle"}); err != nil {
			return err
		}
		return tx.Update(got, map[string]any{"count": 3})
	})
	if err != nil {
		t.Fatalf("update twice: %v", err)
	}
	final, _ := b.Find(widget, "w1")
	if final.Attr("name") != "axle" || final.Attr("count") != 3 {
		t.Fatalf("expected both staged columns, got %v", final.Attrs())
	}
}

func TestStoreRollbackRestoresEntityAndState(t *testing.T) {
	hooks := &recordingHooks{}
	store := NewStore(hooks)
	conn := store.Open()
	ctx := context.Background()
	boom := errors.New("boom")

	w := NewEntity(widget, map[string]any{"name": "gear"})
	err := conn.RunInTransaction(ctx, func(tx *Tx) error {
		if err := tx.Create(w); err != nil {
			return err
		}
		if len(tx.List(widget)) != 1 {
			t.Fatalf("expected staged row visible inside transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if w.Persisted() || w.ID() != "" {
		t.Fatalf("expected entity reset after rollback, got %q %v", w.ID(), w.Persisted())
	}
	if store.Count(widget) != 0 {
		t.Fatalf("expected no committed rows")
	}
	want := []string{"create", "rollback"}
	if got := hooks.names(); !equalNames(got, want) {
		t.Fatalf("unexpected hook sequence %v", got)
	}
	if len(w.Changes()) != 1 {
		t.Fatalf("expected pending change restored, got %+v", w.Changes())
	}
}

func TestStoreNestedTransactionJoinsOuter(t *testing.T) {
	hooks := &recordingHooks{}
	store := NewStore(hooks)
	conn := store.Open()
	ctx := context.Background()
	a := NewEntity(widget, map[string]any{"name": "a"})
	b := NewEntity(widget, map[string]any{"name": "b"})
	err := conn.RunInTransaction(ctx, func(tx *Tx) error {
		if err := tx.Create(a); err != nil {
			return err
		}
		return conn.Create(ctx, b)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"create", "create", "commit"}
	if got := hooks.names(); !equalNames(got, want) {
		t.Fatalf("unexpected hook sequence %v", got)
	}
	if store.Count(widget) != 2 {
		t.Fatalf("expected two rows, got %d", store.Count(widget))
	}
}

func TestStoreDestroyUnsavedOnlyRaisesHook(t *testing.T) {
	hooks := &recordingHooks{}
	store := NewStore(hooks)
	conn := store.Open()
	w := NewEntity(widget, nil)
	if err := conn.Destroy(context.Background(), w); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	want := []string{"destroy", "commit"}
	if got := hooks.names(); !equalNames(got, want) {
		t.Fatalf("unexpected hook sequence %v", got)
	}
	if w.Destroyed() {
		t.Fatalf("unsaved entity must not be marked destroyed")
	}
}

func TestStoreFindAndErrors(t *testing.T) {
	store := NewStore(nil)
	conn := store.Open()
	ctx := context.Background()
	if _, err := conn.Find(widget, "missing"); err == nil {
		t.Fatalf("expected not found")
	} else {
		var nf ErrNotFound
		if !errors.As(err, &nf) || nf.ID != "missing" {
			t.Fatalf("unexpected error %v", err)
		}
	}
	w := NewEntity(widget, map[string]any{"id": "w1", "name": "gear"})
	if err := conn.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.ID() != "w1" {
		t.Fatalf("expected explicit id, got %q", w.ID())
	}
	dup := NewEntity(widget, map[string]any{"id": "w1"})
	if err := conn.Create(ctx, dup); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	found, err := conn.Find(widget, "w1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == w || found.Attr("name") != "gear" || !found.Persisted() {
		t.Fatalf("expected fresh persisted instance, got %+v", found)
	}
	if err := conn.Create(ctx, w); err == nil {
		t.Fatalf("expected error creating persisted entity")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Create(ctx, NewEntity(widget, nil)); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected closed conn error, got %v", err)
	}
}

func TestStoreExportImportState(t *testing.T) {
	store := NewStore(nil)
	conn := store.Open()
	if err := conn.Create(context.Background(), NewEntity(widget, map[string]any{"id": "w1", "n": 1})); err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := store.ExportState()
	store.ImportState(Snapshot{})
	if store.Count(widget) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snap)
	if store.Count(widget) != 1 {
		t.Fatalf("expected restored state")
	}
	snap.Tables["Widget"]["w1"]["n"] = 2
	got, err := conn.Find(widget, "w1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Attr("n") != 1 {
		t.Fatalf("import must copy the snapshot, got %v", got.Attr("n"))
	}
}

type failingPersister struct{ err error }

func (p failingPersister) Persist(context.Context, []Row) error { return p.err }

type capturePersister struct{ commits [][]Row }

func (p *capturePersister) Persist(_ context.Context, rows []Row) error {
	p.commits = append(p.commits, rows)
	return nil
}

func TestStorePersistsOnlyTouchedRows(t *testing.T) {
	p := &capturePersister{}
	store := NewStore(nil, WithPersister(p))
	conn := store.Open()
	ctx := context.Background()
	a := NewEntity(widget, map[string]any{"id": "b", "name": "bolt"})
	b := NewEntity(widget, map[string]any{"id": "a", "name": "axle"})
	err := conn.RunInTransaction(ctx, func(tx *Tx) error {
		if err := tx.Create(a); err != nil {
			return err
		}
		return tx.Create(b)
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := conn.Destroy(ctx, a); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if len(p.commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(p.commits))
	}
	first := p.commits[0]
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" || first[0].Attrs["name"] != "axle" {
		t.Fatalf("unexpected first commit %+v", first)
	}
	second := p.commits[1]
	if len(second) != 1 || second[0].ID != "b" || !second[0].Deleted || second[0].Attrs != nil {
		t.Fatalf("unexpected second commit %+v", second)
	}
}

func TestSnapshotRowsRoundTrip(t *testing.T) {
	rows := []Row{
		{Class: "Widget", ID: "w2", Attrs: map[string]any{"n": 2}},
		{Class: "Gear", ID: "g1", Attrs: map[string]any{"n": 1}},
		{Class: "Widget", ID: "w9", Deleted: true},
	}
	snap := SnapshotOf(rows)
	if len(snap.Tables["Widget"]) != 1 || snap.Tables["Gear"]["g1"]["n"] != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	back := snap.Rows()
	if len(back) != 2 || back[0].Class != "Gear" || back[1].ID != "w2" {
		t.Fatalf("unexpected rows %+v", back)
	}
}

func TestStorePersistFailureRollsBack(t *testing.T) {
	hooks := &recordingHooks{}
	boom := errors.New("disk full")
	store := NewStore(hooks, WithPersister(failingPersister{err: boom}))
	conn := store.Open()
	w := NewEntity(widget, map[string]any{"name": "gear"})
	err := conn.Create(context.Background(), w)
	if !errors.Is(err, boom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if store.Count(widget) != 0 || w.Persisted() {
		t.Fatalf("expected nothing committed")
	}
	want := []string{"create", "rollback"}
	if got := hooks.names(); !equalNames(got, want) {
		t.Fatalf("unexpected hook sequence %v", got)
	}
}

func TestStoreAfterCommitErrorKeepsData(t *testing.T) {
	boom := errors.New("handler failed")
	hooks := &recordingHooks{commitErr: boom}
	store := NewStore(hooks)
	conn := store.Open()
	if err := conn.Create(context.Background(), NewEntity(widget, nil)); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if store.Count(widget) != 1 {
		t.Fatalf("expected committed row despite handler error")
	}
}
