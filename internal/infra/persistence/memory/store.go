// Package memory provides an in-memory transactional record store that raises
// the change engine's lifecycle hooks. The sqlite and postgres stores reuse it
// and write the rows touched by each commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"commitwatch/internal/tracking"
	"commitwatch/pkg/domain"
	"commitwatch/pkg/log"
)

// Hooks is the lifecycle surface of the change engine.
type Hooks interface {
	BeforeCreate(conn domain.ConnID, rec tracking.Trackable)
	BeforeUpdate(conn domain.ConnID, rec tracking.Trackable, changes []domain.AttributeChange)
	BeforeDestroy(conn domain.ConnID, rec tracking.Trackable)
	AfterCommit(ctx context.Context, conn domain.ConnID) error
	AfterRollback(conn domain.ConnID)
	Release(conn domain.ConnID)
}

// Row is one record written by a commit. Deleted rows carry no attributes.
type Row struct {
	Class   string
	ID      string
	Attrs   map[string]any
	Deleted bool
}

// Persister writes the rows of a commit to durable storage, ordered by class
// then id. It runs inside the commit; an error aborts the commit.
type Persister interface {
	Persist(ctx context.Context, rows []Row) error
}

// ErrNotFound reports a missing row.
type ErrNotFound struct {
	Class string
	ID    string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Class, e.ID)
}

// ErrConnClosed is returned by operations on a closed connection.
var ErrConnClosed = errors.New("memory: connection closed")

type tables map[string]map[string]map[string]any

// Snapshot captures the committed rows of every class table.
type Snapshot struct {
	Tables map[string]map[string]map[string]any `json:"tables"`
}

// Store is an in-memory database of class tables.
type Store struct {
	mu        sync.RWMutex
	tables    tables
	hooks     Hooks
	persister Persister
	logger    log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersister installs a persister invoked on every commit.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the store logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = log.OrNoop(l) }
}

// NewStore constructs a store raising hooks on every mutation. A nil hooks
// value disables change tracking.
func NewStore(hooks Hooks, opts ...Option) *Store {
	if hooks == nil {
		hooks = noopHooks{}
	}
	s := &Store{tables: make(tables), hooks: hooks, logger: log.NoopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns a new connection with its own identity.
func (s *Store) Open() *Conn {
	return &Conn{store: s, id: domain.ConnID(uuid.NewString())}
}

// Close releases store resources. The in-memory store holds none.
func (s *Store) Close() error { return nil }

// ExportState clones the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Tables: s.tables.clone()}
}

// ImportState replaces the committed state with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = tables(snapshot.Tables).clone()
}

// Count returns the number of committed rows of class.
func (s *Store) Count(class *domain.Class) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[class.Name()])
}

func (s *Store) committed(class, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[class][id]
	if !ok {
		return nil, false
	}
	return cloneAttrs(row), true
}

func (s *Store) committedIDs(class string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tables[class]))
	for id := range s.tables[class] {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) commit(ctx context.Context, tx *Tx) error {
	if len(tx.writes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := tx.rows()
	if s.persister != nil {
		if err := s.persister.Persist(ctx, rows); err != nil {
			s.logger.Error("persist commit failed", log.Int("rows", len(rows)), log.Err(err))
			return err
		}
	}
	for _, row := range rows {
		table, ok := s.tables[row.Class]
		if !ok {
			table = make(map[string]map[string]any)
			s.tables[row.Class] = table
		}
		if row.Deleted {
			delete(table, row.ID)
			continue
		}
		table[row.ID] = row.Attrs
	}
	return nil
}

// Rows flattens a snapshot into rows ordered by class then id.
func (s Snapshot) Rows() []Row {
	var rows []Row
	for class, table := range s.Tables {
		for id, attrs := range table {
			rows = append(rows, Row{Class: class, ID: id, Attrs: cloneAttrs(attrs)})
		}
	}
	sortRows(rows)
	return rows
}

// SnapshotOf groups rows back into class tables. Deleted rows are skipped.
func SnapshotOf(rows []Row) Snapshot {
	snap := Snapshot{Tables: make(map[string]map[string]map[string]any)}
	for _, row := range rows {
		if row.Deleted {
			continue
		}
		table, ok := snap.Tables[row.Class]
		if !ok {
			table = make(map[string]map[string]any)
			snap.Tables[row.Class] = table
		}
		table[row.ID] = cloneAttrs(row.Attrs)
	}
	return snap
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Class != rows[j].Class {
			return rows[i].Class < rows[j].Class
		}
		return rows[i].ID < rows[j].ID
	})
}

func (t tables) clone() tables {
	out := make(tables, len(t))
	for class, rows := range t {
		table := make(map[string]map[string]any, len(rows))
		for id, attrs := range rows {
			table[id] = cloneAttrs(attrs)
		}
		out[class] = table
	}
	return out
}

// Conn is a connection to the store. Engine state is keyed by its ID, so a
// Conn must be driven by one goroutine at a time.
type Conn struct {
	store  *Store
	id     domain.ConnID
	tx     *Tx
	closed bool
}

// ID returns the connection identity.
func (c *Conn) ID() domain.ConnID { return c.id }

// InTransaction reports whether a transaction is open.
func (c *Conn) InTransaction() bool { return c.tx != nil }

// RunInTransaction runs fn in a transaction. When a transaction is already
// open on the connection fn joins it. On success the writes are committed and
// the engine dispatches handlers; the returned error then reports handler
// failures, the data is committed regardless. On failure everything staged
// by fn is discarded.
func (c *Conn) RunInTransaction(ctx context.Context, fn func(*Tx) error) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx != nil {
		return fn(c.tx)
	}
	tx := &Tx{conn: c, writes: make(map[string]map[string]*write)}
	c.tx = tx
	err := fn(tx)
	c.tx = nil
	if err != nil {
		tx.rollback()
		return err
	}
	if err := c.store.commit(ctx, tx); err != nil {
		tx.rollback()
		return fmt.Errorf("commit: %w", err)
	}
	return c.store.hooks.AfterCommit(ctx, c.id)
}

// Create inserts e in its own transaction.
func (c *Conn) Create(ctx context.Context, e *Entity) error {
	return c.RunInTransaction(ctx, func(tx *Tx) error { return tx.Create(e) })
}

// Save writes e's pending changes in its own transaction.
func (c *Conn) Save(ctx context.Context, e *Entity) error {
	return c.RunInTransaction(ctx, func(tx *Tx) error { return tx.Save(e) })
}

// Update assigns attrs on e and saves it in its own transaction.
func (c *Conn) Update(ctx context.Context, e *Entity, attrs map[string]any) error {
	return c.RunInTransaction(ctx, func(tx *Tx) error { return tx.Update(e, attrs) })
}

// Destroy deletes e in its own transaction.
func (c *Conn) Destroy(ctx context.Context, e *Entity) error {
	return c.RunInTransaction(ctx, func(tx *Tx) error { return tx.Destroy(e) })
}

// Find loads a committed row, or one staged by the open transaction.
func (c *Conn) Find(class *domain.Class, id string) (*Entity, error) {
	if c.tx != nil {
		return c.tx.Find(class, id)
	}
	attrs, ok := c.store.committed(class.Name(), id)
	if !ok {
		return nil, ErrNotFound{Class: class.Name(), ID: id}
	}
	return loadEntity(class, id, attrs), nil
}

// Close releases the connection's engine state.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.store.hooks.Release(c.id)
	return nil
}

type write struct {
	attrs   map[string]any
	deleted bool
}

// Tx stages writes until the surrounding RunInTransaction commits.
type Tx struct {
	conn   *Conn
	writes map[string]map[string]*write
	undo   []func()
}

// Conn returns the connection the transaction runs on.
func (tx *Tx) Conn() *Conn { return tx.conn }

func (tx *Tx) hooks() Hooks { return tx.conn.store.hooks }

func (tx *Tx) read(class, id string) (map[string]any, bool) {
	if w, ok := tx.writes[class][id]; ok {
		if w.deleted {
			return nil, false
		}
		return cloneAttrs(w.attrs), true
	}
	return tx.conn.store.committed(class, id)
}

func (tx *Tx) stage(class, id string, w *write) {
	rows, ok := tx.writes[class]
	if !ok {
		rows = make(map[string]*write)
		tx.writes[class] = rows
	}
	rows[id] = w
}

func (tx *Tx) rows() []Row {
	var rows []Row
	for class, writes := range tx.writes {
		for id, w := range writes {
			row := Row{Class: class, ID: id, Deleted: w.deleted}
			if !w.deleted {
				row.Attrs = cloneAttrs(w.attrs)
			}
			rows = append(rows, row)
		}
	}
	sortRows(rows)
	return rows
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.writes = nil
	tx.hooks().AfterRollback(tx.conn.id)
}

// Create inserts a new entity, assigning an id when it has none.
func (tx *Tx) Create(e *Entity) error {
	if e.destroyed {
		return fmt.Errorf("%s %q was destroyed", e.class.Name(), e.id)
	}
	if e.persisted {
		return fmt.Errorf("%s %q already persisted", e.class.Name(), e.id)
	}
	class := e.class.Name()
	prevID := e.id
	id := e.id
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := tx.read(class, id); exists {
		return fmt.Errorf("%s %q already exists", class, id)
	}
	e.id = id
	tx.hooks().BeforeCreate(tx.conn.id, e)
	tx.stage(class, id, &write{attrs: e.Attrs()})

	prevSaved, prevDirty := e.saved, e.dirty
	e.persisted = true
	e.markSaved()
	tx.undo = append(tx.undo, func() {
		e.id = prevID
		e.persisted = false
		e.saved, e.dirty = prevSaved, prevDirty
	})
	return nil
}

// Save creates e when it is new, otherwise writes its pending attribute
// changes. Saving without changes is a no-op.
func (tx *Tx) Save(e *Entity) error {
	if !e.persisted {
		return tx.Create(e)
	}
	changes := e.Changes()
	if len(changes) == 0 {
		return nil
	}
	class := e.class.Name()
	row, ok := tx.read(class, e.id)
	if !ok {
		return ErrNotFound{Class: class, ID: e.id}
	}
	tx.hooks().BeforeUpdate(tx.conn.id, e, changes)
	// Only the changed columns are written; the rest of the row keeps what
	// other instances committed since e was loaded.
	for _, c := range changes {
		row[c.Name] = c.After
	}
	tx.stage(class, e.id, &write{attrs: row})

	prevSaved, prevDirty := e.saved, e.dirty
	e.markSaved()
	tx.undo = append(tx.undo, func() { e.saved, e.dirty = prevSaved, prevDirty })
	return nil
}

// Update assigns attrs on e and saves it.
func (tx *Tx) Update(e *Entity, attrs map[string]any) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Set(k, attrs[k])
	}
	return tx.Save(e)
}

// Destroy deletes e. Destroying an entity that was never saved does nothing.
func (tx *Tx) Destroy(e *Entity) error {
	if !e.persisted {
		tx.hooks().BeforeDestroy(tx.conn.id, e)
		return nil
	}
	class := e.class.Name()
	if _, ok := tx.read(class, e.id); !ok {
		return ErrNotFound{Class: class, ID: e.id}
	}
	tx.hooks().BeforeDestroy(tx.conn.id, e)
	tx.stage(class, e.id, &write{deleted: true})
	e.persisted = false
	e.destroyed = true
	tx.undo = append(tx.undo, func() {
		e.persisted = true
		e.destroyed = false
	})
	return nil
}

// Find loads a fresh entity instance for the row.
func (tx *Tx) Find(class *domain.Class, id string) (*Entity, error) {
	attrs, ok := tx.read(class.Name(), id)
	if !ok {
		return nil, ErrNotFound{Class: class.Name(), ID: id}
	}
	return loadEntity(class, id, attrs), nil
}

// List loads every row of class visible to the transaction, ordered by id.
func (tx *Tx) List(class *domain.Class) []*Entity {
	name := class.Name()
	seen := make(map[string]struct{})
	var ids []string
	for _, id := range tx.conn.store.committedIDs(name) {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range tx.writes[name] {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if attrs, ok := tx.read(name, id); ok {
			out = append(out, loadEntity(class, id, attrs))
		}
	}
	return out
}

type noopHooks struct{}

func (noopHooks) BeforeCreate(domain.ConnID, tracking.Trackable)                           {}
func (noopHooks) BeforeUpdate(domain.ConnID, tracking.Trackable, []domain.AttributeChange) {}
func (noopHooks) BeforeDestroy(domain.ConnID, tracking.Trackable)                          {}
func (noopHooks) AfterCommit(context.Context, domain.ConnID) error                         { return nil }
func (noopHooks) AfterRollback(domain.ConnID)                                              {}
func (noopHooks) Release(domain.ConnID)                                                    {}
