// Package testutil provides a stub database/sql driver that emulates the
// postgres records table for store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq atomic.Int64

// Record is one row of the emulated records table.
type Record struct {
	Class string
	ID    string
	Attrs []byte
}

// StubConn understands the statements the postgres store issues: CREATE
// TABLE, upserts and deletes on records, and a full select. Writes made inside
// a transaction only become visible on Commit.
type StubConn struct {
	mu      sync.Mutex
	records map[string]Record
	pending []func()

	Execs      []string
	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailQuery  bool
	Commits    int
	Rollbacks  int
}

// NewStubDB registers a uniquely named driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{records: make(map[string]Record)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Seed stores a committed record directly.
func (c *StubConn) Seed(class, id, attrs string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[recordKey(class, id)] = Record{Class: class, ID: id, Attrs: []byte(attrs)}
}

// Records returns the committed records ordered by class then id.
func (c *StubConn) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sorted()
}

func (c *StubConn) sorted() []Record {
	keys := make([]string, 0, len(c.records))
	for k := range c.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.records[k])
	}
	return out
}

func recordKey(class, id string) string { return class + "\x00" + id }

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "INSERT", "DELETE":
	default:
		return nil, fmt.Errorf("unsupported statement: %s", query)
	}
	if !strings.Contains(query, "records") {
		return nil, fmt.Errorf("unknown table in: %s", query)
	}
	want := 2
	if verb == "INSERT" {
		want = 3
	}
	if len(args) != want {
		return nil, fmt.Errorf("%s expects %d args, got %d", verb, want, len(args))
	}
	class, _ := args[0].Value.(string)
	id, _ := args[1].Value.(string)
	key := recordKey(class, id)
	if verb == "DELETE" {
		c.pending = append(c.pending, func() { delete(c.records, key) })
		return driver.RowsAffected(1), nil
	}
	attrs, ok := args[2].Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("attrs must be []byte, got %T", args[2].Value)
	}
	rec := Record{Class: class, ID: id, Attrs: append([]byte(nil), attrs...)}
	c.pending = append(c.pending, func() { c.records[key] = rec })
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT CLASS, ID, ATTRS FROM RECORDS") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	rows := &stubRows{}
	for _, rec := range c.sorted() {
		rows.values = append(rows.values, []driver.Value{rec.Class, rec.ID, rec.Attrs})
	}
	return rows, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCommit {
		c.pending = nil
		return fmt.Errorf("commit fail")
	}
	for _, apply := range c.pending {
		apply()
	}
	c.pending = nil
	c.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.Rollbacks++
	return nil
}

type stubRows struct {
	values [][]driver.Value
	idx    int
}

func (r *stubRows) Columns() []string { return []string{"class", "id", "attrs"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}
