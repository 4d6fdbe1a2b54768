// Package postgres keeps committed records in a Postgres table, one JSONB row
// per record, and serves transactions from the in-memory store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"commitwatch/internal/infra/persistence/memory"
	"commitwatch/pkg/log"
)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/commitwatch?sslmode=disable"
)

const (
	createRecords = `CREATE TABLE IF NOT EXISTS records (
		class TEXT NOT NULL,
		id TEXT NOT NULL,
		attrs JSONB NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (class, id)
	)`
	selectRecords = `SELECT class, id, attrs FROM records ORDER BY class, id`
	upsertRecord  = `INSERT INTO records(class,id,attrs) VALUES($1,$2,$3) ON CONFLICT(class,id) DO UPDATE SET attrs=EXCLUDED.attrs, committed_at=now()`
	deleteRecord  = `DELETE FROM records WHERE class=$1 AND id=$2`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory.Store whose commits are written through to Postgres.
type Store struct {
	*memory.Store
	db     *sql.DB
	logger log.Logger
}

// NewStore connects to dsn (defaultDSN when empty), creates the records
// table and loads every committed record into memory.
func NewStore(ctx context.Context, dsn string, hooks memory.Hooks, logger log.Logger) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{db: db, logger: log.OrNoop(logger)}
	if err := s.init(ctx, hooks); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context, hooks memory.Hooks) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createRecords); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	rows, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.Store = memory.NewStore(hooks, memory.WithPersister(s), memory.WithLogger(s.logger))
	s.ImportState(memory.SnapshotOf(rows))
	s.logger.Debug("postgres records loaded", log.Int("records", len(rows)))
	return nil
}

func (s *Store) load(ctx context.Context) ([]memory.Row, error) {
	result, err := s.db.QueryContext(ctx, selectRecords)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = result.Close() }()
	var rows []memory.Row
	for result.Next() {
		var row memory.Row
		var payload []byte
		if err := result.Scan(&row.Class, &row.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(payload, &row.Attrs); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", row.Class, row.ID, err)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return rows, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Persist implements memory.Persister. The rows of one commit are written in
// a single database transaction.
func (s *Store) Persist(ctx context.Context, rows []memory.Row) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, row := range rows {
		if row.Deleted {
			if _, err = tx.ExecContext(ctx, deleteRecord, row.Class, row.ID); err != nil {
				return fmt.Errorf("delete %s %s: %w", row.Class, row.ID, err)
			}
			continue
		}
		var payload []byte
		if payload, err = json.Marshal(row.Attrs); err != nil {
			return fmt.Errorf("encode %s %s: %w", row.Class, row.ID, err)
		}
		if _, err = tx.ExecContext(ctx, upsertRecord, row.Class, row.ID, payload); err != nil {
			return fmt.Errorf("upsert %s %s: %w", row.Class, row.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
