// Package sqlite keeps committed records in a SQLite file, one JSON row per
// record, and serves transactions from the in-memory store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"commitwatch/internal/infra/persistence/memory"
	"commitwatch/pkg/log"
)

const defaultPath = "commitwatch.db"

const schema = `CREATE TABLE IF NOT EXISTS records (
	class TEXT NOT NULL,
	id TEXT NOT NULL,
	attrs TEXT NOT NULL,
	committed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (class, id)
)`

// Store is a memory.Store whose commits are written through to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and loads every committed
// record. Numbers come back from the JSON payload as float64.
func NewStore(path string, hooks memory.Hooks, logger log.Logger) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	rows, err := loadRows(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(hooks, memory.WithPersister(s), memory.WithLogger(logger))
	s.ImportState(memory.SnapshotOf(rows))
	return s, nil
}

func loadRows(db *sql.DB) ([]memory.Row, error) {
	result, err := db.Query(`SELECT class, id, attrs FROM records ORDER BY class, id`)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = result.Close() }()
	var rows []memory.Row
	for result.Next() {
		var row memory.Row
		var payload string
		if err := result.Scan(&row.Class, &row.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &row.Attrs); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", row.Class, row.ID, err)
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

// Persist implements memory.Persister.
func (s *Store) Persist(ctx context.Context, rows []memory.Row) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, row := range rows {
		if row.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE class = ? AND id = ?`, row.Class, row.ID); err != nil {
				return fmt.Errorf("delete %s %s: %w", row.Class, row.ID, err)
			}
			continue
		}
		payload, err := json.Marshal(row.Attrs)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", row.Class, row.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO records(class, id, attrs) VALUES(?, ?, ?)
			ON CONFLICT(class, id) DO UPDATE SET attrs = excluded.attrs, committed_at = CURRENT_TIMESTAMP`,
			row.Class, row.ID, string(payload)); err != nil {
			return fmt.Errorf("upsert %s %s: %w", row.Class, row.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
