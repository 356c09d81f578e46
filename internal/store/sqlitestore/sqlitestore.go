// Package sqlitestore persists cycle snapshots to a local sqlite database
// via modernc.org/sqlite, a cgo-free driver, so the engine binary stays a
// single static executable.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycle_snapshots (
	cycle_id TEXT PRIMARY KEY,
	record   BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

// Store is a sqlite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the snapshot table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(ctx context.Context, cycleID string, record []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_snapshots (cycle_id, record, updated_at)
		VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(cycle_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, cycleID, record)
	return err
}

func (s *Store) Get(ctx context.Context, cycleID string) ([]byte, bool, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM cycle_snapshots WHERE cycle_id = ?`, cycleID).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func (s *Store) Delete(ctx context.Context, cycleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cycle_snapshots WHERE cycle_id = ?`, cycleID)
	return err
}

func (s *Store) All(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cycle_id, record FROM cycle_snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var record []byte
		if err := rows.Scan(&id, &record); err != nil {
			return nil, err
		}
		out[id] = record
	}
	return out, rows.Err()
}
