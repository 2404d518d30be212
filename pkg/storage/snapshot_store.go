// Package storage persists the panel's last-known view of each scope so a
// restart or scope switch renders warm data before the first fetch lands.
// This is purely a client-side cache; server truth always overwrites it.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Snapshot kinds persisted per scope.
const (
	KindDocuments    = "documents"
	KindClipboard    = "clipboard"
	KindMemoryCounts = "memory_counts"
	KindFileList     = "filelist"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	scope      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (scope, kind)
);
`

// ErrStoreClosed indicates the underlying database connection is unavailable.
var ErrStoreClosed = errors.New("storage: closed")

// Store manages the SQLite snapshot database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the snapshot database at dbPath. ":memory:" gives a
// throwaway store for tests.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			// Snapshots can contain document text; keep the directory private.
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One desktop process; a handful of connections is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot upserts the JSON-encoded payload for (scope, kind).
func (s *Store) SaveSnapshot(scope, kind string, payload any) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot %s/%s: %w", scope, kind, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (scope, kind, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, kind) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, scope, kind, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write snapshot %s/%s: %w", scope, kind, err)
	}
	return nil
}

// LoadSnapshot decodes the stored payload for (scope, kind) into out.
// Returns false with no error when no snapshot exists.
func (s *Store) LoadSnapshot(scope, kind string, out any) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStoreClosed
	}

	var data string
	err := s.db.QueryRow(
		`SELECT data FROM snapshots WHERE scope = ? AND kind = ?`, scope, kind,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s/%s: %w", scope, kind, err)
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("decode snapshot %s/%s: %w", scope, kind, err)
	}
	return true, nil
}

// SnapshotAge returns when the (scope, kind) snapshot was last written.
func (s *Store) SnapshotAge(scope, kind string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrStoreClosed
	}

	var updatedAt time.Time
	err := s.db.QueryRow(
		`SELECT updated_at FROM snapshots WHERE scope = ? AND kind = ?`, scope, kind,
	).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return updatedAt, true, nil
}

// DeleteScope removes every snapshot of a scope.
func (s *Store) DeleteScope(scope string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE scope = ?`, scope)
	return err
}
