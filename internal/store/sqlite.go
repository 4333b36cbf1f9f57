package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Sqlite is a KV backed by a single-table SQLite database file, scoped to the
// device profile the way browser storage is scoped to a profile.
type Sqlite struct {
	db *sql.DB
}

var _ KV = (*Sqlite)(nil)

// OpenSqlite opens (creating if needed) the KV database at path.
func OpenSqlite(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Sqlite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Sqlite) Close() error { return s.db.Close() }

func (s *Sqlite) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Sqlite) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key,value) VALUES (?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (s *Sqlite) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key=?`, key)
	return err
}
