package kv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
)

const (
	sqliteDirPerm     = 0750
	sqliteConnTimeout = 5 * time.Second
)

// SQLite is a [Store] kept in a single SQLite table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), sqliteDirPerm); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}
	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}
	db.SetMaxOpenConns(1) // Single writer.
	ctx, cancel := context.WithTimeout(context.Background(), sqliteConnTimeout)
	defer cancel()
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating kv table")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "get %q", key)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (s *SQLite) Set(key string, value []byte) error {
	return s.SetAll([]Entry{{Key: key, Value: value}})
}

func (s *SQLite) Delete(key string) error {
	return s.DeleteAll([]string{key})
}

func (s *SQLite) SetAll(entries []Entry) error {
	return s.tx(func(tx *sql.Tx) error {
		for _, e := range entries {
			value := e.Value
			if value == nil {
				value = []byte{}
			}
			_, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, e.Key, value)
			if err != nil {
				return errors.Wrapf(err, "set %q", e.Key)
			}
		}
		return nil
	})
}

func (s *SQLite) DeleteAll(keys []string) error {
	return s.tx(func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, k)
			if err != nil {
				return errors.Wrapf(err, "delete %q", k)
			}
		}
		return nil
	})
}

func (s *SQLite) tx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}
