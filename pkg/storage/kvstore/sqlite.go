package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// SQLiteFilename is the database file created inside the data directory.
	SQLiteFilename = "notary.db"

	DBBusyTimeout  = 30 * time.Second
	DBCacheSizeKiB = 64 * 1024
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  version INTEGER NOT NULL,
  updated_at_unix INTEGER NOT NULL
);`

// SQLiteStore is a Store backed by a SQLite file. Several processes may open
// the same file; conditional writes are single statements, so SQLite's write
// lock makes them atomic across all of them.
type SQLiteStore struct {
	db     *sqlx.DB
	closed atomic.Bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create kvstore directory: %w", err)
		}
	}

	// Pragmas go in the DSN so that every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=off",
		dbPath, int64(DBBusyTimeout/time.Millisecond))
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open kvstore sqlite database: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA cache_size=-%d;", DBCacheSizeKiB)); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot set sqlite database parameter: %w", err)
	}
	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create kv table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := s.ready(); err != nil {
		return Entry{}, false, err
	}

	var row struct {
		Value   []byte `db:"value"`
		Version uint64 `db:"version"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT value, version FROM kv WHERE key = ?`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("query kv: %w", err)
	}
	return Entry{Value: row.Value, Version: row.Version}, true, nil
}

func (s *SQLiteStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, version, updated_at_unix)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert kv: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert kv rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key string, expected uint64, value []byte) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE kv SET value = ?, version = version + 1, updated_at_unix = ?
		 WHERE key = ? AND version = ?`,
		value, time.Now().Unix(), key, expected,
	)
	if err != nil {
		return false, fmt.Errorf("update kv: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update kv rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
