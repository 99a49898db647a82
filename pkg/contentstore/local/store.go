// Package local is a content store kept in a SQLite file next to the rest of
// the notary's state. Blobs are zstd-compressed at rest and addressed by
// base58(blake3(bytes)); reads re-derive the id to catch corruption.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/LumeraProtocol/notary/pkg/contentstore"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/utils"
	"github.com/cosmos/btcutil/base58"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Filename is the database file created inside the data directory.
const Filename = "content.db"

const createBlobsTable = `
CREATE TABLE IF NOT EXISTS blobs (
  id TEXT PRIMARY KEY,
  data BLOB NOT NULL,
  size INTEGER NOT NULL,
  created_at_unix INTEGER NOT NULL
);`

// Stats summarizes what the store holds.
type Stats struct {
	Blobs           int64 `db:"blobs" json:"blobs"`
	RawBytes        int64 `db:"raw_bytes" json:"raw_bytes"`
	CompressedBytes int64 `db:"compressed_bytes" json:"compressed_bytes"`
}

// Store implements contentstore.Store on SQLite.
type Store struct {
	db     *sqlx.DB
	closed atomic.Bool
}

var _ contentstore.Store = (*Store)(nil)

// ContentID returns the id Put assigns to data.
func ContentID(data []byte) string {
	return base58.Encode(utils.Blake3Hash(data))
}

// IDFor is ContentID as a method, for callers holding a contentstore.Store.
func (s *Store) IDFor(_ context.Context, data []byte) (string, error) {
	return ContentID(data), nil
}

// New opens (creating if needed) the blob database at dbPath.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("cannot create content store directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", dbPath, int64(30*time.Second/time.Millisecond))
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open content store database: %w", err)
	}
	if _, err := db.Exec(createBlobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create blobs table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) ready() error {
	if s.closed.Load() {
		return fmt.Errorf("content store closed")
	}
	return nil
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	id := ContentID(data)
	compressed, err := utils.ZstdCompress(data)
	if err != nil {
		return "", fmt.Errorf("compress blob: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (id, data, size, created_at_unix) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, compressed, len(data), time.Now().Unix(),
	); err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var compressed []byte
	if err := s.db.GetContext(ctx, &compressed, `SELECT data FROM blobs WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, contentstore.ErrNotFound
		}
		return nil, fmt.Errorf("query blob: %w", err)
	}
	data, err := utils.ZstdDecompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", id, err)
	}
	if got := ContentID(data); got != id {
		logtrace.Error(ctx, "content store blob failed integrity check", logtrace.Fields{
			logtrace.FieldModule:    "contentstore",
			logtrace.FieldContentID: id,
			"recomputed":            got,
		})
		return nil, fmt.Errorf("blob %s is corrupted: content hashes to %s", id, got)
	}
	return data, nil
}

// Delete removes id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Stats reports blob count and sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}
	var st Stats
	err := s.db.GetContext(ctx, &st,
		`SELECT COUNT(*) AS blobs,
		        COALESCE(SUM(size), 0) AS raw_bytes,
		        COALESCE(SUM(LENGTH(data)), 0) AS compressed_bytes
		 FROM blobs`)
	if err != nil {
		return Stats{}, fmt.Errorf("query blob stats: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
