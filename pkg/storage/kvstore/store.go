// Package kvstore is the durable key-value medium under the allocation state
// and the record cache. Every value carries a version that starts at 1 and is
// bumped by each successful CompareAndSwap, which is what makes conditional
// updates safe across goroutines and across processes sharing a database.
package kvstore

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore: store closed")

// Entry is a stored value with its version.
type Entry struct {
	Value   []byte
	Version uint64
}

//go:generate mockgen -destination=mock_store.go -package=kvstore -source=store.go

// Store is a key-value store with conditional writes.
type Store interface {
	// Get returns the entry for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	// PutIfAbsent inserts value at version 1. inserted is false when the key
	// already existed, in which case nothing was written.
	PutIfAbsent(ctx context.Context, key string, value []byte) (inserted bool, err error)
	// CompareAndSwap replaces the value only if the stored version equals
	// expected. swapped is false on a version mismatch or a missing key.
	CompareAndSwap(ctx context.Context, key string, expected uint64, value []byte) (swapped bool, err error)
	Close() error
}
