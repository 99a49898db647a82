// Package contentstore defines the content-addressed blob store the notary
// keeps file bytes in. Ids are derived from the bytes, so the same bytes
// always map to the same id.
package contentstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for ids the store does not hold.
var ErrNotFound = errors.New("contentstore: content not found")

//go:generate mockgen -destination=mock_store.go -package=contentstore -source=store.go

// Store is a content-addressed blob store.
type Store interface {
	// Put stores data and returns its content id.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
}
