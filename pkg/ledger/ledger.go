// Package ledger defines the distributed-ledger collaborator used by the
// notary pipelines: one-time address derivation from a seed and an index,
// submission of a message as one or more chained records, and lookup of
// records and their bundles.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Fetch and FetchGroup for unknown ids.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrAddressSpent is returned when an address has already signed a submission.
	ErrAddressSpent = errors.New("ledger: address already spent")
	// ErrUnreachable is returned when the ledger node cannot be contacted.
	ErrUnreachable = errors.New("ledger: node unreachable")
)

// NetworkParams carries the per-submission network settings.
type NetworkParams struct {
	// Depth is how far back the node walks when selecting records to approve.
	Depth int `mapstructure:"depth" yaml:"depth" json:"depth"`
	// MinWeightMagnitude is the proof-of-work difficulty.
	MinWeightMagnitude int `mapstructure:"min_weight_magnitude" yaml:"min_weight_magnitude" json:"min_weight_magnitude"`
	// Tag is attached to every record of the bundle.
	Tag string `mapstructure:"tag" yaml:"tag" json:"tag"`
}

// Record is one physical ledger record. Records of one submission share a
// GroupID and are ordered by Index in [0, LastIndex].
type Record struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Index     int    `json:"index"`
	LastIndex int    `json:"last_index"`
	Address   string `json:"address"`
	Tag       string `json:"tag,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

//go:generate mockgen -destination=mock_client.go -package=ledger -source=ledger.go

// Client is the ledger collaborator.
type Client interface {
	// DeriveAddress returns the one-time address for (seed, index).
	DeriveAddress(seed Seed, index uint64) (string, error)
	// Submit writes message from address and returns the ids of the chained
	// records in bundle order. The first id is the canonical reference.
	Submit(ctx context.Context, address, message string, params NetworkParams) ([]string, error)
	// Fetch returns a single record.
	Fetch(ctx context.Context, recordID string) (Record, error)
	// FetchGroup returns every record of a bundle in order.
	FetchGroup(ctx context.Context, groupID string) ([]Record, error)
	// IsReachable reports whether the node answers.
	IsReachable(ctx context.Context) bool
}
