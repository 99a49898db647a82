// Package recordcache keeps ledger records and bundles that the notary has
// already seen, so verification does not go back to the ledger for them.
// Ledger data is immutable: entries are written once and never expire. A
// second write for the same id must carry identical content.
package recordcache

import (
	"bytes"
	"context"
	"slices"
	"sync/atomic"

	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	ristretto "github.com/dgraph-io/ristretto/v2"
	json "github.com/json-iterator/go"
)

const (
	groupKeyPrefix  = "cache/group/"
	recordKeyPrefix = "cache/record/"

	DefaultMaxItems = 10_000
	hotBufferItems  = 64
	hotItemCost     = 1
)

// RecordGroup is one ledger submission: its records in bundle order.
type RecordGroup struct {
	GroupID         string   `json:"group_id"`
	MemberRecordIDs []string `json:"member_record_ids"`
}

// Equal reports whether g and o describe the same bundle.
func (g RecordGroup) Equal(o RecordGroup) bool {
	return g.GroupID == o.GroupID && slices.Equal(g.MemberRecordIDs, o.MemberRecordIDs)
}

func (g RecordGroup) clone() RecordGroup {
	g.MemberRecordIDs = slices.Clone(g.MemberRecordIDs)
	return g
}

// RecordEntry is one physical ledger record.
type RecordEntry struct {
	RecordID   string `json:"record_id"`
	GroupID    string `json:"group_id"`
	Index      int    `json:"index"`
	RawMessage string `json:"raw_message"`
}

func (e RecordEntry) Equal(o RecordEntry) bool { return e == o }

func (e RecordEntry) clone() RecordEntry { return e }

// Stats counts lookups by the tier that answered them.
type Stats struct {
	HotHits     uint64 `json:"hot_hits"`
	DurableHits uint64 `json:"durable_hits"`
	Misses      uint64 `json:"misses"`
}

// Cache is a ristretto hot tier over a durable kvstore.Store.
type Cache struct {
	store   kvstore.Store
	groups  *ristretto.Cache[string, RecordGroup]
	records *ristretto.Cache[string, RecordEntry]

	hotHits, durableHits, misses atomic.Uint64
}

func newHotTier[T any](maxItems int64) (*ristretto.Cache[string, T], error) {
	return ristretto.NewCache(&ristretto.Config[string, T]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: hotBufferItems,
	})
}

// New returns a Cache over store. maxItems bounds each hot tier.
func New(store kvstore.Store, maxItems int64) (*Cache, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	groups, err := newHotTier[RecordGroup](maxItems)
	if err != nil {
		return nil, errors.Errorf("create group cache: %w", err)
	}
	records, err := newHotTier[RecordEntry](maxItems)
	if err != nil {
		groups.Close()
		return nil, errors.Errorf("create record cache: %w", err)
	}
	return &Cache{store: store, groups: groups, records: records}, nil
}

// Close releases the hot tiers. The durable store is owned by the caller.
func (c *Cache) Close() {
	c.groups.Close()
	c.records.Close()
}

func (c *Cache) Stats() Stats {
	return Stats{HotHits: c.hotHits.Load(), DurableHits: c.durableHits.Load(), Misses: c.misses.Load()}
}

func (c *Cache) GetGroup(ctx context.Context, groupID string) (RecordGroup, bool, error) {
	return get(ctx, c, c.groups, groupKeyPrefix, groupID)
}

func (c *Cache) PutGroup(ctx context.Context, g RecordGroup) error {
	if g.GroupID == "" || len(g.MemberRecordIDs) == 0 {
		return errors.Ef(errors.KindValidation, "record group needs an id and at least one member")
	}
	return put(ctx, c, c.groups, groupKeyPrefix, g.GroupID, g)
}

func (c *Cache) GetRecord(ctx context.Context, recordID string) (RecordEntry, bool, error) {
	return get(ctx, c, c.records, recordKeyPrefix, recordID)
}

func (c *Cache) PutRecord(ctx context.Context, e RecordEntry) error {
	if e.RecordID == "" {
		return errors.Ef(errors.KindValidation, "record entry needs an id")
	}
	return put(ctx, c, c.records, recordKeyPrefix, e.RecordID, e)
}

type cacheValue[T any] interface {
	Equal(T) bool
	clone() T
}

func get[T cacheValue[T]](ctx context.Context, c *Cache, hot *ristretto.Cache[string, T], prefix, id string) (T, bool, error) {
	var zero T
	if v, ok := hot.Get(id); ok {
		c.hotHits.Add(1)
		return v.clone(), true, nil
	}

	entry, ok, err := c.store.Get(ctx, prefix+id)
	if err != nil {
		return zero, false, errors.E(errors.KindStoreUnavailable, "read record cache", err)
	}
	if !ok {
		c.misses.Add(1)
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return zero, false, errors.E(errors.KindInternal, "decode cached "+prefix+id, err)
	}
	c.durableHits.Add(1)
	hot.Set(id, v.clone(), hotItemCost)
	return v, true, nil
}

// put writes v once. Rewriting identical content is a no-op; different
// content for an existing id is a ConsistencyFault and nothing is written.
func put[T cacheValue[T]](ctx context.Context, c *Cache, hot *ristretto.Cache[string, T], prefix, id string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.E(errors.KindInternal, "encode cache entry", err)
	}
	inserted, err := c.store.PutIfAbsent(ctx, prefix+id, raw)
	if err != nil {
		return errors.E(errors.KindStoreUnavailable, "write record cache", err)
	}
	if inserted {
		hot.Set(id, v.clone(), hotItemCost)
		return nil
	}

	entry, ok, err := c.store.Get(ctx, prefix+id)
	if err != nil {
		return errors.E(errors.KindStoreUnavailable, "read record cache", err)
	}
	if !ok {
		return errors.Ef(errors.KindInternal, "cache entry %s%s vanished after insert conflict", prefix, id)
	}
	if bytes.Equal(entry.Value, raw) {
		return nil
	}
	var existing T
	if err := json.Unmarshal(entry.Value, &existing); err == nil && existing.Equal(v) {
		return nil
	}

	fault := errors.Ef(errors.KindConsistencyFault, "refusing to overwrite immutable cache entry %s%s with different content", prefix, id)
	logtrace.Error(ctx, "record cache consistency fault", logtrace.Fields{
		logtrace.FieldModule:     "recordcache",
		logtrace.FieldRecordID:   id,
		logtrace.FieldErrorKind:  errors.KindConsistencyFault.String(),
		logtrace.FieldError:      fault.Error(),
		logtrace.FieldStackTrace: errors.StackOf(fault),
	})
	return fault
}
