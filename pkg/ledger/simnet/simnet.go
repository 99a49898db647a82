// Package simnet is an in-process ledger implementing ledger.Client. It
// keeps the properties the notary depends on: messages are split into
// fixed-size fragments chained in one bundle, records are immutable once
// written, and an address can sign at most one bundle. State lives in a
// kvstore.Store, so a SQLite-backed simnet survives restarts.
package simnet

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	json "github.com/json-iterator/go"
)

// DefaultFragmentSize matches the message capacity of one ledger record.
const DefaultFragmentSize = 2187

const (
	recordKeyPrefix = "simnet/record/"
	groupKeyPrefix  = "simnet/group/"
	spentKeyPrefix  = "simnet/spent/"
)

// Options configures a Ledger.
type Options struct {
	// AddressPrefix is the bech32 prefix for derived addresses.
	AddressPrefix string
	// FragmentSize is the number of trytes per record.
	FragmentSize int
	// Store persists records; an in-memory store is used when nil.
	Store kvstore.Store
}

// Ledger is a simulated ledger node.
type Ledger struct {
	prefix       string
	fragmentSize int
	store        kvstore.Store

	unreachable atomic.Bool
	submissions atomic.Int64
}

var _ ledger.Client = (*Ledger)(nil)

// New returns a Ledger with opts applied.
func New(opts Options) *Ledger {
	l := &Ledger{
		prefix:       opts.AddressPrefix,
		fragmentSize: opts.FragmentSize,
		store:        opts.Store,
	}
	if l.prefix == "" {
		l.prefix = ledger.DefaultAddressPrefix
	}
	if l.fragmentSize <= 0 {
		l.fragmentSize = DefaultFragmentSize
	}
	if l.store == nil {
		l.store = kvstore.NewMemoryStore()
	}
	return l
}

// SetReachable toggles simulated network availability.
func (l *Ledger) SetReachable(ok bool) { l.unreachable.Store(!ok) }

// Submissions returns the number of accepted bundles.
func (l *Ledger) Submissions() int64 { return l.submissions.Load() }

func (l *Ledger) DeriveAddress(seed ledger.Seed, index uint64) (string, error) {
	return ledger.DeriveAddress(l.prefix, seed, index)
}

func (l *Ledger) IsReachable(ctx context.Context) bool {
	return ctx.Err() == nil && !l.unreachable.Load()
}

func (l *Ledger) Submit(ctx context.Context, address, message string, params ledger.NetworkParams) ([]string, error) {
	if !l.IsReachable(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrUnreachable
	}
	if address == "" {
		return nil, fmt.Errorf("simnet: empty address")
	}
	if message == "" || !ledger.IsTrytes(message) {
		return nil, fmt.Errorf("simnet: message must be non-empty trytes")
	}
	if params.MinWeightMagnitude < 0 || params.Depth < 0 {
		return nil, fmt.Errorf("simnet: invalid network params %+v", params)
	}

	fragments := splitFragments(message, l.fragmentSize)
	ts := time.Now().UnixNano()
	groupID := ledger.HashTrytes([]byte(address), []byte(message), []byte(params.Tag), []byte(strconv.FormatInt(ts, 10)))

	// Claiming the address first makes a second spend fail even when two
	// submissions race.
	claimed, err := l.store.PutIfAbsent(ctx, spentKeyPrefix+address, []byte(groupID))
	if err != nil {
		return nil, fmt.Errorf("simnet: claim address: %w", err)
	}
	if !claimed {
		logtrace.Warn(ctx, "simnet: rejected reuse of spent address", logtrace.Fields{
			logtrace.FieldModule:  "simnet",
			logtrace.FieldAddress: address,
		})
		return nil, ledger.ErrAddressSpent
	}

	ids := make([]string, len(fragments))
	for i, frag := range fragments {
		rec := ledger.Record{
			GroupID:   groupID,
			Index:     i,
			LastIndex: len(fragments) - 1,
			Address:   address,
			Tag:       params.Tag,
			Message:   frag,
			Timestamp: ts,
		}
		rec.ID = ledger.HashTrytes([]byte(groupID), []byte(strconv.Itoa(i)), []byte(frag))
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("simnet: marshal record: %w", err)
		}
		if _, err := l.store.PutIfAbsent(ctx, recordKeyPrefix+rec.ID, raw); err != nil {
			return nil, fmt.Errorf("simnet: write record: %w", err)
		}
		ids[i] = rec.ID
	}

	rawGroup, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("simnet: marshal bundle: %w", err)
	}
	if _, err := l.store.PutIfAbsent(ctx, groupKeyPrefix+groupID, rawGroup); err != nil {
		return nil, fmt.Errorf("simnet: write bundle: %w", err)
	}

	l.submissions.Add(1)
	logtrace.Debug(ctx, "simnet: bundle attached", logtrace.Fields{
		logtrace.FieldModule:  "simnet",
		logtrace.FieldGroupID: groupID,
		"records":             len(ids),
	})
	return ids, nil
}

func (l *Ledger) Fetch(ctx context.Context, recordID string) (ledger.Record, error) {
	if !l.IsReachable(ctx) {
		if err := ctx.Err(); err != nil {
			return ledger.Record{}, err
		}
		return ledger.Record{}, ledger.ErrUnreachable
	}
	e, ok, err := l.store.Get(ctx, recordKeyPrefix+recordID)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("simnet: read record: %w", err)
	}
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	var rec ledger.Record
	if err := json.Unmarshal(e.Value, &rec); err != nil {
		return ledger.Record{}, fmt.Errorf("simnet: decode record: %w", err)
	}
	return rec, nil
}

func (l *Ledger) FetchGroup(ctx context.Context, groupID string) ([]ledger.Record, error) {
	if !l.IsReachable(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrUnreachable
	}
	e, ok, err := l.store.Get(ctx, groupKeyPrefix+groupID)
	if err != nil {
		return nil, fmt.Errorf("simnet: read bundle: %w", err)
	}
	if !ok {
		return nil, ledger.ErrNotFound
	}
	var ids []string
	if err := json.Unmarshal(e.Value, &ids); err != nil {
		return nil, fmt.Errorf("simnet: decode bundle: %w", err)
	}
	out := make([]ledger.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := l.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func splitFragments(message string, size int) []string {
	out := make([]string, 0, len(message)/size+1)
	for off := 0; off < len(message); off += size {
		end := off + size
		if end > len(message) {
			end = len(message)
		}
		out = append(out, message[off:end])
	}
	return out
}
