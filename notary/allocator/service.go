// Package allocator owns the deployment's signing seed and hands out ledger
// address indices. An index is issued at most once, ever: the allocation
// state is a single versioned record in the backing store and every
// allocation is a conditional write against it.
package allocator

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
)

// StateKey is where the allocation state lives in the backing store.
const StateKey = "allocation/default"

const (
	DefaultMaxRetries     = 64
	DefaultInitialBackoff = 2 * time.Millisecond
	DefaultMaxBackoff     = 250 * time.Millisecond
)

// Allocation is one issued (seed, index) pair.
type Allocation struct {
	Seed  ledger.Seed
	Index uint64
}

type state struct {
	Seed      ledger.Seed `json:"seed"`
	NextIndex uint64      `json:"next_index"`
}

// Option customizes a Service.
type Option func(*Service)

// WithEntropy sets the source used for a new seed.
func WithEntropy(r io.Reader) Option {
	return func(s *Service) { s.entropy = r }
}

// WithRetryPolicy bounds how often a lost conditional write is retried.
func WithRetryPolicy(maxRetries uint64, initial, max time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.initialBackoff = initial
		s.maxBackoff = max
	}
}

// Service is the allocation authority.
type Service struct {
	store   kvstore.Store
	entropy io.Reader

	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// mu only keeps goroutines of this process from racing each other;
	// other processes are serialized by the conditional write.
	mu sync.Mutex
}

// New returns a Service over store.
func New(store kvstore.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		entropy:        rand.Reader,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AllocateNext issues the next unused index. The new state is persisted
// before it returns, so the caller may derive and sign with the address
// right away. A lost race is retried with the freshly read state; once the
// retry budget is spent the call fails with KindStoreUnavailable.
func (s *Service) AllocateNext(ctx context.Context) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff
	b.MaxElapsedTime = 0

	var out Allocation
	conflicts := 0
	err := backoff.RetryNotify(func() error {
		a, err := s.tryAllocate(ctx)
		if err == nil {
			out = a
			return nil
		}
		if errors.Is(err, errors.KindAllocationConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx), func(err error, d time.Duration) {
		conflicts++
		logtrace.Debug(ctx, "allocation conflict, retrying", logtrace.Fields{
			logtrace.FieldModule: "allocator",
			"attempt":            conflicts,
			"backoff":            d.String(),
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, errors.KindAllocationConflict):
			return Allocation{}, errors.E(errors.KindStoreUnavailable, "allocation retries exhausted", err)
		case errors.KindOf(err) == errors.KindUnknown:
			return Allocation{}, errors.E(errors.KindStoreUnavailable, "allocation aborted", err)
		}
		return Allocation{}, err
	}

	logtrace.Debug(ctx, "address index allocated", logtrace.Fields{
		logtrace.FieldModule: "allocator",
		logtrace.FieldIndex:  out.Index,
		"conflicts":          conflicts,
	})
	return out, nil
}

func (s *Service) tryAllocate(ctx context.Context) (Allocation, error) {
	entry, ok, err := s.store.Get(ctx, StateKey)
	if err != nil {
		return Allocation{}, errors.E(errors.KindStoreUnavailable, "read allocation state", err)
	}

	if !ok {
		seed, err := ledger.NewSeedFromReader(s.entropy)
		if err != nil {
			return Allocation{}, errors.E(errors.KindEntropy, "generate signing seed", err)
		}
		raw, err := json.Marshal(state{Seed: seed, NextIndex: 1})
		if err != nil {
			return Allocation{}, errors.E(errors.KindInternal, "encode allocation state", err)
		}
		inserted, err := s.store.PutIfAbsent(ctx, StateKey, raw)
		if err != nil {
			return Allocation{}, errors.E(errors.KindStoreUnavailable, "create allocation state", err)
		}
		if !inserted {
			return Allocation{}, errors.Ef(errors.KindAllocationConflict, "allocation state created concurrently")
		}
		logtrace.Info(ctx, "generated new signing seed", logtrace.Fields{logtrace.FieldModule: "allocator"})
		return Allocation{Seed: seed, Index: 0}, nil
	}

	cur, err := decodeState(entry.Value)
	if err != nil {
		return Allocation{}, err
	}
	if cur.NextIndex > ledger.MaxAddressIndex {
		return Allocation{}, errors.Ef(errors.KindInternal, "address index space exhausted at %d", cur.NextIndex)
	}

	raw, err := json.Marshal(state{Seed: cur.Seed, NextIndex: cur.NextIndex + 1})
	if err != nil {
		return Allocation{}, errors.E(errors.KindInternal, "encode allocation state", err)
	}
	swapped, err := s.store.CompareAndSwap(ctx, StateKey, entry.Version, raw)
	if err != nil {
		return Allocation{}, errors.E(errors.KindStoreUnavailable, "update allocation state", err)
	}
	if !swapped {
		return Allocation{}, errors.Ef(errors.KindAllocationConflict, "allocation state changed at version %d", entry.Version)
	}
	return Allocation{Seed: cur.Seed, Index: cur.NextIndex}, nil
}

func decodeState(raw []byte) (state, error) {
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return state{}, errors.E(errors.KindInternal, "decode allocation state", err)
	}
	if !st.Seed.Valid() {
		return state{}, errors.Ef(errors.KindInternal, "allocation state holds an invalid seed")
	}
	return st, nil
}

// Peek returns the next index that would be issued and whether a seed
// exists. It never exposes the seed.
func (s *Service) Peek(ctx context.Context) (nextIndex uint64, initialized bool, err error) {
	entry, ok, err := s.store.Get(ctx, StateKey)
	if err != nil {
		return 0, false, errors.E(errors.KindStoreUnavailable, "read allocation state", err)
	}
	if !ok {
		return 0, false, nil
	}
	st, err := decodeState(entry.Value)
	if err != nil {
		return 0, false, err
	}
	return st.NextIndex, true, nil
}
