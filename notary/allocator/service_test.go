package allocator

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func allocateConcurrently(t *testing.T, n int, services ...*Service) []Allocation {
	t.Helper()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []Allocation
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(svc *Service) {
			defer wg.Done()
			a, err := svc.AllocateNext(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			out = append(out, a)
			mu.Unlock()
		}(services[i%len(services)])
	}
	wg.Wait()
	require.Len(t, out, n)
	return out
}

func assertDenseIndices(t *testing.T, allocs []Allocation, from uint64) {
	t.Helper()
	idx := make([]int, 0, len(allocs))
	for _, a := range allocs {
		assert.Equal(t, allocs[0].Seed, a.Seed)
		idx = append(idx, int(a.Index))
	}
	sort.Ints(idx)
	for i, v := range idx {
		assert.Equal(t, int(from)+i, v)
	}
}

func TestAllocateNextSequential(t *testing.T) {
	ctx := context.Background()
	svc := New(kvstore.NewMemoryStore())

	next, initialized, err := svc.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, initialized)
	assert.Zero(t, next)

	first, err := svc.AllocateNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Index)
	assert.True(t, first.Seed.Valid())

	second, err := svc.AllocateNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Index)
	assert.Equal(t, first.Seed, second.Seed)

	next, initialized, err = svc.Peek(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, uint64(2), next)
}

func TestAllocateNextConcurrentYieldsDistinctIndices(t *testing.T) {
	svc := New(kvstore.NewMemoryStore())
	allocs := allocateConcurrently(t, 64, svc)
	assertDenseIndices(t, allocs, 0)
}

// Separate Service values share nothing but the store, like separate
// processes sharing a database.
func TestAllocateNextAcrossServicesSharingAStore(t *testing.T) {
	store := kvstore.NewMemoryStore()
	a := New(store, WithRetryPolicy(1000, time.Microsecond, time.Millisecond))
	b := New(store, WithRetryPolicy(1000, time.Microsecond, time.Millisecond))
	c := New(store, WithRetryPolicy(1000, time.Microsecond, time.Millisecond))

	allocs := allocateConcurrently(t, 60, a, b, c)
	assertDenseIndices(t, allocs, 0)
}

func TestAllocateNextAcrossSQLiteHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), kvstore.SQLiteFilename)
	s1, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	a := New(s1, WithRetryPolicy(1000, time.Microsecond, 5*time.Millisecond))
	b := New(s2, WithRetryPolicy(1000, time.Microsecond, 5*time.Millisecond))

	allocs := allocateConcurrently(t, 40, a, b)
	assertDenseIndices(t, allocs, 0)
}

func TestAllocateNextContinuesAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), kvstore.SQLiteFilename)

	store, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	svc := New(store)
	var seed ledger.Seed
	for i := 0; i < 3; i++ {
		a, err := svc.AllocateNext(ctx)
		require.NoError(t, err)
		seed = a.Seed
	}
	require.NoError(t, store.Close())

	reopened, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	restarted := New(reopened)

	a, err := restarted.AllocateNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), a.Index)
	assert.Equal(t, seed, a.Seed)

	allocs := allocateConcurrently(t, 10, restarted)
	assertDenseIndices(t, allocs, 4)
}

func TestAllocateNextEntropyFailure(t *testing.T) {
	ctx := context.Background()
	svc := New(kvstore.NewMemoryStore(), WithEntropy(iotest.ErrReader(assert.AnError)))

	_, err := svc.AllocateNext(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.KindEntropy, errors.KindOf(err))

	_, initialized, err := svc.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, initialized)
}

func TestAllocateNextStoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := kvstore.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), StateKey).Return(kvstore.Entry{}, false, assert.AnError).Times(1)

	_, err := New(store).AllocateNext(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindStoreUnavailable, errors.KindOf(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAllocateNextRetriesConflictsThenGivesUp(t *testing.T) {
	ctx := context.Background()
	seed, err := ledger.NewSeed()
	require.NoError(t, err)
	raw := []byte(`{"seed":"` + string(seed) + `","next_index":7}`)

	ctrl := gomock.NewController(t)
	store := kvstore.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), StateKey).Return(kvstore.Entry{Value: raw, Version: 3}, true, nil).Times(4)
	store.EXPECT().CompareAndSwap(gomock.Any(), StateKey, uint64(3), gomock.Any()).Return(false, nil).Times(4)

	svc := New(store, WithRetryPolicy(3, time.Millisecond, time.Millisecond))
	_, err = svc.AllocateNext(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.KindStoreUnavailable, errors.KindOf(err))
	assert.True(t, errors.KindStoreUnavailable.Retryable())
}

func TestAllocateNextRecoversFromOneConflict(t *testing.T) {
	ctx := context.Background()
	seed, err := ledger.NewSeed()
	require.NoError(t, err)
	stale := []byte(`{"seed":"` + string(seed) + `","next_index":7}`)
	fresh := []byte(`{"seed":"` + string(seed) + `","next_index":8}`)

	ctrl := gomock.NewController(t)
	store := kvstore.NewMockStore(ctrl)
	gomock.InOrder(
		store.EXPECT().Get(gomock.Any(), StateKey).Return(kvstore.Entry{Value: stale, Version: 3}, true, nil),
		store.EXPECT().CompareAndSwap(gomock.Any(), StateKey, uint64(3), gomock.Any()).Return(false, nil),
		store.EXPECT().Get(gomock.Any(), StateKey).Return(kvstore.Entry{Value: fresh, Version: 4}, true, nil),
		store.EXPECT().CompareAndSwap(gomock.Any(), StateKey, uint64(4), gomock.Any()).Return(true, nil),
	)

	a, err := New(store, WithRetryPolicy(3, time.Millisecond, time.Millisecond)).AllocateNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), a.Index)
	assert.Equal(t, seed, a.Seed)
}

func TestAllocateNextRejectsCorruptState(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	_, err := store.PutIfAbsent(ctx, StateKey, []byte(`{"seed":"not a mnemonic","next_index":1}`))
	require.NoError(t, err)

	_, err = New(store).AllocateNext(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.KindInternal, errors.KindOf(err))
}
