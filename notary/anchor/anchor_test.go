package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LumeraProtocol/notary/notary/allocator"
	"github.com/LumeraProtocol/notary/notary/recordcache"
	"github.com/LumeraProtocol/notary/pkg/contentstore"
	"github.com/LumeraProtocol/notary/pkg/contentstore/local"
	notaryerrors "github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/ledger/simnet"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	"github.com/LumeraProtocol/notary/pkg/task"
	"github.com/LumeraProtocol/notary/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const sizeLimit = 4096

type fixture struct {
	svc     *Service
	ledger  *simnet.Ledger
	content *local.Store
	alloc   *allocator.Service
	cache   *recordcache.Cache
	tracker *task.InMemoryTracker
}

func testConfig() Config {
	return Config{
		SizeLimitBytes:       sizeLimit,
		MaxConcurrent:        4,
		ContentStoreTimeout:  5 * time.Second,
		LedgerTimeout:        5 * time.Second,
		MaxRetries:           1,
		RetryInitialInterval: time.Millisecond,
		Network:              ledger.NetworkParams{Depth: 3, MinWeightMagnitude: 9, Tag: "NOTARY"},
	}
}

func newCache(t *testing.T) *recordcache.Cache {
	t.Helper()
	c, err := recordcache.New(kvstore.NewMemoryStore(), 100)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newFixture(t *testing.T, fragmentSize int) *fixture {
	t.Helper()
	content, err := local.New(t.TempDir() + "/" + local.Filename)
	require.NoError(t, err)
	t.Cleanup(func() { content.Close() })

	f := &fixture{
		ledger:  simnet.New(simnet.Options{FragmentSize: fragmentSize}),
		content: content,
		alloc:   allocator.New(kvstore.NewMemoryStore()),
		cache:   newCache(t),
		tracker: task.New(),
	}
	f.svc = NewService(testConfig(), f.content, f.ledger, f.alloc, f.cache, f.tracker)
	return f
}

// withFreshCache returns a service sharing everything but the cache.
func (f *fixture) withFreshCache(t *testing.T) *Service {
	return NewService(testConfig(), f.content, f.ledger, f.alloc, newCache(t), f.tracker)
}

func (f *fixture) nextIndex(t *testing.T) (uint64, bool) {
	t.Helper()
	next, ok, err := f.alloc.Peek(context.Background())
	require.NoError(t, err)
	return next, ok
}

func submission(t *testing.T, name string, data []byte, alg utils.HashAlgorithm) *Submission {
	t.Helper()
	hash, err := utils.HashHex(alg, data)
	require.NoError(t, err)
	return &Submission{
		Name:          name,
		Description:   "test file " + name,
		SizeBytes:     uint64(len(data)),
		ModifiedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		HashAlgorithm: alg,
		DeclaredHash:  hash,
		Data:          data,
	}
}

func TestIngestThenVerifyHello(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.RecordID)
	assert.Equal(t, local.ContentID([]byte("hello")), res.ContentID)
	assert.NotEmpty(t, res.TaskID)

	v := f.svc.Verify(ctx, res.RecordID)
	require.True(t, v.IsValid, v.Message)
	assert.True(t, v.Success)
	assert.Equal(t, []byte("hello"), v.FileBytes)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", v.RecomputedFileHash)
	assert.Equal(t, res.ContentID, v.RecomputedContentHash)
	require.NotNil(t, v.Payload)
	assert.Equal(t, "a.txt", v.Payload.Name)
	assert.Equal(t, uint64(5), v.Payload.SizeBytes)
	assert.Equal(t, utils.SHA256, v.Payload.HashAlgorithm)

	assert.Empty(t, f.tracker.Snapshot())
}

func TestIngestThenVerifyAcrossAlgorithmsAndSizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)

	for _, alg := range []utils.HashAlgorithm{utils.SHA256, utils.SHA3256, utils.BLAKE3} {
		for _, size := range []int{1, 100, sizeLimit - 1} {
			t.Run(fmt.Sprintf("%s/%d", alg, size), func(t *testing.T) {
				data := make([]byte, size)
				for i := range data {
					data[i] = byte(i*7 + size)
				}
				res := f.svc.Ingest(ctx, submission(t, fmt.Sprintf("f-%d.bin", size), data, alg))
				require.True(t, res.Success, res.Message)

				v := f.svc.Verify(ctx, res.RecordID)
				require.True(t, v.IsValid, v.Message)
				assert.Equal(t, data, v.FileBytes)
				assert.True(t, utils.EqualHashHex(v.RecomputedFileHash, v.Payload.DeclaredHash))
			})
		}
	}
}

func TestVerifyResolvesAnyMemberOfABundle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 32)

	res := f.svc.Ingest(ctx, submission(t, "multi.txt", []byte("spans several ledger records"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	first, err := f.ledger.Fetch(ctx, res.RecordID)
	require.NoError(t, err)
	require.Greater(t, first.LastIndex, 1)
	group, err := f.ledger.FetchGroup(ctx, first.GroupID)
	require.NoError(t, err)
	member := group[len(group)-1].ID

	warm := f.svc.Verify(ctx, member)
	assert.True(t, warm.IsValid, warm.Message)

	cold := f.withFreshCache(t).Verify(ctx, member)
	assert.True(t, cold.IsValid, cold.Message)
	assert.Equal(t, "multi.txt", cold.Payload.Name)
}

func TestIngestHashMismatchHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	sub := submission(t, "a.txt", []byte("hello"), utils.SHA256)
	sub.DeclaredHash = strings.Repeat("ab", 32)

	res := f.svc.Ingest(ctx, sub)
	assert.False(t, res.Success)
	assert.Equal(t, notaryerrors.KindHashMismatch, res.Kind)
	assert.Contains(t, res.Message, "calculated as")
	assert.True(t, res.InputError())
	assert.False(t, res.Retryable())
	assert.Empty(t, res.RecordID)

	assert.Zero(t, f.ledger.Submissions())
	_, initialized := f.nextIndex(t)
	assert.False(t, initialized)
	st, err := f.content.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Blobs)
}

func TestIngestSizeChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	empty := f.svc.Ingest(ctx, submission(t, "empty", []byte{}, utils.SHA256))
	assert.False(t, empty.Success)
	assert.Equal(t, notaryerrors.KindEmptyFile, empty.Kind)

	tooLarge := f.svc.Ingest(ctx, submission(t, "big", make([]byte, sizeLimit), utils.SHA256))
	assert.False(t, tooLarge.Success)
	assert.Equal(t, notaryerrors.KindFileTooLarge, tooLarge.Kind)
	assert.True(t, tooLarge.InputError())

	assert.Zero(t, f.ledger.Submissions())
	_, initialized := f.nextIndex(t)
	assert.False(t, initialized)
}

func TestIngestValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	tests := []struct {
		name   string
		mutate func(s *Submission)
	}{
		{"missing name", func(s *Submission) { s.Name = "" }},
		{"unknown algorithm", func(s *Submission) { s.HashAlgorithm = "md5" }},
		{"hash not hex", func(s *Submission) { s.DeclaredHash = strings.Repeat("z", 64) }},
		{"declared size differs", func(s *Submission) { s.SizeBytes = 99 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := submission(t, "a.txt", []byte("hello"), utils.SHA256)
			tc.mutate(sub)
			res := f.svc.Ingest(ctx, sub)
			assert.False(t, res.Success)
			assert.Equal(t, notaryerrors.KindValidation, res.Kind)
		})
	}

	res := f.svc.Ingest(ctx, nil)
	assert.Equal(t, notaryerrors.KindValidation, res.Kind)
	assert.Zero(t, f.ledger.Submissions())
}

func TestIngestContentStoreUnavailableAllocatesNothing(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	content := contentstore.NewMockStore(ctrl)
	content.EXPECT().Put(gomock.Any(), []byte("hello")).Return("", assert.AnError).Times(2)

	f := newFixture(t, 0)
	svc := NewService(testConfig(), content, f.ledger, f.alloc, f.cache, nil)

	res := svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	assert.False(t, res.Success)
	assert.Equal(t, notaryerrors.KindContentStoreUnavailable, res.Kind)
	assert.True(t, res.Retryable())
	assert.False(t, res.InputError())

	_, initialized := f.nextIndex(t)
	assert.False(t, initialized)
}

func TestIngestLedgerFailureConsumesIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.ledger.SetReachable(false)

	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	assert.False(t, res.Success)
	assert.Equal(t, notaryerrors.KindLedgerUnavailable, res.Kind)
	assert.Contains(t, res.Message, "index 0 consumed")
	assert.NotEmpty(t, res.ContentID)

	next, _ := f.nextIndex(t)
	assert.Equal(t, uint64(1), next)

	f.ledger.SetReachable(true)
	res = f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)
	next, _ = f.nextIndex(t)
	assert.Equal(t, uint64(2), next)
}

func TestIngestCancelledBeforeAllocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, 0)

	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	assert.False(t, res.Success)
	_, initialized := f.nextIndex(t)
	assert.False(t, initialized)
	assert.Zero(t, f.ledger.Submissions())
}

type panicAllocator struct{}

func (panicAllocator) AllocateNext(context.Context) (allocator.Allocation, error) {
	panic("allocator exploded")
}

func TestIngestRecoversFromPanics(t *testing.T) {
	f := newFixture(t, 0)
	svc := NewService(testConfig(), f.content, f.ledger, panicAllocator{}, f.cache, nil)

	res := svc.Ingest(context.Background(), submission(t, "a.txt", []byte("hello"), utils.SHA256))
	assert.False(t, res.Success)
	assert.Equal(t, notaryerrors.KindInternal, res.Kind)
	assert.Contains(t, res.Message, "allocator exploded")
}

func TestConcurrentIngestsUseDistinctIndices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	const n = 20

	var wg sync.WaitGroup
	results := make([]IngestResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Ingest(ctx, submission(t, fmt.Sprintf("f%d", i), []byte(fmt.Sprintf("payload %d", i)), utils.SHA256))
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, res := range results {
		require.True(t, res.Success, res.Message)
		assert.False(t, seen[res.RecordID])
		seen[res.RecordID] = true
	}
	next, _ := f.nextIndex(t)
	assert.Equal(t, uint64(n), next)
	assert.Equal(t, int64(n), f.ledger.Submissions())
}

func TestIngestStreamEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	var got []EventType
	res := f.svc.IngestStream(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256), func(ev *Event) error {
		got = append(got, ev.Type)
		return nil
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []EventType{
		EventTypeHashVerified,
		EventTypeContentStored,
		EventTypeAddressAllocated,
		EventTypePayloadEncoded,
		EventTypeSubmitted,
		EventTypeRecordsCached,
	}, got)
}

func TestIngestStreamObserverFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("before allocation aborts", func(t *testing.T) {
		f := newFixture(t, 0)
		res := f.svc.IngestStream(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256), func(ev *Event) error {
			if ev.Type == EventTypeContentStored {
				return errors.New("client went away")
			}
			return nil
		})
		assert.False(t, res.Success)
		_, initialized := f.nextIndex(t)
		assert.False(t, initialized)
	})

	t.Run("after allocation completes", func(t *testing.T) {
		f := newFixture(t, 0)
		res := f.svc.IngestStream(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256), func(ev *Event) error {
			if ev.Type >= EventTypeAddressAllocated {
				return errors.New("client went away")
			}
			return nil
		})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, int64(1), f.ledger.Submissions())
	})
}

func TestVerifyWithColdCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	cache := newCache(t)
	svc := NewService(testConfig(), f.content, f.ledger, f.alloc, cache, nil)
	_, ok, err := cache.GetRecord(ctx, res.RecordID)
	require.NoError(t, err)
	require.False(t, ok)

	v := svc.Verify(ctx, res.RecordID)
	require.True(t, v.IsValid, v.Message)

	_, ok, err = cache.GetRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyServedFromCacheWhenLedgerDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	f.ledger.SetReachable(false)
	v := f.svc.Verify(ctx, res.RecordID)
	assert.True(t, v.IsValid, v.Message)

	cold := f.withFreshCache(t).Verify(ctx, res.RecordID)
	assert.False(t, cold.IsValid)
	assert.Equal(t, notaryerrors.KindLedgerUnavailable, cold.Kind)
}

func TestVerifyMissingContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)
	require.NoError(t, f.content.Delete(ctx, res.ContentID))

	v := f.svc.Verify(ctx, res.RecordID)
	assert.False(t, v.IsValid)
	assert.False(t, v.Success)
	assert.Equal(t, notaryerrors.KindNotFound, v.Kind)
	assert.Contains(t, v.Message, "content store")
	require.NotNil(t, v.Payload)
	assert.Equal(t, "a.txt", v.Payload.Name)
	assert.Nil(t, v.FileBytes)
}

func TestVerifyDetectsTamperedContent(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	content := contentstore.NewMockStore(ctrl)
	content.EXPECT().Put(gomock.Any(), []byte("hello")).Return("cid-1", nil)
	content.EXPECT().Get(gomock.Any(), "cid-1").Return([]byte("jello"), nil)

	f := newFixture(t, 0)
	svc := NewService(testConfig(), content, f.ledger, f.alloc, f.cache, nil)
	res := svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	v := svc.Verify(ctx, res.RecordID)
	assert.False(t, v.IsValid)
	assert.Equal(t, notaryerrors.KindHashMismatch, v.Kind)
	jello, err := utils.HashHex(utils.SHA256, []byte("jello"))
	require.NoError(t, err)
	assert.Equal(t, jello, v.RecomputedFileHash)
	assert.Equal(t, []byte("jello"), v.FileBytes)
	assert.Empty(t, v.RecomputedContentHash)
}

func TestVerifyForeignRecordIsMalformed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	seed, err := ledger.NewSeed()
	require.NoError(t, err)
	addr, err := f.ledger.DeriveAddress(seed, 0)
	require.NoError(t, err)
	ids, err := f.ledger.Submit(ctx, addr, ledger.BytesToTrytes([]byte("someone else's data")), ledger.NetworkParams{})
	require.NoError(t, err)

	v := f.svc.Verify(ctx, ids[0])
	assert.False(t, v.IsValid)
	assert.Equal(t, notaryerrors.KindMalformedPayload, v.Kind)
	assert.Nil(t, v.Payload)
}

func TestVerifyUnknownAndEmptyIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	v := f.svc.Verify(ctx, strings.Repeat("A", ledger.HashTrytesLength))
	assert.False(t, v.IsValid)
	assert.Equal(t, notaryerrors.KindNotFound, v.Kind)

	v = f.svc.Verify(ctx, " ")
	assert.Equal(t, notaryerrors.KindValidation, v.Kind)
}

func TestConcurrentVerifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := f.svc.Verify(ctx, res.RecordID)
			assert.True(t, v.IsValid, v.Message)
			if len(v.FileBytes) > 0 {
				v.FileBytes[0] = 'X'
			}
		}()
	}
	wg.Wait()

	v := f.svc.Verify(ctx, res.RecordID)
	assert.Equal(t, []byte("hello"), v.FileBytes)
}

func TestVerifyResultsAreIndependentCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	first := f.svc.Verify(ctx, res.RecordID)
	second := f.svc.Verify(ctx, res.RecordID)
	require.NotNil(t, first.Payload)
	require.NotNil(t, second.Payload)
	assert.NotSame(t, first.Payload, second.Payload)

	first.Payload.Name = "changed"
	assert.Equal(t, "a.txt", second.Payload.Name)
}

func TestIngestLeavesSubmissionUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	sub := submission(t, "a.txt", []byte("hello"), utils.SHA256)
	sub.SizeBytes = 0
	res := f.svc.Ingest(ctx, sub)
	require.True(t, res.Success, res.Message)
	assert.Zero(t, sub.SizeBytes)

	v := f.svc.Verify(ctx, res.RecordID)
	require.True(t, v.IsValid, v.Message)
	assert.Equal(t, uint64(5), v.Payload.SizeBytes)
}

// idFailingStore is a store whose id recomputation always fails.
type idFailingStore struct {
	contentstore.Store
}

func (idFailingStore) IDFor(context.Context, []byte) (string, error) {
	return "", errors.New("only-hash not supported")
}

// plainStore hides IDFor from the wrapped store.
type plainStore struct {
	contentstore.Store
}

func TestVerifyContentIDRecomputation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	res := f.svc.Ingest(ctx, submission(t, "a.txt", []byte("hello"), utils.SHA256))
	require.True(t, res.Success, res.Message)

	tests := []struct {
		name  string
		store contentstore.Store
		want  string
	}{
		{"store derives ids", f.content, res.ContentID},
		{"recomputation fails", idFailingStore{f.content}, ""},
		{"store cannot derive ids", plainStore{f.content}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(testConfig(), tc.store, f.ledger, f.alloc, f.cache, f.tracker)
			v := svc.Verify(ctx, res.RecordID)
			require.True(t, v.IsValid, v.Message)
			assert.Equal(t, tc.want, v.RecomputedContentHash)
		})
	}
}
