package simnet

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T, l *Ledger, index uint64) string {
	t.Helper()
	seed, err := ledger.NewSeed()
	require.NoError(t, err)
	addr, err := l.DeriveAddress(seed, index)
	require.NoError(t, err)
	return addr
}

func TestSubmitChainsFragmentsIntoOneBundle(t *testing.T) {
	ctx := context.Background()
	l := New(Options{FragmentSize: 10})
	addr := testAddress(t, l, 0)

	msg := ledger.BytesToTrytes([]byte("a message longer than one fragment"))
	ids, err := l.Submit(ctx, addr, msg, ledger.NetworkParams{Depth: 3, MinWeightMagnitude: 9, Tag: "NOTARY"})
	require.NoError(t, err)
	require.Len(t, ids, (len(msg)+9)/10)

	first, err := l.Fetch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, len(ids)-1, first.LastIndex)
	assert.Equal(t, "NOTARY", first.Tag)

	group, err := l.FetchGroup(ctx, first.GroupID)
	require.NoError(t, err)
	require.Len(t, group, len(ids))

	var sb strings.Builder
	for i, rec := range group {
		assert.Equal(t, ids[i], rec.ID)
		assert.Equal(t, i, rec.Index)
		sb.WriteString(rec.Message)
	}
	assert.Equal(t, msg, sb.String())
	assert.Equal(t, int64(1), l.Submissions())
}

func TestSubmitRejectsSpentAddress(t *testing.T) {
	ctx := context.Background()
	l := New(Options{})
	addr := testAddress(t, l, 0)
	msg := ledger.BytesToTrytes([]byte("{}"))

	_, err := l.Submit(ctx, addr, msg, ledger.NetworkParams{})
	require.NoError(t, err)
	_, err = l.Submit(ctx, addr, msg, ledger.NetworkParams{})
	assert.ErrorIs(t, err, ledger.ErrAddressSpent)
}

func TestConcurrentSpendsOfOneAddressHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	l := New(Options{})
	addr := testAddress(t, l, 5)
	msg := ledger.BytesToTrytes([]byte("race"))

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Submit(ctx, addr, msg, ledger.NetworkParams{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ledger.ErrAddressSpent)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestUnknownIdsAndUnreachable(t *testing.T) {
	ctx := context.Background()
	l := New(Options{})

	_, err := l.Fetch(ctx, strings.Repeat("9", ledger.HashTrytesLength))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = l.FetchGroup(ctx, "NOPE")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	l.SetReachable(false)
	assert.False(t, l.IsReachable(ctx))
	_, err = l.Submit(ctx, "anchor1xyz", "AB", ledger.NetworkParams{})
	assert.ErrorIs(t, err, ledger.ErrUnreachable)
	_, err = l.Fetch(ctx, "X")
	assert.ErrorIs(t, err, ledger.ErrUnreachable)

	l.SetReachable(true)
	assert.True(t, l.IsReachable(ctx))
}

func TestSubmitValidatesInput(t *testing.T) {
	ctx := context.Background()
	l := New(Options{})
	_, err := l.Submit(ctx, "", "AB", ledger.NetworkParams{})
	assert.Error(t, err)
	_, err = l.Submit(ctx, "anchor1abc", "not trytes", ledger.NetworkParams{})
	assert.Error(t, err)
	_, err = l.Submit(ctx, "anchor1abc", "AB", ledger.NetworkParams{MinWeightMagnitude: -1})
	assert.Error(t, err)
}

func TestPersistsThroughSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "simnet.db")

	store, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	l := New(Options{Store: store})
	addr := testAddress(t, l, 0)
	ids, err := l.Submit(ctx, addr, ledger.BytesToTrytes([]byte("durable")), ledger.NetworkParams{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := kvstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	l2 := New(Options{Store: reopened})

	rec, err := l2.Fetch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.BytesToTrytes([]byte("durable")), rec.Message)

	_, err = l2.Submit(ctx, addr, "AB", ledger.NetworkParams{})
	assert.ErrorIs(t, err, ledger.ErrAddressSpent)
}
