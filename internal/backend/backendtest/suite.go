// Package backendtest is a conformance suite shared by every
// backend.Backend implementation.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/backend"
)

// Suite describes a backend under test.
type Suite struct {
	// New returns a fresh, empty backend. Cleanup is the caller's job
	// (typically via t.Cleanup).
	New func(t *testing.T) backend.Backend

	// Advance moves the backend's clock forward. When nil, checks that
	// need expired keys to disappear are skipped.
	Advance func(d time.Duration)

	// Now reports the backend's clock. Defaults to time.Now.
	Now func() time.Time
}

// Run executes every conformance check as a subtest.
func (s Suite) Run(t *testing.T) {
	if s.Now == nil {
		s.Now = time.Now
	}
	t.Run("Scalar", s.testScalar)
	t.Run("Counter", s.testCounter)
	t.Run("ConcurrentIncrement", s.testConcurrentIncrement)
	t.Run("Hash", s.testHash)
	t.Run("HashScan", s.testHashScan)
	t.Run("Set", s.testSet)
	t.Run("WrongType", s.testWrongType)
	t.Run("TransactionCommit", s.testTransactionCommit)
	t.Run("TransactionRollback", s.testTransactionRollback)
	t.Run("TransactionErrors", s.testTransactionErrors)
	t.Run("Expiry", s.testExpiry)
	t.Run("Keys", s.testKeys)
	t.Run("DestroyNamespace", s.testDestroy)
}

func (s Suite) testScalar(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	_, ok, err := b.Get(ctx, "t.k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "t.k", `{"a":1}`))
	v, ok, err := b.Get(ctx, "t.k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, v)

	exists, err := b.Exists(ctx, "t.k")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := b.Delete(ctx, "t.k", "t.missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err = b.Exists(ctx, "t.k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (s Suite) testCounter(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	for want := int64(1); want <= 3; want++ {
		got, err := b.Increment(ctx, "t.id")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := b.Decrement(ctx, "t.id")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	v, ok, err := b.Get(ctx, "t.id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func (s Suite) testConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	const workers = 20
	ids := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := b.Increment(ctx, "t.id")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
}

func (s Suite) testHash(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	require.NoError(t, b.HashSet(ctx, "t.rows", "1", "one"))
	require.NoError(t, b.HashSet(ctx, "t.rows", "2", "two"))
	require.NoError(t, b.HashSet(ctx, "t.rows", "1", "uno"))

	v, ok, err := b.HashGet(ctx, "t.rows", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "uno", v)

	_, ok, err = b.HashGet(ctx, "t.rows", "9")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := b.HashGetAll(ctx, "t.rows")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "uno", "2": "two"}, all)

	keys, err := b.HashKeys(ctx, "t.rows")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, keys)

	n, err := b.HashLen(ctx, "t.rows")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	c, err := b.HashIncrement(ctx, "t.counters", "hits", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c)
	c, err = b.HashIncrement(ctx, "t.counters", "hits", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c)

	deleted, err := b.HashDelete(ctx, "t.rows", "1", "9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	empty, err := b.HashGetAll(ctx, "t.none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func (s Suite) testHashScan(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	want := make(map[string]string)
	for i := 0; i < 25; i++ {
		f := fmt.Sprintf("user:%02d", i)
		want[f] = fmt.Sprint(i)
		require.NoError(t, b.HashSet(ctx, "t.scan", f, fmt.Sprint(i)))
	}
	require.NoError(t, b.HashSet(ctx, "t.scan", "other", "x"))

	got := make(map[string]string)
	var cursor uint64
	for rounds := 0; ; rounds++ {
		require.Less(t, rounds, 100, "scan did not terminate")
		page, err := b.HashScan(ctx, "t.scan", cursor, "user:*", 10)
		require.NoError(t, err)
		for _, e := range page.Entries {
			got[e.Field] = e.Value
		}
		if page.Cursor == 0 {
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, want, got)
}

func (s Suite) testSet(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	n, err := b.SetAdd(ctx, "t.a", "1", "2", "3", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	_, err = b.SetAdd(ctx, "t.b", "2", "3", "4")
	require.NoError(t, err)

	ok, err := b.SetIsMember(ctx, "t.a", "2")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := b.SetMembers(ctx, "t.a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, members)

	inter, err := b.Intersect(ctx, "t.a", "t.b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2", "3"}, inter)

	union, err := b.Union(ctx, "t.a", "t.b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3", "4"}, union)

	diff, err := b.Diff(ctx, "t.a", "t.b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1"}, diff)

	removed, err := b.SetRemove(ctx, "t.a", "1", "9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func (s Suite) testWrongType(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	require.NoError(t, b.Set(ctx, "t.scalar", "x"))
	_, _, err := b.HashGet(ctx, "t.scalar", "f")
	require.Error(t, err)
	assert.True(t, backend.IsCode(err, backend.CodeWrongType), "got %v", err)
}

func (s Suite) testTransactionCommit(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	require.NoError(t, b.Set(ctx, "t.keep", "before"))
	err := backend.Transaction(ctx, b, func(ctx context.Context) error {
		if err := b.Set(ctx, "t.keep", "after"); err != nil {
			return err
		}
		return b.HashSet(ctx, "t.rows", "1", "row")
	})
	require.NoError(t, err)

	v, _, err := b.Get(ctx, "t.keep")
	require.NoError(t, err)
	assert.Equal(t, "after", v)
	row, ok, err := b.HashGet(ctx, "t.rows", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "row", row)
}

func (s Suite) testTransactionRollback(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	require.NoError(t, b.Set(ctx, "t.keep", "before"))
	boom := errors.New("boom")
	err := backend.Transaction(ctx, b, func(ctx context.Context) error {
		if err := b.Set(ctx, "t.keep", "after"); err != nil {
			return err
		}
		if err := b.HashSet(ctx, "t.rows", "1", "row"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Same(t, boom, err, "callback error must be returned unchanged")

	v, _, err := b.Get(ctx, "t.keep")
	require.NoError(t, err)
	assert.Equal(t, "before", v)
	_, ok, err := b.HashGet(ctx, "t.rows", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	// The backend is usable for a new transaction afterwards.
	require.NoError(t, backend.Transaction(ctx, b, func(ctx context.Context) error {
		return b.Set(ctx, "t.keep", "again")
	}))
}

func (s Suite) testTransactionErrors(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	err := b.Commit(ctx)
	assert.ErrorIs(t, err, backend.ErrNoTx)
	err = b.Rollback(ctx)
	assert.ErrorIs(t, err, backend.ErrNoTx)

	require.NoError(t, b.BeginTransaction(ctx))
	err = b.BeginTransaction(ctx)
	assert.ErrorIs(t, err, backend.ErrTxActive)
	require.NoError(t, b.Rollback(ctx))

	assert.Panics(t, func() {
		_ = backend.Transaction(ctx, b, func(ctx context.Context) error {
			panic("inside transaction")
		})
	})
	require.NoError(t, b.BeginTransaction(ctx), "panic must still roll back")
	require.NoError(t, b.Commit(ctx))
}

func (s Suite) testExpiry(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	ts, err := b.ExpiryTimestamp(ctx, "t.none")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	require.NoError(t, b.Set(ctx, "t.plain", "v"))
	ts, err = b.ExpiryTimestamp(ctx, "t.plain")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	start := s.Now()
	require.NoError(t, b.SetWithTTL(ctx, "t.ttl", "v", time.Hour))
	ts, err = b.ExpiryTimestamp(ctx, "t.ttl")
	require.NoError(t, err)
	assert.InDelta(t, start.Add(time.Hour).Unix(), ts, 5)

	ok, err := b.ExpireAt(ctx, "t.plain", 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ts, err = b.ExpiryTimestamp(ctx, "t.plain")
	require.NoError(t, err)
	assert.InDelta(t, start.Add(2*time.Hour).Unix(), ts, 5)

	ok, err = b.ExpireAt(ctx, "t.none", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	if s.Advance == nil {
		return
	}
	s.Advance(90 * time.Minute)

	_, found, err := b.Get(ctx, "t.ttl")
	require.NoError(t, err)
	assert.False(t, found, "expired key must read as missing")
	_, found, err = b.Get(ctx, "t.plain")
	require.NoError(t, err)
	assert.True(t, found)
}

func (s Suite) testKeys(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	require.NoError(t, b.Set(ctx, "ns.users.rsql.kh.users.a", "1"))
	require.NoError(t, b.Set(ctx, "ns.users.rsql.kh.users.b", "2"))
	require.NoError(t, b.Set(ctx, "ns.posts.rsql.kh.posts.a", "3"))
	require.NoError(t, b.HashSet(ctx, "ns.users.rows", "1", "{}"))

	keys, err := b.Keys(ctx, "ns.users.rsql.kh.users.*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns.users.rsql.kh.users.a", "ns.users.rsql.kh.users.b"}, keys)

	keys, err = b.Keys(ctx, "ns.*")
	require.NoError(t, err)
	assert.Len(t, keys, 4)
}

func (s Suite) testDestroy(t *testing.T) {
	ctx := context.Background()
	b := s.New(t)

	require.NoError(t, b.Set(ctx, "ns.a", "1"))
	require.NoError(t, b.HashSet(ctx, "ns.rows", "1", "{}"))
	require.NoError(t, b.DestroyNamespace(ctx))

	keys, err := b.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The namespace is usable again after destruction.
	require.NoError(t, b.Set(ctx, "ns.a", "2"))
	v, ok, err := b.Get(ctx, "ns.a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}
