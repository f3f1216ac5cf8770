package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/backend"
	"github.com/roach88/kvsql/internal/backend/backendtest"
)

// setupTestRedis connects to a local server on DB 15 and flushes it.
// Tests are skipped when no server is reachable.
func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	return client
}

func createTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(setupTestRedis(t), "ns", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestConformance(t *testing.T) {
	backendtest.Suite{
		New: func(t *testing.T) backend.Backend {
			return createTestBackend(t)
		},
	}.Run(t)
}

func TestIncrementRunsImmediatelyInTransaction(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.BeginTransaction(ctx))
	id, err := b.Increment(ctx, "ns.users.id")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.NoError(t, b.Rollback(ctx))

	// The counter is not part of the discarded pipeline.
	v, ok, err := b.Get(ctx, "ns.users.id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestQueuedWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.BeginTransaction(ctx))
	require.NoError(t, b.HashSet(ctx, "ns.users.rows", "1", "{}"))

	_, ok, err := b.HashGet(ctx, "ns.users.rows", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Commit(ctx))
	_, ok, err = b.HashGet(ctx, "ns.users.rows", "1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDestroyNamespaceKeepsOtherPrefixes(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.Set(ctx, "ns.a", "1"))
	require.NoError(t, b.Set(ctx, "other.a", "1"))
	require.NoError(t, b.DestroyNamespace(ctx))

	keys, err := b.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"other.a"}, keys)
}

func TestWrapClassifiesErrors(t *testing.T) {
	err := wrap("hget", "k", assert.AnError)
	assert.True(t, backend.IsCode(err, backend.CodeIO))
	assert.Nil(t, wrap("get", "k", nil))
}
