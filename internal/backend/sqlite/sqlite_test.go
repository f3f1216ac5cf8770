package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/backend"
	"github.com/roach88/kvsql/internal/backend/backendtest"
	"github.com/roach88/kvsql/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestBackend opens a fresh database in a temp dir.
func createTestBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kv.db")
	b, err := Open(path, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestConformance(t *testing.T) {
	clock := testutil.NewClock(testutil.Epoch)
	backendtest.Suite{
		New: func(t *testing.T) backend.Backend {
			return createTestBackend(t, WithClock(clock.Now))
		},
		Advance: clock.Advance,
		Now:     clock.Now,
	}.Run(t)
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "k", "v"))
	require.NoError(t, b.Close())

	for i := 0; i < 3; i++ {
		b, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		v, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)
		b.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "kv.db"))
	assert.Error(t, err)
}

func TestPragmasApplied(t *testing.T) {
	b := createTestBackend(t)

	assert.NoError(t, b.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, b.verifyPragma("synchronous", "1"))
	assert.NoError(t, b.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, b.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, b.verifyPragma("user_version", "1"))
}

func TestDeleteCascadesToHashFields(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.HashSet(ctx, "rows", "1", "a"))
	require.NoError(t, b.HashSet(ctx, "rows", "2", "b"))
	n, err := b.Delete(ctx, "rows")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var left int
	require.NoError(t, b.DB().QueryRow(`SELECT COUNT(*) FROM kv_hash`).Scan(&left))
	assert.Zero(t, left)
}

func TestSetReplacesHash(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.HashSet(ctx, "k", "f", "v"))
	require.NoError(t, b.Set(ctx, "k", "scalar"))

	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "scalar", v)
}

func TestIncrementOnCorruptCounter(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.Set(ctx, "users.id", "abc"))
	_, err := b.Increment(ctx, "users.id")
	require.Error(t, err)
	assert.True(t, backend.IsCode(err, backend.CodeCorrupt))
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)

	require.NoError(t, b.HashSet(ctx, "rows", "1", "x"))

	err := backend.Transaction(ctx, b, func(ctx context.Context) error {
		if _, err := b.HashDelete(ctx, "rows", "1"); err != nil {
			return err
		}
		if _, err := b.Increment(ctx, "id"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	v, ok, err := b.HashGet(ctx, "rows", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	ok, err = b.Exists(ctx, "id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryFailureIsIOError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewFromDB(db, WithLogger(quietLogger()))
	ctx := context.Background()

	mock.ExpectQuery("SELECT kind, value, expires_at FROM kv_keys").
		WithArgs("users.rows").
		WillReturnError(errors.New("disk I/O error"))

	_, _, err = b.HashGet(ctx, "users.rows", "1")
	require.Error(t, err)
	assert.True(t, backend.IsCode(err, backend.CodeIO))
	assert.Contains(t, err.Error(), "disk I/O error")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrongKindFromStoredRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewFromDB(db, WithLogger(quietLogger()))
	ctx := context.Background()

	mock.ExpectQuery("SELECT kind, value, expires_at FROM kv_keys").
		WithArgs("users.rows").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "value", "expires_at"}).
			AddRow("string", "1", 0))

	_, err = b.HashGetAll(ctx, "users.rows")
	require.Error(t, err)
	assert.True(t, backend.IsCode(err, backend.CodeWrongType))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailureIsTxError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewFromDB(db, WithLogger(quietLogger()))
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err = b.BeginTransaction(context.Background())
	require.Error(t, err)
	assert.True(t, backend.IsCode(err, backend.CodeTx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureIsTxError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewFromDB(db, WithLogger(quietLogger()))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("constraint failed"))

	require.NoError(t, b.BeginTransaction(ctx))
	err = b.Commit(ctx)
	require.Error(t, err)
	assert.True(t, backend.IsCode(err, backend.CodeTx))

	// The failed transaction is gone either way.
	assert.ErrorIs(t, b.Rollback(ctx), backend.ErrNoTx)

	require.NoError(t, mock.ExpectationsWereMet())
}
