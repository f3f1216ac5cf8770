package record

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/backend"
	"github.com/roach88/kvsql/internal/backend/file"
	"github.com/roach88/kvsql/internal/backend/memory"
	"github.com/roach88/kvsql/internal/backend/sqlite"
	"github.com/roach88/kvsql/internal/testutil"
)

// TestAuthorsAndBooks runs the same library flow over every local
// backend.
func TestAuthorsAndBooks(t *testing.T) {
	backends := map[string]func(t *testing.T, clock *testutil.Clock) backend.Backend{
		"memory": func(t *testing.T, clock *testutil.Clock) backend.Backend {
			return memory.New(memory.WithClock(clock.Now), memory.WithLogger(quietLogger()))
		},
		"file": func(t *testing.T, clock *testutil.Clock) backend.Backend {
			b, err := file.New(t.TempDir(), "library", file.WithClock(clock.Now), file.WithLogger(quietLogger()))
			require.NoError(t, err)
			return b
		},
		"sqlite": func(t *testing.T, clock *testutil.Clock) backend.Backend {
			b, err := sqlite.Open(filepath.Join(t.TempDir(), "library.db"),
				sqlite.WithClock(clock.Now), sqlite.WithLogger(quietLogger()))
			require.NoError(t, err)
			return b
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := testutil.NewClock(testutil.Epoch)
			reg := NewRegistry(open(t, clock), WithClock(clock.Now), WithLogger(quietLogger()))
			t.Cleanup(func() { reg.Close() })

			authors, books := reg.Table("author"), reg.Table("book")

			hugo, err := authors.Create(ctx, map[string]any{"name": "Victor Hugo"})
			require.NoError(t, err)
			assert.Equal(t, int64(1), hugo.ID())

			book, err := books.Create(ctx, map[string]any{"title": "Les Misérables", "author_id": 1})
			require.NoError(t, err)
			assert.Equal(t, int64(1), book.ID())

			author, err := authors.Find(ctx, 1)
			require.NoError(t, err)
			res, err := author.Call(ctx, "books")
			require.NoError(t, err)
			assert.Equal(t, 1, count(t, res.(*Collection)))

			found, err := books.Find(ctx, 1)
			require.NoError(t, err)
			res, err = found.Call(ctx, "author")
			require.NoError(t, err)
			assert.Equal(t, "Victor Hugo", res.(*Record).Text("name"))

			clock.Advance(time.Minute)
			ok, err := found.SoftDelete(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			trashed, err := books.Find(ctx, 1)
			require.NoError(t, err)
			require.NotNil(t, trashed)
			assert.True(t, trashed.Trashed())
			at, ok := trashed.Time(FieldDeletedAt)
			require.True(t, ok)
			assert.Equal(t, clock.Now().Unix(), at.Unix())

			assert.Equal(t, 0, count(t, books.Query().Untrashed()))
			assert.Equal(t, 1, count(t, books.Query().Trashed()))
		})
	}
}
