package record

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/backend/memory"
	"github.com/roach88/kvsql/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRegistry returns a registry over a fresh memory backend and a
// frozen clock at testutil.Epoch.
func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	b := memory.New(memory.WithClock(clock.Now), memory.WithLogger(quietLogger()))
	base := []Option{WithClock(clock.Now), WithLogger(quietLogger())}
	reg := NewRegistry(b, append(base, opts...)...)
	t.Cleanup(func() { reg.Close() })
	return reg, clock
}

// mustCreate creates a row and fails the test on error.
func mustCreate(t *testing.T, tbl *Table, data map[string]any) *Record {
	t.Helper()
	rec, err := tbl.Create(context.Background(), data)
	require.NoError(t, err)
	return rec
}

// texts plucks field as loose text.
func texts(t *testing.T, c *Collection, field string) []string {
	t.Helper()
	recs, err := c.All(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Text(field))
	}
	return out
}

func count(t *testing.T, c *Collection) int {
	t.Helper()
	n, err := c.Count(context.Background())
	require.NoError(t, err)
	return n
}
