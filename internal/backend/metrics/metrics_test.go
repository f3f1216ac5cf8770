package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/backend"
	"github.com/roach88/kvsql/internal/backend/backendtest"
	"github.com/roach88/kvsql/internal/backend/memory"
)

func newInstrumented(t *testing.T) (*Backend, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry(), "test")
	return Wrap(memory.New(), m), m
}

func TestConformance(t *testing.T) {
	backendtest.Suite{
		New: func(t *testing.T) backend.Backend {
			b, _ := newInstrumented(t)
			return b
		},
	}.Run(t)
}

func TestCountsOperationsByStatus(t *testing.T) {
	ctx := context.Background()
	b, m := newInstrumented(t)

	require.NoError(t, b.Set(ctx, "k", "v"))
	_, _, err := b.Get(ctx, "k")
	require.NoError(t, err)
	_, _, err = b.HashGet(ctx, "k", "f")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpCounter.WithLabelValues("set", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpCounter.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpCounter.WithLabelValues("hget", string(backend.CodeWrongType))))
}

func TestCountsAffectedKeys(t *testing.T) {
	ctx := context.Background()
	b, m := newInstrumented(t)

	_, err := b.SetAdd(ctx, "s", "a", "b", "c")
	require.NoError(t, err)
	_, err = b.SetAdd(ctx, "s", "a")
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.KeysTouched.WithLabelValues("sadd")))
}

func TestTracksOpenTransactions(t *testing.T) {
	ctx := context.Background()
	b, m := newInstrumented(t)

	require.NoError(t, b.BeginTransaction(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxInFlight))

	require.Error(t, b.BeginTransaction(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxInFlight))

	require.NoError(t, b.Commit(ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TxInFlight))

	require.ErrorIs(t, b.Rollback(ctx), backend.ErrNoTx)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TxInFlight))
}

func TestUnwrap(t *testing.T) {
	inner := memory.New()
	b := Wrap(inner, NewMetrics(prometheus.NewRegistry(), "unwrap"))
	assert.Same(t, inner, b.Unwrap())
}
