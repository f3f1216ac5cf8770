// Package metrics decorates a backend.Backend with Prometheus instruments.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/kvsql/internal/backend"
)

// Metrics holds Prometheus metrics for backend operations
type Metrics struct {
	OpCounter   *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	TxInFlight  prometheus.Gauge
	KeysTouched *prometheus.CounterVec
}

// NewMetrics registers backend metrics on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer, subsystem string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		OpCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kvsql",
				Subsystem: subsystem,
				Name:      "backend_ops_total",
				Help:      "Total number of backend operations",
			},
			[]string{"op", "status"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kvsql",
				Subsystem: subsystem,
				Name:      "backend_op_duration_seconds",
				Help:      "Backend operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		TxInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kvsql",
				Subsystem: subsystem,
				Name:      "transactions_in_flight",
				Help:      "Number of open backend transactions",
			},
		),
		KeysTouched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kvsql",
				Subsystem: subsystem,
				Name:      "backend_keys_affected_total",
				Help:      "Keys, fields or members reported changed by write operations",
			},
			[]string{"op"},
		),
	}
}

// statusOf labels an operation outcome: "ok", the backend error code, or
// "error" for anything else.
func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return string(be.Code)
	}
	return "error"
}

func observe[T any](m *Metrics, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	m.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.OpCounter.WithLabelValues(op, statusOf(err)).Inc()
	return v, err
}

func observeErr(m *Metrics, op string, fn func() error) error {
	_, err := observe(m, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func observeCount(m *Metrics, op string, fn func() (int64, error)) (int64, error) {
	n, err := observe(m, op, fn)
	if err == nil && n > 0 {
		m.KeysTouched.WithLabelValues(op).Add(float64(n))
	}
	return n, err
}

// Backend wraps another backend and records every call.
type Backend struct {
	next    backend.Backend
	metrics *Metrics
}

var _ backend.Backend = (*Backend)(nil)

// Wrap instruments next with m.
func Wrap(next backend.Backend, m *Metrics) *Backend {
	return &Backend{next: next, metrics: m}
}

// Unwrap returns the decorated backend.
func (b *Backend) Unwrap() backend.Backend {
	return b.next
}

type found struct {
	value string
	ok    bool
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := observe(b.metrics, "get", func() (found, error) {
		v, ok, err := b.next.Get(ctx, key)
		return found{v, ok}, err
	})
	return r.value, r.ok, err
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return observeErr(b.metrics, "set", func() error { return b.next.Set(ctx, key, value) })
}

func (b *Backend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return observeErr(b.metrics, "setex", func() error { return b.next.SetWithTTL(ctx, key, value, ttl) })
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	return observe(b.metrics, "exists", func() (bool, error) { return b.next.Exists(ctx, key) })
}

func (b *Backend) Delete(ctx context.Context, keys ...string) (int64, error) {
	return observeCount(b.metrics, "del", func() (int64, error) { return b.next.Delete(ctx, keys...) })
}

func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	return observe(b.metrics, "incr", func() (int64, error) { return b.next.Increment(ctx, key) })
}

func (b *Backend) Decrement(ctx context.Context, key string) (int64, error) {
	return observe(b.metrics, "decr", func() (int64, error) { return b.next.Decrement(ctx, key) })
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	return observeErr(b.metrics, "hset", func() error { return b.next.HashSet(ctx, key, field, value) })
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	r, err := observe(b.metrics, "hget", func() (found, error) {
		v, ok, err := b.next.HashGet(ctx, key, field)
		return found{v, ok}, err
	})
	return r.value, r.ok, err
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return observe(b.metrics, "hgetall", func() (map[string]string, error) { return b.next.HashGetAll(ctx, key) })
}

func (b *Backend) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	return observeCount(b.metrics, "hdel", func() (int64, error) { return b.next.HashDelete(ctx, key, fields...) })
}

func (b *Backend) HashIncrement(ctx context.Context, key, field string, by int64) (int64, error) {
	return observe(b.metrics, "hincrby", func() (int64, error) { return b.next.HashIncrement(ctx, key, field, by) })
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	return observe(b.metrics, "hkeys", func() ([]string, error) { return b.next.HashKeys(ctx, key) })
}

func (b *Backend) HashLen(ctx context.Context, key string) (int64, error) {
	return observe(b.metrics, "hlen", func() (int64, error) { return b.next.HashLen(ctx, key) })
}

func (b *Backend) HashScan(ctx context.Context, key string, cursor uint64, pattern string, count int64) (backend.ScanPage, error) {
	return observe(b.metrics, "hscan", func() (backend.ScanPage, error) {
		return b.next.HashScan(ctx, key, cursor, pattern, count)
	})
}

func (b *Backend) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	return observeCount(b.metrics, "sadd", func() (int64, error) { return b.next.SetAdd(ctx, key, members...) })
}

func (b *Backend) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	return observeCount(b.metrics, "srem", func() (int64, error) { return b.next.SetRemove(ctx, key, members...) })
}

func (b *Backend) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	return observe(b.metrics, "sismember", func() (bool, error) { return b.next.SetIsMember(ctx, key, member) })
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	return observe(b.metrics, "smembers", func() ([]string, error) { return b.next.SetMembers(ctx, key) })
}

func (b *Backend) Intersect(ctx context.Context, keys ...string) ([]string, error) {
	return observe(b.metrics, "sinter", func() ([]string, error) { return b.next.Intersect(ctx, keys...) })
}

func (b *Backend) Union(ctx context.Context, keys ...string) ([]string, error) {
	return observe(b.metrics, "sunion", func() ([]string, error) { return b.next.Union(ctx, keys...) })
}

func (b *Backend) Diff(ctx context.Context, keys ...string) ([]string, error) {
	return observe(b.metrics, "sdiff", func() ([]string, error) { return b.next.Diff(ctx, keys...) })
}

func (b *Backend) BeginTransaction(ctx context.Context) error {
	err := observeErr(b.metrics, "begin", func() error { return b.next.BeginTransaction(ctx) })
	if err == nil {
		b.metrics.TxInFlight.Inc()
	}
	return err
}

func (b *Backend) Commit(ctx context.Context) error {
	err := observeErr(b.metrics, "commit", func() error { return b.next.Commit(ctx) })
	if !errors.Is(err, backend.ErrNoTx) {
		b.metrics.TxInFlight.Dec()
	}
	return err
}

func (b *Backend) Rollback(ctx context.Context) error {
	err := observeErr(b.metrics, "rollback", func() error { return b.next.Rollback(ctx) })
	if !errors.Is(err, backend.ErrNoTx) {
		b.metrics.TxInFlight.Dec()
	}
	return err
}

func (b *Backend) ExpireAt(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return observe(b.metrics, "expire", func() (bool, error) { return b.next.ExpireAt(ctx, key, ttl) })
}

func (b *Backend) ExpiryTimestamp(ctx context.Context, key string) (int64, error) {
	return observe(b.metrics, "ttl", func() (int64, error) { return b.next.ExpiryTimestamp(ctx, key) })
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	return observe(b.metrics, "keys", func() ([]string, error) { return b.next.Keys(ctx, pattern) })
}

func (b *Backend) DestroyNamespace(ctx context.Context) error {
	return observeErr(b.metrics, "destroy", func() error { return b.next.DestroyNamespace(ctx) })
}

func (b *Backend) Close() error {
	return b.next.Close()
}
