// Package memory implements backend.Backend with in-process maps.
//
// Each Backend value is an isolated namespace. Transactions snapshot the
// whole state on begin and restore it on rollback.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/kvsql/internal/backend"
)

type kind int

const (
	kindString kind = iota
	kindHash
	kindSet
)

func (k kind) String() string {
	switch k {
	case kindHash:
		return "hash"
	case kindSet:
		return "set"
	}
	return "string"
}

type entry struct {
	kind    kind
	str     string
	hash    map[string]string
	set     map[string]struct{}
	expires time.Time
}

func (e *entry) clone() *entry {
	out := &entry{kind: e.kind, str: e.str, expires: e.expires}
	if e.hash != nil {
		out.hash = maps.Clone(e.hash)
	}
	if e.set != nil {
		out.set = maps.Clone(e.set)
	}
	return out
}

// Backend is an in-memory backend.Backend. Safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	data     map[string]*entry
	snapshot map[string]*entry // non-nil while a transaction is open
	now      func() time.Time
	logger   *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithLogger sets the logger for transaction events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates an empty in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		data:   make(map[string]*entry),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// lookup returns the live entry for key, evicting it if expired.
// Caller must hold b.mu.
func (b *Backend) lookup(key string) *entry {
	e, ok := b.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !b.now().Before(e.expires) {
		delete(b.data, key)
		return nil
	}
	return e
}

// typed returns the entry for key if it holds k, creating it when create
// is set. Caller must hold b.mu.
func (b *Backend) typed(op, key string, k kind, create bool) (*entry, error) {
	e := b.lookup(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: k}
		switch k {
		case kindHash:
			e.hash = make(map[string]string)
		case kindSet:
			e.set = make(map[string]struct{})
		}
		b.data[key] = e
		return e, nil
	}
	if e.kind != k {
		return nil, backend.NewError(backend.CodeWrongType, op, key,
			fmt.Errorf("key holds a %s, not a %s", e.kind, k))
	}
	return e, nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("get", key, kindString, false)
	if err != nil || e == nil {
		return "", false, err
	}
	return e.str, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.SetWithTTL(ctx, key, value, 0)
}

func (b *Backend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = &entry{kind: kindString, str: value, expires: backend.ExpiryAfter(b.now(), ttl)}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookup(key) != nil, nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, key := range keys {
		if b.lookup(key) != nil {
			delete(b.data, key)
			n++
		}
	}
	return n, nil
}

func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	return b.incrBy("incr", key, 1)
}

func (b *Backend) Decrement(ctx context.Context, key string) (int64, error) {
	return b.incrBy("decr", key, -1)
}

func (b *Backend) incrBy(op, key string, by int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed(op, key, kindString, true)
	if err != nil {
		return 0, err
	}
	var cur int64
	if e.str != "" {
		cur, err = strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, backend.NewError(backend.CodeCorrupt, op, key, err)
		}
	}
	cur += by
	e.str = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("hset", key, kindHash, true)
	if err != nil {
		return err
	}
	e.hash[field] = value
	return nil
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("hget", key, kindHash, false)
	if err != nil || e == nil {
		return "", false, err
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("hgetall", key, kindHash, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(e.hash), nil
}

func (b *Backend) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("hdel", key, kindHash, false)
	if err != nil || e == nil {
		return 0, err
	}
	var n int64
	for _, f := range fields {
		if _, ok := e.hash[f]; ok {
			delete(e.hash, f)
			n++
		}
	}
	if len(e.hash) == 0 {
		delete(b.data, key)
	}
	return n, nil
}

func (b *Backend) HashIncrement(ctx context.Context, key, field string, by int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("hincrby", key, kindHash, true)
	if err != nil {
		return 0, err
	}
	var cur int64
	if s, ok := e.hash[field]; ok {
		cur, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, backend.NewError(backend.CodeCorrupt, "hincrby", key, err)
		}
	}
	cur += by
	e.hash[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	all, err := b.HashGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(all)), nil
}

func (b *Backend) HashLen(ctx context.Context, key string) (int64, error) {
	all, err := b.HashGetAll(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

func (b *Backend) HashScan(ctx context.Context, key string, cursor uint64, pattern string, count int64) (backend.ScanPage, error) {
	all, err := b.HashGetAll(ctx, key)
	if err != nil {
		return backend.ScanPage{}, err
	}
	return backend.ScanMap(all, cursor, pattern, count), nil
}

func (b *Backend) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("sadd", key, kindSet, true)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, m := range members {
		if _, ok := e.set[m]; !ok {
			e.set[m] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (b *Backend) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("srem", key, kindSet, false)
	if err != nil || e == nil {
		return 0, err
	}
	var n int64
	for _, m := range members {
		if _, ok := e.set[m]; ok {
			delete(e.set, m)
			n++
		}
	}
	if len(e.set) == 0 {
		delete(b.data, key)
	}
	return n, nil
}

func (b *Backend) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.typed("sismember", key, kindSet, false)
	if err != nil || e == nil {
		return false, err
	}
	_, ok := e.set[member]
	return ok, nil
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.members("smembers", key)
}

// members returns the sorted members of a set. Caller must hold b.mu.
func (b *Backend) members(op, key string) ([]string, error) {
	e, err := b.typed(op, key, kindSet, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	return slices.Sorted(maps.Keys(e.set)), nil
}

func (b *Backend) collect(op string, keys []string) ([][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sets := make([][]string, 0, len(keys))
	for _, key := range keys {
		m, err := b.members(op, key)
		if err != nil {
			return nil, err
		}
		sets = append(sets, m)
	}
	return sets, nil
}

func (b *Backend) Intersect(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect("sinter", keys)
	if err != nil {
		return nil, err
	}
	return backend.IntersectSets(sets...), nil
}

func (b *Backend) Union(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect("sunion", keys)
	if err != nil {
		return nil, err
	}
	return backend.UnionSets(sets...), nil
}

func (b *Backend) Diff(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect("sdiff", keys)
	if err != nil {
		return nil, err
	}
	return backend.DiffSets(sets...), nil
}

func (b *Backend) BeginTransaction(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot != nil {
		return backend.NewError(backend.CodeTx, "begin", "", backend.ErrTxActive)
	}
	b.snapshot = cloneData(b.data)
	b.logger.Debug("memory transaction begun", "keys", len(b.data))
	return nil
}

func (b *Backend) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return backend.NewError(backend.CodeTx, "commit", "", backend.ErrNoTx)
	}
	b.snapshot = nil
	b.logger.Debug("memory transaction committed")
	return nil
}

func (b *Backend) Rollback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return backend.NewError(backend.CodeTx, "rollback", "", backend.ErrNoTx)
	}
	b.data = b.snapshot
	b.snapshot = nil
	b.logger.Debug("memory transaction rolled back")
	return nil
}

func cloneData(in map[string]*entry) map[string]*entry {
	out := make(map[string]*entry, len(in))
	for k, e := range in {
		out[k] = e.clone()
	}
	return out
}

func (b *Backend) ExpireAt(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.lookup(key)
	if e == nil {
		return false, nil
	}
	e.expires = backend.ExpiryAfter(b.now(), ttl)
	return true, nil
}

func (b *Backend) ExpiryTimestamp(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.lookup(key)
	if e == nil || e.expires.IsZero() {
		return 0, nil
	}
	return e.expires.Unix(), nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []string{}
	for key := range b.data {
		if b.lookup(key) != nil && backend.Match(pattern, key) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (b *Backend) DestroyNamespace(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string]*entry)
	return nil
}

// Close is a no-op; the data is dropped with the Backend.
func (b *Backend) Close() error {
	return nil
}
