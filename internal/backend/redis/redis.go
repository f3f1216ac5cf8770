// Package redis implements backend.Backend on a Redis server via go-redis.
//
// Transactions queue writes in a MULTI/EXEC pipeline. While a transaction
// is open, reads and Increment/HashIncrement go straight to the server and
// do not observe queued writes, and write commands report zero counts
// because their replies only arrive at Commit.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/kvsql/internal/backend"
)

// Backend is a Redis-backed backend.Backend. Safe for concurrent use.
type Backend struct {
	client    *goredis.Client
	namespace string
	logger    *slog.Logger

	mu   sync.Mutex
	pipe goredis.Pipeliner // non-nil while a transaction is open
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger for transaction events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New wraps an existing client. namespace is the key prefix that
// DestroyNamespace removes.
func New(client *goredis.Client, namespace string, opts ...Option) *Backend {
	if namespace == "" {
		namespace = backend.DefaultPrefix
	}
	b := &Backend{client: client, namespace: namespace, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open parses a redis:// URL, connects and pings the server.
func Open(ctx context.Context, url, namespace string, opts ...Option) (*Backend, error) {
	options, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, backend.NewError(backend.CodeIO, "ping", "", err)
	}
	return New(client, namespace, opts...), nil
}

// Client returns the underlying go-redis client.
func (b *Backend) Client() *goredis.Client {
	return b.client
}

// writer returns the open transaction pipeline, or the client.
func (b *Backend) writer() goredis.Cmdable {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipe != nil {
		return b.pipe
	}
	return b.client
}

// wrap converts a go-redis error into a *backend.Error.
func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	code := backend.CodeIO
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		code = backend.CodeWrongType
	case strings.Contains(msg, "not an integer"):
		code = backend.CodeCorrupt
	}
	return backend.NewError(code, op, key, err)
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", key, err)
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.SetWithTTL(ctx, key, value, 0)
}

func (b *Backend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap("set", key, b.writer().Set(ctx, key, value, ttl).Err())
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return n > 0, nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cmd := b.writer().Del(ctx, keys...)
	if err := cmd.Err(); err != nil {
		return 0, wrap("del", strings.Join(keys, ","), err)
	}
	return cmd.Val(), nil
}

// Increment always executes immediately, even inside a transaction, so
// callers get a usable id.
func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	n, err := b.client.Incr(ctx, key).Result()
	return n, wrap("incr", key, err)
}

func (b *Backend) Decrement(ctx context.Context, key string) (int64, error) {
	n, err := b.client.Decr(ctx, key).Result()
	return n, wrap("decr", key, err)
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	return wrap("hset", key, b.writer().HSet(ctx, key, field, value).Err())
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := b.client.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("hget", key, err)
	}
	return v, true, nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("hgetall", key, err)
	}
	return m, nil
}

func (b *Backend) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	cmd := b.writer().HDel(ctx, key, fields...)
	if err := cmd.Err(); err != nil {
		return 0, wrap("hdel", key, err)
	}
	return cmd.Val(), nil
}

func (b *Backend) HashIncrement(ctx context.Context, key, field string, by int64) (int64, error) {
	n, err := b.client.HIncrBy(ctx, key, field, by).Result()
	return n, wrap("hincrby", key, err)
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	keys, err := b.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, wrap("hkeys", key, err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *Backend) HashLen(ctx context.Context, key string) (int64, error) {
	n, err := b.client.HLen(ctx, key).Result()
	return n, wrap("hlen", key, err)
}

func (b *Backend) HashScan(ctx context.Context, key string, cursor uint64, pattern string, count int64) (backend.ScanPage, error) {
	if pattern == "" {
		pattern = "*"
	}
	kv, next, err := b.client.HScan(ctx, key, cursor, pattern, count).Result()
	if err != nil {
		return backend.ScanPage{}, wrap("hscan", key, err)
	}
	page := backend.ScanPage{Cursor: next, Total: -1}
	for i := 0; i+1 < len(kv); i += 2 {
		page.Entries = append(page.Entries, backend.Entry{Field: kv[i], Value: kv[i+1]})
	}
	return page, nil
}

func toArgs(members []string) []any {
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

func (b *Backend) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	cmd := b.writer().SAdd(ctx, key, toArgs(members)...)
	if err := cmd.Err(); err != nil {
		return 0, wrap("sadd", key, err)
	}
	return cmd.Val(), nil
}

func (b *Backend) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	cmd := b.writer().SRem(ctx, key, toArgs(members)...)
	if err := cmd.Err(); err != nil {
		return 0, wrap("srem", key, err)
	}
	return cmd.Val(), nil
}

func (b *Backend) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, key, member).Result()
	return ok, wrap("sismember", key, err)
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap("smembers", key, err)
	}
	slices.Sort(members)
	return members, nil
}

func (b *Backend) Intersect(ctx context.Context, keys ...string) ([]string, error) {
	return b.setOp(ctx, "sinter", keys, b.client.SInter)
}

func (b *Backend) Union(ctx context.Context, keys ...string) ([]string, error) {
	return b.setOp(ctx, "sunion", keys, b.client.SUnion)
}

func (b *Backend) Diff(ctx context.Context, keys ...string) ([]string, error) {
	return b.setOp(ctx, "sdiff", keys, b.client.SDiff)
}

func (b *Backend) setOp(ctx context.Context, op string, keys []string, fn func(context.Context, ...string) *goredis.StringSliceCmd) ([]string, error) {
	if len(keys) == 0 {
		return []string{}, nil
	}
	out, err := fn(ctx, keys...).Result()
	if err != nil {
		return nil, wrap(op, strings.Join(keys, ","), err)
	}
	slices.Sort(out)
	return out, nil
}

func (b *Backend) BeginTransaction(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipe != nil {
		return backend.NewError(backend.CodeTx, "multi", "", backend.ErrTxActive)
	}
	b.pipe = b.client.TxPipeline()
	b.logger.Debug("redis transaction begun")
	return nil
}

func (b *Backend) Commit(ctx context.Context) error {
	b.mu.Lock()
	pipe := b.pipe
	b.pipe = nil
	b.mu.Unlock()
	if pipe == nil {
		return backend.NewError(backend.CodeTx, "exec", "", backend.ErrNoTx)
	}
	queued := pipe.Len()
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return backend.NewError(backend.CodeTx, "exec", "", err)
	}
	b.logger.Debug("redis transaction committed", "commands", queued)
	return nil
}

func (b *Backend) Rollback(ctx context.Context) error {
	b.mu.Lock()
	pipe := b.pipe
	b.pipe = nil
	b.mu.Unlock()
	if pipe == nil {
		return backend.NewError(backend.CodeTx, "discard", "", backend.ErrNoTx)
	}
	pipe.Discard()
	b.logger.Debug("redis transaction discarded")
	return nil
}

// ExpireAt sets a TTL on key; a TTL of zero or less removes any expiry.
func (b *Backend) ExpireAt(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var (
		ok  bool
		err error
	)
	if ttl <= 0 {
		exists, existsErr := b.Exists(ctx, key)
		if existsErr != nil || !exists {
			return false, existsErr
		}
		_, err = b.client.Persist(ctx, key).Result()
		ok = true
	} else {
		ok, err = b.client.Expire(ctx, key, ttl).Result()
	}
	return ok, wrap("expire", key, err)
}

func (b *Backend) ExpiryTimestamp(ctx context.Context, key string) (int64, error) {
	ttl, err := b.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap("ttl", key, err)
	}
	// -1 (no expiry) and -2 (missing) come back as raw negative durations.
	if ttl < 0 {
		return 0, nil
	}
	return time.Now().Add(ttl).Unix(), nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	out := []string{}
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan", pattern, err)
	}
	slices.Sort(out)
	return out, nil
}

func (b *Backend) DestroyNamespace(ctx context.Context) error {
	keys, err := b.Keys(ctx, b.namespace+".*")
	if err != nil {
		return err
	}
	for chunk := range slices.Chunk(keys, 500) {
		if err := b.client.Del(ctx, chunk...).Err(); err != nil {
			return wrap("del", b.namespace, err)
		}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
