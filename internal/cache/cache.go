package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/kvsql/internal/backend"
	"github.com/roach88/kvsql/internal/record"
)

// Cache stores JSON values under keys scoped to one table, on that table's
// backend.
type Cache struct {
	tbl    *record.Table
	ttl    time.Duration
	logger *slog.Logger
}

// New returns a cache for tbl. Entries expire after ttl; zero or less
// means never.
func New(tbl *record.Table, ttl time.Duration) *Cache {
	return &Cache{
		tbl:    tbl,
		ttl:    ttl,
		logger: tbl.Registry().Logger(),
	}
}

// Table returns the table the cache is scoped to.
func (c *Cache) Table() *record.Table {
	return c.tbl
}

func (c *Cache) key(k string) string {
	return c.tbl.Registry().Keyspace().Cache(c.tbl.Name(), k)
}

func (c *Cache) backend() backend.Backend {
	return c.tbl.Backend()
}

// Set stores value as JSON.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if c.ttl > 0 {
		return c.backend().SetWithTTL(ctx, c.key(key), string(data), c.ttl)
	}
	return c.backend().Set(ctx, c.key(key), string(data))
}

// Get decodes the entry for key into dst. It reports false on a miss,
// including an expired entry.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := c.backend().Get(ctx, c.key(key))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, backend.NewError(backend.CodeCorrupt, "cache get", c.key(key), err)
	}
	return true, nil
}

// Has reports whether a live entry exists for key.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	return c.backend().Exists(ctx, c.key(key))
}

// Forget removes the entry for key and reports whether there was one.
func (c *Cache) Forget(ctx context.Context, key string) (bool, error) {
	n, err := c.backend().Delete(ctx, c.key(key))
	return n > 0, err
}

// Flush removes every entry of the table's cache and returns how many
// were removed.
func (c *Cache) Flush(ctx context.Context) (int64, error) {
	b := c.backend()
	keys, err := b.Keys(ctx, c.tbl.Registry().Keyspace().CachePattern(c.tbl.Name()))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := b.Delete(ctx, keys...)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("cache flushed", "table", c.tbl.Name(), "entries", n)
	return n, nil
}

// GetOrCreate returns the cached value for key, or runs fn, stores its
// result and returns it. An error from fn is returned and nothing is
// stored.
func GetOrCreate[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	hit, err := c.Get(ctx, key, &v)
	if err != nil {
		return v, err
	}
	if hit {
		c.logger.Debug("cache hit", "table", c.tbl.Name(), "key", key)
		return v, nil
	}
	c.logger.Debug("cache miss", "table", c.tbl.Name(), "key", key)

	v, err = fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, v); err != nil {
		return v, err
	}
	return v, nil
}
