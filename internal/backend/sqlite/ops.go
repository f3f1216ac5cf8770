package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/kvsql/internal/backend"
)

const (
	kindString = "string"
	kindHash   = "hash"
	kindSet    = "set"
)

// ioErr wraps a driver failure as a backend IO error.
func ioErr(op, key string, err error) error {
	return backend.NewError(backend.CodeIO, op, key, err)
}

// expiresAt converts a TTL into the stored expires_at column (unix millis,
// 0 for none).
func (b *Backend) expiresAt(ttl time.Duration) int64 {
	deadline := backend.ExpiryAfter(b.now(), ttl)
	if deadline.IsZero() {
		return 0
	}
	return deadline.UnixMilli()
}

// lookup returns the kind and scalar value of a live key. An expired key is
// deleted and reported missing. Caller must hold b.mu.
func (b *Backend) lookup(ctx context.Context, op, key string) (kind, value string, found bool, err error) {
	var expires int64
	err = b.q().QueryRowContext(ctx,
		`SELECT kind, value, expires_at FROM kv_keys WHERE key = ?`, key,
	).Scan(&kind, &value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, ioErr(op, key, err)
	}

	if expires > 0 && b.now().UnixMilli() >= expires {
		if _, err := b.q().ExecContext(ctx, `DELETE FROM kv_keys WHERE key = ?`, key); err != nil {
			return "", "", false, ioErr(op, key, err)
		}
		return "", "", false, nil
	}
	return kind, value, true, nil
}

// typed checks that key is missing or holds want, creating it when create
// is set. Caller must hold b.mu.
func (b *Backend) typed(ctx context.Context, op, key, want string, create bool) (value string, found bool, err error) {
	kind, value, found, err := b.lookup(ctx, op, key)
	if err != nil {
		return "", false, err
	}
	if found && kind != want {
		return "", false, backend.NewError(backend.CodeWrongType, op, key,
			fmt.Errorf("key holds a %s, not a %s", kind, want))
	}
	if !found && create {
		if _, err := b.q().ExecContext(ctx,
			`INSERT INTO kv_keys (key, kind) VALUES (?, ?)`, key, want,
		); err != nil {
			return "", false, ioErr(op, key, err)
		}
		return "", true, nil
	}
	return value, found, nil
}

// dropIfEmpty removes a hash or set key whose last field or member is gone.
func (b *Backend) dropIfEmpty(ctx context.Context, op, key, table string) error {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE key = ?`, table)
	if err := b.q().QueryRowContext(ctx, query, key).Scan(&n); err != nil {
		return ioErr(op, key, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := b.q().ExecContext(ctx, `DELETE FROM kv_keys WHERE key = ?`, key); err != nil {
		return ioErr(op, key, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typed(ctx, "get", key, kindString, false)
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.SetWithTTL(ctx, key, value, 0)
}

func (b *Backend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A scalar overwrites any previous kind, so clear dependent rows first.
	if _, err := b.q().ExecContext(ctx, `DELETE FROM kv_keys WHERE key = ?`, key); err != nil {
		return ioErr("set", key, err)
	}
	_, err := b.q().ExecContext(ctx,
		`INSERT INTO kv_keys (key, kind, value, expires_at) VALUES (?, ?, ?, ?)`,
		key, kindString, value, b.expiresAt(ttl),
	)
	if err != nil {
		return ioErr("set", key, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, found, err := b.lookup(ctx, "exists", key)
	return found, err
}

func (b *Backend) Delete(ctx context.Context, keys ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, key := range keys {
		_, _, found, err := b.lookup(ctx, "del", key)
		if err != nil {
			return n, err
		}
		if !found {
			continue
		}
		if _, err := b.q().ExecContext(ctx, `DELETE FROM kv_keys WHERE key = ?`, key); err != nil {
			return n, ioErr("del", key, err)
		}
		n++
	}
	return n, nil
}

func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	return b.incrBy(ctx, "incr", key, 1)
}

func (b *Backend) Decrement(ctx context.Context, key string) (int64, error) {
	return b.incrBy(ctx, "decr", key, -1)
}

func (b *Backend) incrBy(ctx context.Context, op, key string, by int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value, _, err := b.typed(ctx, op, key, kindString, true)
	if err != nil {
		return 0, err
	}
	var cur int64
	if value != "" {
		cur, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, backend.NewError(backend.CodeCorrupt, op, key, err)
		}
	}
	cur += by
	if _, err := b.q().ExecContext(ctx,
		`UPDATE kv_keys SET value = ? WHERE key = ?`, strconv.FormatInt(cur, 10), key,
	); err != nil {
		return 0, ioErr(op, key, err)
	}
	return cur, nil
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, _, err := b.typed(ctx, "hset", key, kindHash, true); err != nil {
		return err
	}
	_, err := b.q().ExecContext(ctx, `
		INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?)
		ON CONFLICT (key, field) DO UPDATE SET value = excluded.value
	`, key, field, value)
	if err != nil {
		return ioErr("hset", key, err)
	}
	return nil
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found, err := b.typed(ctx, "hget", key, kindHash, false); err != nil || !found {
		return "", false, err
	}
	return b.hashField(ctx, "hget", key, field)
}

// hashField reads one field. Caller must hold b.mu.
func (b *Backend) hashField(ctx context.Context, op, key, field string) (string, bool, error) {
	var value string
	err := b.q().QueryRowContext(ctx,
		`SELECT value FROM kv_hash WHERE key = ? AND field = ?`, key, field,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ioErr(op, key, err)
	}
	return value, true, nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hashAll(ctx, "hgetall", key)
}

// hashAll reads a whole hash. Caller must hold b.mu.
func (b *Backend) hashAll(ctx context.Context, op, key string) (map[string]string, error) {
	out := map[string]string{}
	if _, found, err := b.typed(ctx, op, key, kindHash, false); err != nil || !found {
		return out, err
	}

	rows, err := b.q().QueryContext(ctx, `SELECT field, value FROM kv_hash WHERE key = ?`, key)
	if err != nil {
		return nil, ioErr(op, key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, ioErr(op, key, err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(op, key, err)
	}
	return out, nil
}

func (b *Backend) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found, err := b.typed(ctx, "hdel", key, kindHash, false); err != nil || !found {
		return 0, err
	}

	var n int64
	for _, field := range fields {
		res, err := b.q().ExecContext(ctx, `DELETE FROM kv_hash WHERE key = ? AND field = ?`, key, field)
		if err != nil {
			return n, ioErr("hdel", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, ioErr("hdel", key, err)
		}
		n += affected
	}
	return n, b.dropIfEmpty(ctx, "hdel", key, "kv_hash")
}

func (b *Backend) HashIncrement(ctx context.Context, key, field string, by int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, _, err := b.typed(ctx, "hincrby", key, kindHash, true); err != nil {
		return 0, err
	}

	value, found, err := b.hashField(ctx, "hincrby", key, field)
	if err != nil {
		return 0, err
	}
	var cur int64
	if found {
		cur, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, backend.NewError(backend.CodeCorrupt, "hincrby", key, err)
		}
	}
	cur += by

	_, err = b.q().ExecContext(ctx, `
		INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?)
		ON CONFLICT (key, field) DO UPDATE SET value = excluded.value
	`, key, field, strconv.FormatInt(cur, 10))
	if err != nil {
		return 0, ioErr("hincrby", key, err)
	}
	return cur, nil
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found, err := b.typed(ctx, "hkeys", key, kindHash, false); err != nil || !found {
		return []string{}, err
	}
	return b.column(ctx, "hkeys", key, `SELECT field FROM kv_hash WHERE key = ? ORDER BY field`)
}

func (b *Backend) HashLen(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found, err := b.typed(ctx, "hlen", key, kindHash, false); err != nil || !found {
		return 0, err
	}
	var n int64
	if err := b.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_hash WHERE key = ?`, key).Scan(&n); err != nil {
		return 0, ioErr("hlen", key, err)
	}
	return n, nil
}

func (b *Backend) HashScan(ctx context.Context, key string, cursor uint64, pattern string, count int64) (backend.ScanPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.hashAll(ctx, "hscan", key)
	if err != nil {
		return backend.ScanPage{}, err
	}
	return backend.ScanMap(all, cursor, pattern, count), nil
}

// column collects a single-column result. Caller must hold b.mu.
func (b *Backend) column(ctx context.Context, op, key, query string, args ...any) ([]string, error) {
	if len(args) == 0 {
		args = []any{key}
	}
	rows, err := b.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr(op, key, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, ioErr(op, key, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(op, key, err)
	}
	return out, nil
}

func (b *Backend) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, _, err := b.typed(ctx, "sadd", key, kindSet, true); err != nil {
		return 0, err
	}

	var n int64
	for _, m := range members {
		res, err := b.q().ExecContext(ctx,
			`INSERT INTO kv_set (key, member) VALUES (?, ?) ON CONFLICT DO NOTHING`, key, m)
		if err != nil {
			return n, ioErr("sadd", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, ioErr("sadd", key, err)
		}
		n += affected
	}
	// SADD with no members must not leave an empty key behind.
	return n, b.dropIfEmpty(ctx, "sadd", key, "kv_set")
}

func (b *Backend) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found, err := b.typed(ctx, "srem", key, kindSet, false); err != nil || !found {
		return 0, err
	}

	var n int64
	for _, m := range members {
		res, err := b.q().ExecContext(ctx, `DELETE FROM kv_set WHERE key = ? AND member = ?`, key, m)
		if err != nil {
			return n, ioErr("srem", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, ioErr("srem", key, err)
		}
		n += affected
	}
	return n, b.dropIfEmpty(ctx, "srem", key, "kv_set")
}

func (b *Backend) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found, err := b.typed(ctx, "sismember", key, kindSet, false); err != nil || !found {
		return false, err
	}
	var n int64
	err := b.q().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_set WHERE key = ? AND member = ?`, key, member,
	).Scan(&n)
	if err != nil {
		return false, ioErr("sismember", key, err)
	}
	return n > 0, nil
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.members(ctx, "smembers", key)
}

// members returns the sorted members of a set. Caller must hold b.mu.
func (b *Backend) members(ctx context.Context, op, key string) ([]string, error) {
	if _, found, err := b.typed(ctx, op, key, kindSet, false); err != nil || !found {
		return []string{}, err
	}
	return b.column(ctx, op, key, `SELECT member FROM kv_set WHERE key = ? ORDER BY member`)
}

func (b *Backend) collect(ctx context.Context, op string, keys []string) ([][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sets := make([][]string, 0, len(keys))
	for _, key := range keys {
		m, err := b.members(ctx, op, key)
		if err != nil {
			return nil, err
		}
		sets = append(sets, m)
	}
	return sets, nil
}

func (b *Backend) Intersect(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect(ctx, "sinter", keys)
	if err != nil {
		return nil, err
	}
	return backend.IntersectSets(sets...), nil
}

func (b *Backend) Union(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect(ctx, "sunion", keys)
	if err != nil {
		return nil, err
	}
	return backend.UnionSets(sets...), nil
}

func (b *Backend) Diff(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect(ctx, "sdiff", keys)
	if err != nil {
		return nil, err
	}
	return backend.DiffSets(sets...), nil
}

func (b *Backend) ExpireAt(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, found, err := b.lookup(ctx, "expire", key)
	if err != nil || !found {
		return false, err
	}
	if _, err := b.q().ExecContext(ctx,
		`UPDATE kv_keys SET expires_at = ? WHERE key = ?`, b.expiresAt(ttl), key,
	); err != nil {
		return false, ioErr("expire", key, err)
	}
	return true, nil
}

func (b *Backend) ExpiryTimestamp(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, found, err := b.lookup(ctx, "ttl", key)
	if err != nil || !found {
		return 0, err
	}
	var expires int64
	if err := b.q().QueryRowContext(ctx,
		`SELECT expires_at FROM kv_keys WHERE key = ?`, key,
	).Scan(&expires); err != nil {
		return 0, ioErr("ttl", key, err)
	}
	if expires == 0 {
		return 0, nil
	}
	return time.UnixMilli(expires).Unix(), nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	candidates, err := b.column(ctx, "keys", "", `
		SELECT key FROM kv_keys
		WHERE expires_at = 0 OR expires_at > ?
		ORDER BY key
	`, b.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	out := []string{}
	for _, key := range candidates {
		if backend.Match(pattern, key) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (b *Backend) DestroyNamespace(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.q().ExecContext(ctx, `DELETE FROM kv_keys`); err != nil {
		return ioErr("destroy", "", err)
	}
	return nil
}
